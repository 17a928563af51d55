package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PromCollector mirrors a Snapshot into Prometheus gauges/counters on
// every scrape, so operators who run a Prometheus stack don't need a
// second polling loop against the JSON snapshot endpoint.
type PromCollector struct {
	m *Metrics

	requestsTotal       *prometheus.Desc
	requestsDetected     *prometheus.Desc
	requestsPassthrough  *prometheus.Desc
	errorsDetect         *prometheus.Desc
	errorsVault          *prometheus.Desc
	errorsLicense        *prometheus.Desc
	tokensMinted         *prometheus.Desc
	tokensDetokenized    *prometheus.Desc
	llmCacheHits         *prometheus.Desc
	llmCacheMisses       *prometheus.Desc
	ollamaDispatches     *prometheus.Desc
	licenseValidations   *prometheus.Desc
	licenseRejections    *prometheus.Desc
	rateLimitRejects     *prometheus.Desc
	uptimeSeconds        *prometheus.Desc
}

// NewPromCollector wraps m as a prometheus.Collector.
func NewPromCollector(m *Metrics) *PromCollector {
	return &PromCollector{
		m:                   m,
		requestsTotal:       prometheus.NewDesc("promptshield_requests_total", "Total requests handled.", nil, nil),
		requestsDetected:    prometheus.NewDesc("promptshield_requests_detected_total", "Requests that ran PII detection.", nil, nil),
		requestsPassthrough: prometheus.NewDesc("promptshield_requests_passthrough_total", "Requests passed through without detection.", nil, nil),
		errorsDetect:        prometheus.NewDesc("promptshield_errors_detect_total", "Detection pipeline errors.", nil, nil),
		errorsVault:         prometheus.NewDesc("promptshield_errors_vault_total", "Vault operation errors.", nil, nil),
		errorsLicense:       prometheus.NewDesc("promptshield_errors_license_total", "License operation errors.", nil, nil),
		tokensMinted:        prometheus.NewDesc("promptshield_tokens_minted_total", "Tokens minted.", nil, nil),
		tokensDetokenized:   prometheus.NewDesc("promptshield_tokens_detokenized_total", "Tokens resolved back to plaintext.", nil, nil),
		llmCacheHits:        prometheus.NewDesc("promptshield_llm_cache_hits_total", "LLM suggestion cache hits.", nil, nil),
		llmCacheMisses:      prometheus.NewDesc("promptshield_llm_cache_misses_total", "LLM suggestion cache misses.", nil, nil),
		ollamaDispatches:    prometheus.NewDesc("promptshield_llm_dispatches_total", "Async LLM queries dispatched.", nil, nil),
		licenseValidations:  prometheus.NewDesc("promptshield_license_validations_total", "License validations performed.", nil, nil),
		licenseRejections:   prometheus.NewDesc("promptshield_license_rejections_total", "License validations rejected.", nil, nil),
		rateLimitRejects:    prometheus.NewDesc("promptshield_rate_limit_rejects_total", "Requests rejected by the rate limiter.", nil, nil),
		uptimeSeconds:       prometheus.NewDesc("promptshield_uptime_seconds", "Process uptime in seconds.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *PromCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.requestsTotal
	ch <- c.requestsDetected
	ch <- c.requestsPassthrough
	ch <- c.errorsDetect
	ch <- c.errorsVault
	ch <- c.errorsLicense
	ch <- c.tokensMinted
	ch <- c.tokensDetokenized
	ch <- c.llmCacheHits
	ch <- c.llmCacheMisses
	ch <- c.ollamaDispatches
	ch <- c.licenseValidations
	ch <- c.licenseRejections
	ch <- c.rateLimitRejects
	ch <- c.uptimeSeconds
}

// Collect implements prometheus.Collector.
func (c *PromCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.m.Snapshot()
	ch <- prometheus.MustNewConstMetric(c.requestsTotal, prometheus.CounterValue, float64(s.Requests.Total))
	ch <- prometheus.MustNewConstMetric(c.requestsDetected, prometheus.CounterValue, float64(s.Requests.Detected))
	ch <- prometheus.MustNewConstMetric(c.requestsPassthrough, prometheus.CounterValue, float64(s.Requests.Passthrough))
	ch <- prometheus.MustNewConstMetric(c.errorsDetect, prometheus.CounterValue, float64(s.Errors.Detect))
	ch <- prometheus.MustNewConstMetric(c.errorsVault, prometheus.CounterValue, float64(s.Errors.Vault))
	ch <- prometheus.MustNewConstMetric(c.errorsLicense, prometheus.CounterValue, float64(s.Errors.License))
	ch <- prometheus.MustNewConstMetric(c.tokensMinted, prometheus.CounterValue, float64(s.Tokens.Minted))
	ch <- prometheus.MustNewConstMetric(c.tokensDetokenized, prometheus.CounterValue, float64(s.Tokens.Detokenized))
	ch <- prometheus.MustNewConstMetric(c.llmCacheHits, prometheus.CounterValue, float64(s.LLMCache.Hits))
	ch <- prometheus.MustNewConstMetric(c.llmCacheMisses, prometheus.CounterValue, float64(s.LLMCache.Misses))
	ch <- prometheus.MustNewConstMetric(c.ollamaDispatches, prometheus.CounterValue, float64(s.LLMCache.OllamaDispatches))
	ch <- prometheus.MustNewConstMetric(c.licenseValidations, prometheus.CounterValue, float64(s.License.Validations))
	ch <- prometheus.MustNewConstMetric(c.licenseRejections, prometheus.CounterValue, float64(s.License.Rejections))
	ch <- prometheus.MustNewConstMetric(c.rateLimitRejects, prometheus.CounterValue, float64(s.License.RateLimitRejects))
	ch <- prometheus.MustNewConstMetric(c.uptimeSeconds, prometheus.GaugeValue, s.UptimeSecs)
}
