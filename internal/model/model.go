// Package model holds the shared data types that flow between the
// detection pipeline, the vault, and the licensing components. None of
// these types carry behavior beyond small, side-effect-free helpers —
// the packages that own an operation (geometry, merge, vault, license/*)
// live elsewhere.
package model

import (
	"strings"
	"time"
)

// PIIType is the closed set of PII categories. Locally extended types
// used only by the vault layer (e.g. a catch-all "SECRET" type minted
// outside the detection pipeline) are represented as additional string
// values and are valid wherever PIIType is accepted.
type PIIType string

const (
	PIIPerson   PIIType = "PERSON"
	PIIOrg      PIIType = "ORG"
	PIILocation PIIType = "LOCATION"
	PIIAddress  PIIType = "ADDRESS"
	PIIEmail    PIIType = "EMAIL"
	PIIPhone    PIIType = "PHONE"
	PIIDate     PIIType = "DATE"
	PIIIDNumber PIIType = "ID-NUMBER"
	PIIMoney    PIIType = "MONEY"
)

// tokenMnemonic is the short, uppercase-letters-only mnemonic embedded
// in a minted token string, e.g. [ANON_EMAIL_deadbeefcafe].
var tokenMnemonic = map[PIIType]string{
	PIIPerson:   "PERSON",
	PIIOrg:      "ORG",
	PIILocation: "LOC",
	PIIAddress:  "ADDR",
	PIIEmail:    "EMAIL",
	PIIPhone:    "PHONE",
	PIIDate:     "DATE",
	PIIIDNumber: "ID",
	PIIMoney:    "MONEY",
}

// Mnemonic returns the token-embeddable short form for a PII type.
// Unknown/extended types fall back to their own uppercased value, so the
// vault can mint tokens for types the detection pipeline never produces.
func (t PIIType) Mnemonic() string {
	if m, ok := tokenMnemonic[t]; ok {
		return m
	}
	return strings.ToUpper(string(t))
}

// DetectionSource identifies which detector produced a Detection.
type DetectionSource string

const (
	SourceRegex DetectionSource = "REGEX"
	SourceNER   DetectionSource = "NER"
	SourceLLM   DetectionSource = "LLM"
)

// Action is the disposition assigned to a PIIRegion during merge.
type Action string

const (
	ActionTokenize Action = "TOKENIZE"
	ActionRedact   Action = "REDACT"
	ActionIgnore   Action = "IGNORE"
)

// BBox is a rectangle in page coordinate space. Invariant: X1 > X0 and
// Y1 > Y0; callers constructing a BBox are responsible for holding it.
type BBox struct {
	X0 float64 `json:"x0"`
	Y0 float64 `json:"y0"`
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
}

// Width returns X1-X0.
func (b BBox) Width() float64 { return b.X1 - b.X0 }

// Height returns Y1-Y0.
func (b BBox) Height() float64 { return b.Y1 - b.Y0 }

// Area returns the rectangle's area.
func (b BBox) Area() float64 { return b.Width() * b.Height() }

// CenterX returns the horizontal midpoint.
func (b BBox) CenterX() float64 { return (b.X0 + b.X1) / 2 }

// CenterY returns the vertical midpoint.
func (b BBox) CenterY() float64 { return (b.Y0 + b.Y1) / 2 }

// OverlapArea returns the area of intersection between b and o, or 0 if
// they don't overlap.
func (b BBox) OverlapArea(o BBox) (float64, bool) {
	x0 := max(b.X0, o.X0)
	y0 := max(b.Y0, o.Y0)
	x1 := min(b.X1, o.X1)
	y1 := min(b.Y1, o.Y1)
	if x1 <= x0 || y1 <= y0 {
		return 0, false
	}
	return (x1 - x0) * (y1 - y0), true
}

// TextBlock is a page-level observation: a run of text at a known
// location with the extractor's or OCR engine's confidence in it.
type TextBlock struct {
	Text             string  `json:"text"`
	BBox             BBox    `json:"bbox"`
	SourceConfidence float64 `json:"source_confidence"`
	// Start/End are this block's offset range into the owning page's
	// FullText, used by merge's bbox-attachment step to look up the
	// blocks a character span intersects.
	Start int `json:"start"`
	End   int `json:"end"`
}

// PageData is one page of a document: authoritative full text plus the
// text blocks bboxes are reconstructed from.
type PageData struct {
	PageNumber int         `json:"page_number"`
	Width      float64     `json:"width"`
	Height     float64     `json:"height"`
	FullText   string      `json:"full_text"`
	TextBlocks []TextBlock `json:"text_blocks"`
}

// Rect returns the page's own bounding box, origin at (0,0).
func (p PageData) Rect() BBox {
	return BBox{X0: 0, Y0: 0, X1: p.Width, Y1: p.Height}
}

// Detection is a single detector hit before merge: a half-open offset
// range into a page's FullText, not yet attached to a bbox.
type Detection struct {
	PIIType    PIIType         `json:"pii_type"`
	Text       string          `json:"text"`
	Start      int             `json:"start"`
	End        int             `json:"end"`
	Confidence float64         `json:"confidence"`
	Source     DetectionSource `json:"source"`
	BBox       *BBox           `json:"bbox,omitempty"`
}

// PIIRegion is a Detection after merge: a resolved bbox, a stable id
// (stable across redetection so user overrides to Action persist), and
// an assigned Action.
type PIIRegion struct {
	Detection
	ID         string `json:"id"`
	PageNumber int    `json:"page_number"`
	Action     Action `json:"action"`
}

// Token is one vault entry: the minted token string and the plaintext
// it resolves to, scoped to the source document it was minted for.
type Token struct {
	TokenString    string    `json:"token_string"`
	PIIType        PIIType   `json:"pii_type"`
	Plaintext      string    `json:"plaintext"`
	SourceDocument string    `json:"source_document"`
	CreatedAt      time.Time `json:"created_at"`
}

// ManifestEntry is one row of a document's token manifest: the
// plaintext-bearing record written out alongside anonymized output so
// a token can be resolved without the vault itself, mirroring the
// source's save_manifest token dicts.
type ManifestEntry struct {
	Token     string    `json:"token"`
	PIIType   PIIType   `json:"pii_type"`
	Plaintext string    `json:"plaintext"`
	CreatedAt time.Time `json:"created_at"`
}

// LicenseBlob is the decoded payload half of a signed license, plus the
// raw encoded form for transport/storage.
type LicenseBlob struct {
	Email     string    `json:"email"`
	Plan      string    `json:"plan"`
	Seats     int       `json:"seats"`
	MachineID string    `json:"machine_id"`
	Issued    time.Time `json:"issued"`
	Expires   time.Time `json:"expires"`
	V         int       `json:"v"`
}

// SubscriptionRecord is a billing subscription's seat-relevant state.
type SubscriptionRecord struct {
	ID          string     `json:"id"`
	Plan        string     `json:"plan"`
	Status      string     `json:"status"`
	Seats       int        `json:"seats"`
	PeriodStart time.Time  `json:"period_start"`
	PeriodEnd   time.Time  `json:"period_end"`
	TrialEnd    *time.Time `json:"trial_end,omitempty"`
	OwnerEmail  string     `json:"owner_email"`
}

// MachineRegistration is one activated-machine row for a subscription.
// Unique on (SubscriptionID, MachineFingerprint).
type MachineRegistration struct {
	SubscriptionID     string    `json:"subscription_id"`
	MachineFingerprint string    `json:"machine_fingerprint"`
	MachineName        string    `json:"machine_name"`
	ActivatedAt        time.Time `json:"activated_at"`
	LastValidated      time.Time `json:"last_validated"`
	Active             bool      `json:"active"`
}

// TrialMachine records that a machine fingerprint has claimed its
// one-time trial. The row is write-once; FirstTrialAt is never reset.
type TrialMachine struct {
	MachineFingerprint string    `json:"machine_fingerprint"`
	FirstTrialAt       time.Time `json:"first_trial_at"`
	UserEmail          string    `json:"user_email,omitempty"`
}

// User is an account in the license server. PasswordHash is never
// serialized back to a client.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	FullName     string    `json:"full_name"`
	IsActive     bool      `json:"is_active"`
	TrialUsed    bool      `json:"trial_used"`
	CreatedAt    time.Time `json:"created_at"`
}
