package apperr

import (
	"errors"
	"net/http"
	"testing"
)

func TestHTTPStatus_KnownCodes(t *testing.T) {
	cases := []struct {
		code Code
		want int
	}{
		{InvalidInput, http.StatusBadRequest},
		{VaultLocked, http.StatusForbidden},
		{NotFound, http.StatusNotFound},
		{SeatsExhausted, http.StatusConflict},
		{TrialUsed, http.StatusConflict},
		{RateLimited, http.StatusTooManyRequests},
		{Internal, http.StatusInternalServerError},
	}
	for _, c := range cases {
		err := New(c.code, "detail")
		if got := HTTPStatus(err); got != c.want {
			t.Errorf("HTTPStatus(%s) = %d, want %d", c.code, got, c.want)
		}
	}
}

func TestHTTPStatus_NonTaxonomyErrorDefaultsInternal(t *testing.T) {
	if got := HTTPStatus(errors.New("boom")); got != http.StatusInternalServerError {
		t.Errorf("HTTPStatus(plain error) = %d, want 500", got)
	}
}

func TestResponseBody_InternalHidesCause(t *testing.T) {
	err := Wrap(Internal, "db write failed", errors.New("pq: secret connection string leaked"))
	body := ResponseBody(err)
	if body.Detail != "internal error" {
		t.Errorf("internal error detail leaked: %q", body.Detail)
	}
}

func TestResponseBody_PassesThroughNonInternalDetail(t *testing.T) {
	err := New(WrongMachine, "fingerprint does not match activation record")
	body := ResponseBody(err)
	if body.Detail != "fingerprint does not match activation record" {
		t.Errorf("unexpected detail: %q", body.Detail)
	}
}

func TestAs_UnwrapsWrappedCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap(VaultCorrupt, "read header", cause)
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find wrapped cause")
	}
	e, ok := As(err)
	if !ok || e.Code != VaultCorrupt {
		t.Errorf("As() = %v, %v; want VaultCorrupt error", e, ok)
	}
}
