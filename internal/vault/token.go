package vault

import (
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/text/unicode/norm"

	"promptshield/internal/model"
)

// maxCollisionRetries bounds the salted re-derivation attempts before a
// truncation collision is treated as a fatal configuration error (§4.7).
const maxCollisionRetries = 16

// hexDigits is the number of hex characters kept from the HMAC-BLAKE2b
// digest when building a token string.
const hexDigits = 12

// normalizePlaintext applies NFKC normalization, collapses internal
// whitespace to a single space, trims, and — for PII types whose
// canonical form is case-insensitive (EMAIL) — lowercases, so that
// "Foo@Bar.com" and "foo@bar.com" mint and resolve to the same token.
func normalizePlaintext(piiType model.PIIType, s string) string {
	s = norm.NFKC.String(s)
	s = strings.Join(strings.Fields(s), " ")
	s = strings.TrimSpace(s)
	if piiType == model.PIIEmail {
		s = strings.ToLower(s)
	}
	return s
}

// plaintextHash returns the reverse-index key for a normalized
// plaintext value, independent of the per-vault minting key so the
// idempotent-mint lookup doesn't require re-deriving a keyed digest.
func plaintextHash(piiType model.PIIType, normalized string) string {
	sum := blake2b.Sum256([]byte(string(piiType) + "\x00" + normalized))
	return hex.EncodeToString(sum[:])
}

// deriveTokenHex computes the HMAC-BLAKE2b digest over
// pii_type || 0x00 || normalized plaintext, keyed by the vault's
// per-index subkey, truncated to hexDigits hex characters. attempt>0
// appends a collision counter byte to the keyed input before hashing.
func deriveTokenHex(indexKey []byte, piiType model.PIIType, normalized string, attempt int) (string, error) {
	mac, err := blake2b.New256(indexKey)
	if err != nil {
		return "", fmt.Errorf("init keyed hash: %w", err)
	}
	mac.Write([]byte(string(piiType)))
	mac.Write([]byte{0})
	mac.Write([]byte(normalized))
	if attempt > 0 {
		mac.Write([]byte{byte(attempt)})
	}
	sum := mac.Sum(nil)
	return hex.EncodeToString(sum)[:hexDigits], nil
}

// tokenRegexp builds the token-matching pattern for a configured
// prefix, matching §6's `\[PREFIX_[A-Z]+_[0-9a-f]{12}\]` with named
// capture groups for TYPE and HEX.
func tokenRegexp(prefix string) *regexp.Regexp {
	pattern := fmt.Sprintf(`\[%s_(?P<TYPE>[A-Z]+)_(?P<HEX>[0-9a-f]{%d})\]`, regexp.QuoteMeta(prefix), hexDigits)
	return regexp.MustCompile(pattern)
}

// formatToken renders a token string from its components.
func formatToken(prefix string, piiType model.PIIType, hexDigest string) string {
	return fmt.Sprintf("[%s_%s_%s]", prefix, piiType.Mnemonic(), hexDigest)
}
