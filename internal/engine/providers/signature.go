package providers

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// verifyHMACSHA256 recomputes the HMAC over the exact raw body and
// compares it to the header-supplied value in constant time.
func verifyHMACSHA256(secret string, body []byte, supplied, prefix string) error {
	if supplied == "" {
		return ErrBadSignature
	}
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)
	expected := prefix + hex.EncodeToString(h.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(supplied)) {
		return ErrBadSignature
	}
	return nil
}

// verifySharedToken compares a plain shared token header (GitLab style)
// in constant time.
func verifySharedToken(secret, supplied string) error {
	if supplied == "" {
		return ErrBadSignature
	}
	if subtle.ConstantTimeCompare([]byte(secret), []byte(supplied)) != 1 {
		return ErrBadSignature
	}
	return nil
}
