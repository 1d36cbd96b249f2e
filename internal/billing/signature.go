package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/axolop/axolop-crm/internal/shared"
)

// SignatureHeader carries hex(HMAC-SHA256(secret, body)).
const SignatureHeader = "X-Axolop-Signature"

// Sign returns the signature expected for payload.
func Sign(secret, payload []byte) string {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks provided against the payload signature in constant time.
func VerifySignature(secret, payload []byte, provided string) error {
	provided = strings.TrimSpace(strings.TrimPrefix(provided, "sha256="))
	if provided == "" {
		return fmt.Errorf("%w: missing %s", shared.ErrInvalidSignature, SignatureHeader)
	}
	if !hmac.Equal([]byte(strings.ToLower(provided)), []byte(Sign(secret, payload))) {
		return shared.ErrInvalidSignature
	}
	return nil
}
