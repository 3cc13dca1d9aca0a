package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// ErrInvalidSignature is returned when a confirmation's checksum does not
// match the server-side recomputation.
var ErrInvalidSignature = errors.New("invalid payment signature")

// Verifier authenticates gateway payment confirmations. The gateway signs
// the canonical string "orderID|paymentRef" with HMAC-SHA256 under the
// shared key secret; the verifier recomputes it and compares in constant
// time.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify checks the hex-encoded signature over orderID and paymentRef.
func (v *Verifier) Verify(orderID, paymentRef, signature string) error {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(orderID + "|" + paymentRef))
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrInvalidSignature
	}
	return nil
}

// Sign produces the signature the gateway would send. Used by tests and
// local tooling.
func (v *Verifier) Sign(orderID, paymentRef string) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(orderID + "|" + paymentRef))
	return hex.EncodeToString(mac.Sum(nil))
}
