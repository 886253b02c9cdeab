package meta

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
)

const SubscribeMode = "subscribe"

var (
	ErrVerificationFailed = errors.New("webhook verification failed")
	ErrMissingSignature   = errors.New("missing signature")
	ErrInvalidSignature   = errors.New("invalid signature")
)

// VerifyChallenge answers the GET subscription handshake. The token must
// match exactly; anything else is rejected.
func VerifyChallenge(mode, token, challenge, expectedToken string) (string, error) {
	if mode != SubscribeMode || expectedToken == "" {
		return "", ErrVerificationFailed
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(expectedToken)) != 1 {
		return "", ErrVerificationFailed
	}
	return challenge, nil
}

// VerifySignature checks the X-Hub-Signature-256 header ("sha256=<hex>")
// against an HMAC of the raw body.
func VerifySignature(body []byte, header, appSecret string) error {
	if header == "" {
		return ErrMissingSignature
	}
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return ErrInvalidSignature
	}
	expected := Sign(body, appSecret)
	if !hmac.Equal([]byte(sig), []byte(expected)) {
		return ErrInvalidSignature
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of body.
func Sign(body []byte, appSecret string) string {
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
