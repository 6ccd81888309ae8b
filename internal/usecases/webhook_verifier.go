package usecases

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

const SubscribeMode = "subscribe"

// VerifySubscription answers the provider's subscription handshake. It returns
// the challenge and true only for mode "subscribe" with the expected token.
func VerifySubscription(mode, token, challenge, expected string) (string, bool) {
	if mode != SubscribeMode || expected == "" {
		return "", false
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
		return "", false
	}
	return challenge, true
}

// VerifyHubSignature checks an X-Hub-Signature-256 header ("sha256=<hex>")
// against the HMAC of body under the app secret.
func VerifyHubSignature(body []byte, header, appSecret string) bool {
	hexSig, ok := strings.CutPrefix(header, "sha256=")
	if !ok || appSecret == "" {
		return false
	}
	got, err := hex.DecodeString(hexSig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}
