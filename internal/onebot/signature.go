package onebot

import (
	"crypto/hmac"
	"crypto/sha1" //nolint:gosec // OneBot v11 signs posts with HMAC-SHA1
	"encoding/hex"
	"strings"
)

// SignatureHeader carries "sha1=<hex hmac>" of the raw post body.
const SignatureHeader = "X-Signature"

// Sign returns the header value for body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write(body)
	return "sha1=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks header against body. An empty secret disables
// verification.
func VerifySignature(secret string, body []byte, header string) bool {
	if secret == "" {
		return true
	}
	got, ok := strings.CutPrefix(header, "sha1=")
	if !ok {
		return false
	}
	sig, err := hex.DecodeString(got)
	if err != nil {
		return false
	}
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(sig, mac.Sum(nil))
}
