package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// The provider signs notifications with HMAC-SHA256 over a manifest built
// from the fields present on the request, each rendered as "key:value;" in
// a fixed order. The signature header looks like:
//
//	ts=1704908010,v1=618c85345248dd820d5fd456117c2ab2ef8eda45a0282ff693eac24131a5e839
//
// Verification fails closed: a missing ts, a missing or malformed hash, or
// an empty secret all reject the request.

// BuildManifest assembles the signed string from the present fields.
func BuildManifest(dataID, requestID, ts string) string {
	var b strings.Builder
	if dataID != "" {
		b.WriteString("id:")
		b.WriteString(dataID)
		b.WriteString(";")
	}
	if requestID != "" {
		b.WriteString("request-id:")
		b.WriteString(requestID)
		b.WriteString(";")
	}
	if ts != "" {
		b.WriteString("ts:")
		b.WriteString(ts)
		b.WriteString(";")
	}
	return b.String()
}

// Sign computes the hex HMAC for a manifest. Exported for tests and for
// local tooling that replays notifications.
func Sign(secret, manifest string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(manifest))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks an inbound signature header against the shared secret.
// The comparison is constant time; a direct byte comparison would leak
// matching-prefix length through timing.
func Verify(secret, signatureHeader, requestID, dataID string) bool {
	if secret == "" || signatureHeader == "" {
		return false
	}

	ts, receivedHex := parseSignatureHeader(signatureHeader)
	if ts == "" || receivedHex == "" {
		return false
	}

	received, err := hex.DecodeString(receivedHex)
	if err != nil || len(received) != sha256.Size {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(BuildManifest(dataID, requestID, ts)))
	expected := mac.Sum(nil)

	return hmac.Equal(expected, received)
}

// parseSignatureHeader extracts ts and v1 from the comma-separated
// key=value segments. Unknown segments are ignored.
func parseSignatureHeader(header string) (ts, hash string) {
	for _, segment := range strings.Split(header, ",") {
		parts := strings.SplitN(segment, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		switch key {
		case "ts":
			ts = value
		case "v1":
			hash = value
		}
	}
	return ts, hash
}
