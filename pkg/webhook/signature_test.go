package webhook

import "testing"

func TestVerifyRoundTrip(t *testing.T) {
	secret := "test-webhook-secret"
	manifest := BuildManifest("12345", "req-abc", "1704908010")
	header := "ts=1704908010,v1=" + Sign(secret, manifest)

	if !Verify(secret, header, "req-abc", "12345") {
		t.Fatalf("expected valid signature to verify")
	}
}

func TestVerifyRejectsTamperedHash(t *testing.T) {
	secret := "test-webhook-secret"
	manifest := BuildManifest("12345", "req-abc", "1704908010")
	hash := Sign(secret, manifest)

	// Flip one hex character.
	flipped := "0"
	if hash[0] == '0' {
		flipped = "1"
	}
	tampered := "ts=1704908010,v1=" + flipped + hash[1:]

	if Verify(secret, tampered, "req-abc", "12345") {
		t.Fatalf("expected tampered signature to fail")
	}
}

func TestVerifyRejectsWrongField(t *testing.T) {
	secret := "test-webhook-secret"
	manifest := BuildManifest("12345", "req-abc", "1704908010")
	header := "ts=1704908010,v1=" + Sign(secret, manifest)

	if Verify(secret, header, "req-abc", "99999") {
		t.Fatalf("expected signature over different data id to fail")
	}
	if Verify(secret, header, "req-other", "12345") {
		t.Fatalf("expected signature over different request id to fail")
	}
}

func TestVerifyFailsClosed(t *testing.T) {
	secret := "test-webhook-secret"
	manifest := BuildManifest("12345", "req-abc", "1704908010")
	valid := "ts=1704908010,v1=" + Sign(secret, manifest)

	cases := []struct {
		name   string
		secret string
		header string
	}{
		{"empty secret", "", valid},
		{"empty header", secret, ""},
		{"missing ts", secret, "v1=" + Sign(secret, manifest)},
		{"missing hash", secret, "ts=1704908010"},
		{"non-hex hash", secret, "ts=1704908010,v1=not-hex-at-all"},
		{"short hash", secret, "ts=1704908010,v1=deadbeef"},
	}
	for _, tc := range cases {
		if Verify(tc.secret, tc.header, "req-abc", "12345") {
			t.Fatalf("%s: expected verification to fail", tc.name)
		}
	}
}

func TestBuildManifestSkipsAbsentFields(t *testing.T) {
	manifest := BuildManifest("", "req-abc", "1704908010")
	if manifest != "request-id:req-abc;ts:1704908010;" {
		t.Fatalf("unexpected manifest %q", manifest)
	}

	full := BuildManifest("123", "req-abc", "1704908010")
	if full != "id:123;request-id:req-abc;ts:1704908010;" {
		t.Fatalf("unexpected manifest %q", full)
	}
}
