package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignAndVerifyRoundTrip(t *testing.T) {
	body := []byte(`{"event":"message.created"}`)
	secret := "top-secret"

	sig := SignPayload(body, secret)
	assert.Contains(t, sig, "sha256=")
	require.NoError(t, VerifySignature(body, sig, secret))
}

func TestVerifySignatureRejectsTamperedBody(t *testing.T) {
	body := []byte(`{"amount":10}`)
	sig := SignPayload(body, "s3cret")

	err := VerifySignature([]byte(`{"amount":10000}`), sig, "s3cret")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mismatch")
}

func TestVerifySignatureRejectsWrongSecret(t *testing.T) {
	body := []byte("hello")
	sig := SignPayload(body, "right")
	assert.Error(t, VerifySignature(body, sig, "wrong"))
}

func TestVerifySignatureRejectsMalformedHeaders(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"empty", ""},
		{"no prefix", "deadbeef"},
		{"wrong algorithm", "sha1=deadbeef"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, VerifySignature([]byte("body"), tt.header, "secret"))
		})
	}
}

func TestValidateFilePath(t *testing.T) {
	assert.NoError(t, ValidateFilePath("/var/lib/chatflow/app.db"))
	assert.NoError(t, ValidateFilePath("data/app.db"))
	assert.Error(t, ValidateFilePath(""))
	assert.Error(t, ValidateFilePath("../../etc/passwd"))
}
