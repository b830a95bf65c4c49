package onebot

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"post_type":"notice"}`)
	valid := Sign("s3cret", body)

	tests := []struct {
		name   string
		secret string
		header string
		want   bool
	}{
		{"valid", "s3cret", valid, true},
		{"no secret configured", "", "", true},
		{"missing header", "s3cret", "", false},
		{"missing prefix", "s3cret", valid[len("sha1="):], false},
		{"not hex", "s3cret", "sha1=zz", false},
		{"wrong secret", "other", valid, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, VerifySignature(tt.secret, body, tt.header))
		})
	}

	assert.False(t, VerifySignature("s3cret", []byte(`{"post_type":"message"}`), valid))
}
