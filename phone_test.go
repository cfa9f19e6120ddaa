package auth_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	auth "github.com/goliatone/go-workorder-auth"
)

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{raw: "", want: ""},
		{raw: "  ", want: ""},
		{raw: "(415) 555-2671", want: "+14155552671"},
		{raw: "+1 415 555 2671", want: "+14155552671"},
		{raw: "+44 20 7946 0958", want: "+442079460958"},
		{raw: "555-0100", want: "5550100"},
		{raw: "+555-0100", want: "+5550100"},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, auth.NormalizePhone(tt.raw))
		})
	}
}

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "alice@x.com", auth.NormalizeEmail("  Alice@X.com "))
}
