package geocode

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"San Francisco, CA, USA", "san francisco"},
		{"  San   Francisco  ", "san francisco"},
		{"New York, NY", "new york"},
		{"London, United Kingdom", "london"},
		{"Berlin, Germany", "berlin"},
		{"São Paulo, Brazil", "sao paulo"},
		{"Zürich", "zurich"},
		{"Austin, TX (Remote)", "austin"},
		{"Seattle - Remote", "seattle"},
		{"Remote - Denver, CO", "denver"},
		{"Boston, MA, United States of America", "boston"},
		{"Remote", ""},
		{"Fully Remote", ""},
		{"", ""},
		{"Nowhereville, Qzx", "nowhereville"},
		{"Notremote", "notremote"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}
