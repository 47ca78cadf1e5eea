package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSuffixOrder(t *testing.T) {
	tests := []struct {
		name       string
		configured []string
		candidate  string
		expected   []string
	}{
		{
			name:       "configured candidate moves to front",
			configured: []string{"@a.com", "@b.com"},
			candidate:  "b.com",
			expected:   []string{"@b.com", "@a.com"},
		},
		{
			name:      "candidate alone when nothing configured",
			candidate: "a.com",
			expected:  []string{"@a.com"},
		},
		{
			name:       "unknown candidate leaves order unchanged",
			configured: []string{"@a.com", "@b.com"},
			candidate:  "c.com",
			expected:   []string{"@a.com", "@b.com"},
		},
		{
			name:     "nothing to try",
			expected: []string{},
		},
		{
			name:       "entries are normalised and deduplicated",
			configured: []string{" A.com ", "@a.com", "", "@", "b.COM"},
			expected:   []string{"@a.com", "@b.com"},
		},
		{
			name:       "candidate already first",
			configured: []string{"@a.com", "@b.com"},
			candidate:  "@A.com",
			expected:   []string{"@a.com", "@b.com"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SuffixOrder(tt.configured, tt.candidate))
		})
	}
}

func TestSuffixOrder_DoesNotMutateInput(t *testing.T) {
	configured := []string{"@a.com", "@b.com"}
	SuffixOrder(configured, "b.com")
	assert.Equal(t, []string{"@a.com", "@b.com"}, configured)
}
