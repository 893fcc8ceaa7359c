package validate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/weiawesome/wes-chat/internal/domain"
)

func TestNormalizeRoom(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
		ok   bool
	}{
		{"simple", "general", "general", true},
		{"trimmed", "  general\t", "general", true},
		{"dash", "uf-dwi", "uf-dwi", true},
		{"colon and digits", "project:123", "project:123", true},
		{"underscore", "team_A", "team_A", true},
		{"single char", "x", "x", true},
		{"max length", strings.Repeat("a", 64), strings.Repeat("a", 64), true},
		{"empty", "", "", false},
		{"only spaces", "   ", "", false},
		{"too long", strings.Repeat("a", 65), "", false},
		{"slash", "a/b", "", false},
		{"inner space", "a b", "", false},
		{"dot", "a.b", "", false},
		{"non ascii letter", "café", "", false},
		{"emoji", "room🙂", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeRoom(tt.raw)
			if !tt.ok {
				require.ErrorIs(t, err, domain.ErrInvalidPayload)
				require.Empty(t, got)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeMessage(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		maxLen int
		want   string
		ok     bool
	}{
		{"plain", "hello", 2000, "hello", true},
		{"trimmed", "  hello \n", 2000, "hello", true},
		{"inner whitespace kept", "a  b", 10, "a  b", true},
		{"at limit", strings.Repeat("x", 5), 5, strings.Repeat("x", 5), true},
		{"limit counts characters", "héllo", 5, "héllo", true},
		{"over limit", strings.Repeat("x", 6), 5, "", false},
		{"limit applies after trim", "  " + strings.Repeat("x", 5) + "  ", 5, strings.Repeat("x", 5), true},
		{"empty", "", 10, "", false},
		{"whitespace only", " \t\n ", 10, "", false},
		{"non-positive limit", "hi", 0, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeMessage(tt.raw, tt.maxLen)
			if !tt.ok {
				require.ErrorIs(t, err, domain.ErrInvalidPayload)
				require.Empty(t, got)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}
