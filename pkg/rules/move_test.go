package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseUCI(t *testing.T) {
	tests := []struct {
		input string
		want  Move
		ok    bool
	}{
		{"e2e4", Move{From: "e2", To: "e4"}, true},
		{"g1f3", Move{From: "g1", To: "f3"}, true},
		{"e7e8q", Move{From: "e7", To: "e8", Promotion: "q"}, true},
		{"a2a1n", Move{From: "a2", To: "a1", Promotion: "n"}, true},
		{"", Move{}, false},
		{"e2", Move{}, false},
		{"e2e4e5", Move{}, false},
		{"i2i4", Move{}, false},
		{"e0e9", Move{}, false},
		{"e7e8k", Move{}, false},
	}

	for _, tt := range tests {
		mv, err := ParseUCI(tt.input)
		if !tt.ok {
			assert.ErrorIs(t, err, ErrBadMoveEncoding, tt.input)
			continue
		}
		require.NoError(t, err, tt.input)
		assert.Equal(t, tt.want, mv)
		assert.Equal(t, tt.input, mv.UCI())
	}
}

func TestMoveEqual(t *testing.T) {
	a := Move{From: "e2", To: "e4"}
	assert.True(t, a.Equal(Move{From: "e2", To: "e4"}))
	assert.False(t, a.Equal(Move{From: "e2", To: "e3"}))
	assert.False(t, a.Equal(Move{From: "e2", To: "e4", Promotion: "q"}))
}
