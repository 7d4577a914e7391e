package chess

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestColorOpp(t *testing.T) {
	assert.Equal(t, Black, White.Opp())
	assert.Equal(t, White, Black.Opp())
}

func TestColorValid(t *testing.T) {
	assert.True(t, White.Valid())
	assert.True(t, Black.Valid())
	assert.False(t, Color("x").Valid())
	assert.False(t, Color("").Valid())
}
