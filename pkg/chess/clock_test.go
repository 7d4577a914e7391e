package chess

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSwitchAppliesIncrementAndFlips(t *testing.T) {
	c := NewClock(TimeControl{
		WhiteTime:      60000,
		BlackTime:      60000,
		WhiteIncrement: 1000,
		BlackIncrement: 2000,
	})

	// White's move: White gains its increment, clock hands to Black.
	c.Switch()
	times := c.GetRemainingTime()
	assert.Equal(t, int64(61000), times.White)
	assert.Equal(t, int64(60000), times.Black)

	// Black's move.
	c.Switch()
	times = c.GetRemainingTime()
	assert.Equal(t, int64(61000), times.White)
	assert.Equal(t, int64(62000), times.Black)
}

func TestFlagFallSignalsWhileRunning(t *testing.T) {
	c := NewClock(TimeControl{WhiteTime: 50, BlackTime: 60000})
	c.Start()

	select {
	case color := <-c.GetTimeupChannel():
		assert.Equal(t, White, color)
	case <-time.After(2 * time.Second):
		t.Fatal("flag never fell")
	}

	assert.True(t, c.IsTimeUp(White))
	assert.Equal(t, int64(0), c.GetRemainingTime().White)
}

func TestStopFreezesTheClock(t *testing.T) {
	c := NewClock(TimeControl{WhiteTime: 60000, BlackTime: 60000})
	c.Start()
	c.Stop()

	frozen := c.GetRemainingTime()
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, frozen.White, c.GetRemainingTime().White)
}

func TestFormatClockTime(t *testing.T) {
	tests := []struct {
		ms   int64
		want string
	}{
		{90000, "1:30"},
		{65000, "1:05"},
		{10000, "0:10"},
		{9500, "9.5"},
		{0, "0.0"},
		{-5, "0.0"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatClockTime(tt.ms))
	}
}
