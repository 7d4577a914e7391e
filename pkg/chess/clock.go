package chess

import (
	"fmt"
	"sync"
	"time"
)

// TimeControl is the initial clock handed off by matchmaking.
type TimeControl struct {
	WhiteTime      int64 // Initial time in milliseconds
	BlackTime      int64
	WhiteIncrement int64 // Increment per move in milliseconds
	BlackIncrement int64
}

// ClockTick is a periodic snapshot of both clocks.
type ClockTick struct {
	White       int64
	Black       int64
	ActiveColor Color
}

// Clock tracks the remaining time for both players. A ban and the move that
// follows it belong to the same timed turn, so only moves switch the clock.
type Clock struct {
	whiteTimeMs int64
	blackTimeMs int64

	whiteIncrement int64
	blackIncrement int64

	activeColor Color

	startTime time.Time
	isRunning bool

	mutex sync.RWMutex

	timeupChan chan Color
	tickChan   chan ClockTick
}

// NewClock creates a clock from the matchmaking time control. White is the
// active side until the first move switches it.
func NewClock(tc TimeControl) *Clock {
	return &Clock{
		whiteTimeMs:    tc.WhiteTime,
		blackTimeMs:    tc.BlackTime,
		whiteIncrement: tc.WhiteIncrement,
		blackIncrement: tc.BlackIncrement,
		activeColor:    White,
		timeupChan:     make(chan Color, 1),
		tickChan:       make(chan ClockTick, 10),
	}
}

// Start starts the clock for the active player.
func (c *Clock) Start() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.isRunning {
		return
	}

	c.startTime = time.Now()
	c.isRunning = true

	go c.tickRoutine()
}

// Stop stops the clock without switching sides.
func (c *Clock) Stop() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if !c.isRunning {
		return
	}

	c.updateTime()
	c.isRunning = false
}

// Switch charges the elapsed time to the active side, applies its increment
// and hands the clock to the opponent. Called once per applied move.
func (c *Clock) Switch() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.isRunning {
		c.updateTime()
	}

	if c.activeColor == White {
		c.whiteTimeMs += c.whiteIncrement
	} else {
		c.blackTimeMs += c.blackIncrement
	}

	c.activeColor = c.activeColor.Opp()

	if c.isRunning {
		c.startTime = time.Now()
	}
}

// updateTime charges elapsed time to the active side. Caller holds the lock.
func (c *Clock) updateTime() {
	elapsed := time.Since(c.startTime).Milliseconds()

	if c.activeColor == White {
		c.whiteTimeMs -= elapsed
	} else {
		c.blackTimeMs -= elapsed
	}

	if (c.activeColor == White && c.whiteTimeMs <= 0) ||
		(c.activeColor == Black && c.blackTimeMs <= 0) {
		select {
		case c.timeupChan <- c.activeColor:
		default:
			// Channel buffer is full
		}

		if c.activeColor == White {
			c.whiteTimeMs = 0
		} else {
			c.blackTimeMs = 0
		}

		c.isRunning = false
	}
}

// GetRemainingTime returns the current remaining time for both players.
func (c *Clock) GetRemainingTime() struct{ White, Black int64 } {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	whiteTime := c.whiteTimeMs
	blackTime := c.blackTimeMs

	if c.isRunning {
		elapsed := time.Since(c.startTime).Milliseconds()

		if c.activeColor == White {
			whiteTime -= elapsed
		} else {
			blackTime -= elapsed
		}
	}

	if whiteTime < 0 {
		whiteTime = 0
	}
	if blackTime < 0 {
		blackTime = 0
	}

	return struct{ White, Black int64 }{whiteTime, blackTime}
}

// IsTimeUp checks if a player has run out of time.
func (c *Clock) IsTimeUp(color Color) bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	if color == White {
		return c.whiteTimeMs <= 0
	}
	return c.blackTimeMs <= 0
}

// GetTimeupChannel returns a channel that signals when a side's flag falls.
func (c *Clock) GetTimeupChannel() <-chan Color {
	return c.timeupChan
}

// GetTickChannel returns a channel that provides periodic clock updates.
func (c *Clock) GetTickChannel() <-chan ClockTick {
	return c.tickChan
}

func (c *Clock) tickRoutine() {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for range ticker.C {
		c.mutex.RLock()
		if !c.isRunning {
			c.mutex.RUnlock()
			return
		}
		active := c.activeColor
		c.mutex.RUnlock()

		times := c.GetRemainingTime()
		tick := ClockTick{
			White:       times.White,
			Black:       times.Black,
			ActiveColor: active,
		}

		select {
		case c.tickChan <- tick:
		default:
			// Channel buffer is full
		}

		// Flag fall must fire while running, not only on the next Switch.
		if (active == White && times.White <= 0) ||
			(active == Black && times.Black <= 0) {
			c.mutex.Lock()
			if c.isRunning {
				c.updateTime()
			}
			c.mutex.Unlock()
			return
		}
	}
}

// FormatClockTime formats milliseconds as a display string (e.g. "1:30").
func FormatClockTime(timeMs int64) string {
	if timeMs < 0 {
		timeMs = 0
	}

	totalSeconds := timeMs / 1000
	minutes := totalSeconds / 60
	seconds := totalSeconds % 60

	// For times less than 10 seconds, show tenths
	if timeMs < 10000 {
		tenths := (timeMs % 1000) / 100
		return fmt.Sprintf("%d.%d", totalSeconds, tenths)
	}

	return fmt.Sprintf("%d:%02d", minutes, seconds)
}
