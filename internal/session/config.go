package session

import (
	"time"

	"github.com/gosuda/chatgate/internal/replay"
)

// Config holds per-session timing and recording settings.
type Config struct {
	Replay replay.Config

	IdleCheckInterval     time.Duration
	DefaultMaxIdleMinutes int
	// IdleTimeout overrides the per-session idle window when positive.
	IdleTimeout time.Duration

	DecisionPoll    time.Duration
	DecisionTimeout time.Duration
	TicketPoll      time.Duration
	TicketTimeout   time.Duration

	CloseTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.IdleCheckInterval <= 0 {
		c.IdleCheckInterval = 3 * time.Second
	}
	if c.DefaultMaxIdleMinutes <= 0 {
		c.DefaultMaxIdleMinutes = 30
	}
	if c.DecisionPoll <= 0 {
		c.DecisionPoll = time.Second
	}
	if c.DecisionTimeout <= 0 {
		c.DecisionTimeout = 60 * time.Second
	}
	if c.TicketPoll <= 0 {
		c.TicketPoll = 2 * time.Second
	}
	if c.TicketTimeout <= 0 {
		c.TicketTimeout = 3 * time.Minute
	}
	if c.CloseTimeout <= 0 {
		c.CloseTimeout = 30 * time.Second
	}
	return c
}
