// Package config holds the challenge engine settings.
package config

import (
	"errors"
	"fmt"
	"time"

	"joingate/internal/captcha/models"
)

const (
	DefaultMaxAge     = 3 * time.Minute
	DefaultAttempts   = 3
	DefaultOperandMin = 1
	DefaultOperandMax = 100

	MinAttempts = 1
	MaxAttempts = 9
)

// Config controls challenge lifetime, attempt budget and which groups are
// monitored. An empty GuildIDs set disables the feature.
type Config struct {
	MaxAge             time.Duration
	Attempts           int
	GuildIDs           []models.GroupID
	DeleteWrongAnswers bool
	OperandMin         int
	OperandMax         int
}

func DefaultConfig() Config {
	return Config{
		MaxAge:             DefaultMaxAge,
		Attempts:           DefaultAttempts,
		DeleteWrongAnswers: true,
		OperandMin:         DefaultOperandMin,
		OperandMax:         DefaultOperandMax,
	}
}

func (c Config) Validate() error {
	if c.MaxAge <= 0 {
		return errors.New("captcha max age must be positive")
	}
	if c.Attempts < MinAttempts || c.Attempts > MaxAttempts {
		return fmt.Errorf("captcha attempts must be between %d and %d, got %d", MinAttempts, MaxAttempts, c.Attempts)
	}
	if c.OperandMin > c.OperandMax {
		return fmt.Errorf("captcha operand range is empty: [%d, %d]", c.OperandMin, c.OperandMax)
	}
	return nil
}

// Monitors reports whether group is allow-listed.
func (c Config) Monitors(group models.GroupID) bool {
	for _, g := range c.GuildIDs {
		if g == group {
			return true
		}
	}
	return false
}

// Enabled reports whether any group is allow-listed.
func (c Config) Enabled() bool {
	return len(c.GuildIDs) > 0
}
