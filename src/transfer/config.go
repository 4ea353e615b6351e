package transfer

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

const (
	DefaultHoldMessage           = "I'm connecting you with a specialist. Please hold."
	DefaultTransferFailedMessage = "I'm sorry, I couldn't reach anyone at this time. How else can I help you?"
	DefaultConnectingMessage     = "I have the customer ready. Let me bring them in now."

	// DefaultMaxRetries bounds the dial attempts of one transfer
	DefaultMaxRetries = 5
)

var e164 = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

// TransferTarget is a team or person the agent can transfer the caller to
type TransferTarget struct {
	Name        string `yaml:"name"`
	PhoneNumber string `yaml:"phone_number"`
	Extension   string `yaml:"extension,omitempty"`
	Description string `yaml:"description"`
}

// TransferMessages are the fixed utterances of the transfer flow
type TransferMessages struct {
	HoldMessage           string `yaml:"hold_message"`
	TransferFailedMessage string `yaml:"transfer_failed_message"`
	ConnectingMessage     string `yaml:"connecting_message"`
}

// WithDefaults fills empty messages with the defaults
func (m TransferMessages) WithDefaults() TransferMessages {
	if m.HoldMessage == "" {
		m.HoldMessage = DefaultHoldMessage
	}
	if m.TransferFailedMessage == "" {
		m.TransferFailedMessage = DefaultTransferFailedMessage
	}
	if m.ConnectingMessage == "" {
		m.ConnectingMessage = DefaultConnectingMessage
	}
	return m
}

// BackoffConfig spaces out dial retries. A zero Initial dials immediately.
type BackoffConfig struct {
	Initial    time.Duration `yaml:"initial"`
	Max        time.Duration `yaml:"max"`
	Multiplier float64       `yaml:"multiplier"`
	Jitter     float64       `yaml:"jitter"`
}

// DialoutConfig configures the DialoutManager
type DialoutConfig struct {
	MaxRetries int           `yaml:"max_retries"`
	Backoff    BackoffConfig `yaml:"backoff"`
}

// Config is the immutable per-session transfer configuration
type Config struct {
	Targets  []TransferTarget `yaml:"targets"`
	Messages TransferMessages `yaml:"messages"`
	Dialout  DialoutConfig    `yaml:"dialout"`

	// RingbackAudible plays a ringback tone instead of hold music while the
	// specialist's phone rings
	RingbackAudible bool `yaml:"ringback_audible"`
}

// WithDefaults returns a copy with default messages and retry budget
func (c Config) WithDefaults() Config {
	c.Messages = c.Messages.WithDefaults()
	if c.Dialout.MaxRetries <= 0 {
		c.Dialout.MaxRetries = DefaultMaxRetries
	}
	c.Targets = append([]TransferTarget(nil), c.Targets...)
	return c
}

// Validate checks target numbers and name uniqueness
func (c Config) Validate() error {
	if len(c.Targets) == 0 {
		return fmt.Errorf("no transfer targets configured")
	}
	seen := make(map[string]bool, len(c.Targets))
	for i, t := range c.Targets {
		if strings.TrimSpace(t.Name) == "" {
			return fmt.Errorf("target %d: name is required", i)
		}
		key := strings.ToLower(t.Name)
		if seen[key] {
			return fmt.Errorf("target %q: duplicate name", t.Name)
		}
		seen[key] = true
		if !e164.MatchString(t.PhoneNumber) {
			return fmt.Errorf("target %q: phone number %q is not E.164", t.Name, t.PhoneNumber)
		}
	}
	if c.Dialout.MaxRetries < 0 {
		return fmt.Errorf("dialout max_retries must be positive")
	}
	if c.Dialout.Backoff.Jitter < 0 || c.Dialout.Backoff.Jitter > 1 {
		return fmt.Errorf("dialout backoff jitter must be within [0, 1]")
	}
	return nil
}

// Lookup finds a target by case-insensitive exact name
func (c Config) Lookup(name string) (TransferTarget, bool) {
	for _, t := range c.Targets {
		if strings.EqualFold(t.Name, name) {
			return t, true
		}
	}
	return TransferTarget{}, false
}

// TargetNames lists the configured target names in order
func (c Config) TargetNames() []string {
	names := make([]string, len(c.Targets))
	for i, t := range c.Targets {
		names[i] = t.Name
	}
	return names
}
