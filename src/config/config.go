// Package config loads the server configuration from a YAML file, a .env
// file and the environment. Environment variables win over the file.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/square-key-labs/strawgo-transfer/src/telephony"
	"github.com/square-key-labs/strawgo-transfer/src/transfer"
)

const (
	DefaultPort           = 8080
	DefaultVoiceID        = "21m00Tcm4TlvDq8ikWAM"
	DefaultHoldMusicGain  = 0.5
	DefaultRingTimeoutSec = 30
)

// Config is the complete server configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Twilio     TwilioConfig     `yaml:"twilio"`
	Gemini     GeminiConfig     `yaml:"gemini"`
	Deepgram   DeepgramConfig   `yaml:"deepgram"`
	ElevenLabs ElevenLabsConfig `yaml:"elevenlabs"`
	Agent      AgentConfig      `yaml:"agent"`
	Transfer   transfer.Config  `yaml:"transfer"`
}

type ServerConfig struct {
	Port      int    `yaml:"port"`
	PublicURL string `yaml:"public_url"`

	// HoldMusic is a WAV file looped to the caller while on hold. Empty
	// plays silence.
	HoldMusic     string  `yaml:"hold_music"`
	HoldMusicGain float64 `yaml:"hold_music_gain"`
}

type TwilioConfig struct {
	AccountSID  string `yaml:"account_sid"`
	AuthToken   string `yaml:"auth_token"`
	FromNumber  string `yaml:"from_number"`
	RingTimeout int    `yaml:"ring_timeout"`

	// ValidateSignatures checks X-Twilio-Signature on webhooks
	ValidateSignatures bool `yaml:"validate_signatures"`
}

type GeminiConfig struct {
	APIKey          string  `yaml:"api_key"`
	Model           string  `yaml:"model"`
	Temperature     float64 `yaml:"temperature"`
	Project         string  `yaml:"project"`
	Location        string  `yaml:"location"`
	CredentialsFile string  `yaml:"credentials_file"`
}

type DeepgramConfig struct {
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	Language string `yaml:"language"`
}

type ElevenLabsConfig struct {
	APIKey  string `yaml:"api_key"`
	VoiceID string `yaml:"voice_id"`
	Model   string `yaml:"model"`
}

// AgentConfig personalizes the system prompt
type AgentConfig struct {
	Name    string `yaml:"name"`
	Company string `yaml:"company"`

	// InterruptionMinWords is how many words the caller must say before
	// the agent stops talking. 0 stops it as soon as speech starts.
	InterruptionMinWords int `yaml:"interruption_min_words"`
}

// Load reads .env (if present), the YAML file at path (if not empty) and
// the environment, applies defaults and validates the result.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	var data []byte
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return Parse(data, os.LookupEnv)
}

// Parse builds a Config from YAML and the given environment lookup. It
// is Load without the filesystem.
func Parse(data []byte, lookup func(string) (string, bool)) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}
	if lookup == nil {
		lookup = func(string) (string, bool) { return "", false }
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	if v, ok := lookup("PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		c.Server.Port = port
	}
	str("PUBLIC_URL", &c.Server.PublicURL)
	str("HOLD_MUSIC", &c.Server.HoldMusic)

	str("TWILIO_ACCOUNT_SID", &c.Twilio.AccountSID)
	str("TWILIO_AUTH_TOKEN", &c.Twilio.AuthToken)
	str("TWILIO_FROM_NUMBER", &c.Twilio.FromNumber)

	str("GEMINI_API_KEY", &c.Gemini.APIKey)
	str("GOOGLE_CLOUD_PROJECT", &c.Gemini.Project)
	str("GOOGLE_CLOUD_LOCATION", &c.Gemini.Location)
	str("GOOGLE_APPLICATION_CREDENTIALS", &c.Gemini.CredentialsFile)

	str("DEEPGRAM_API_KEY", &c.Deepgram.APIKey)
	str("ELEVENLABS_API_KEY", &c.ElevenLabs.APIKey)
	str("ELEVENLABS_VOICE_ID", &c.ElevenLabs.VoiceID)

	// Targets from the environment only apply when the file has none
	if len(c.Transfer.Targets) == 0 {
		c.Transfer.Targets = envTargets(lookup)
	}
	return nil
}

// envTargets builds the default teams from SALES_NUMBER, SUPPORT_NUMBER
// and BILLING_NUMBER. Teams without a number are left out.
func envTargets(lookup func(string) (string, bool)) []transfer.TransferTarget {
	defaults := []struct {
		env  string
		name string
		desc string
	}{
		{"SALES_NUMBER", "Sales Team", "Handles new purchases, upgrades, and pricing questions"},
		{"SUPPORT_NUMBER", "Support Team", "Handles technical issues, bugs, and troubleshooting"},
		{"BILLING_NUMBER", "Billing Team", "Handles invoices, refunds, and payment issues"},
	}

	var targets []transfer.TransferTarget
	for _, d := range defaults {
		number, ok := lookup(d.env)
		if !ok || strings.TrimSpace(number) == "" {
			continue
		}
		targets = append(targets, transfer.TransferTarget{
			Name:        d.name,
			PhoneNumber: strings.TrimSpace(number),
			Description: d.desc,
		})
	}
	return targets
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
	if c.Server.HoldMusicGain == 0 {
		c.Server.HoldMusicGain = DefaultHoldMusicGain
	}
	if c.Twilio.RingTimeout == 0 {
		c.Twilio.RingTimeout = DefaultRingTimeoutSec
	}
	if c.ElevenLabs.VoiceID == "" {
		c.ElevenLabs.VoiceID = DefaultVoiceID
	}
	c.Transfer = c.Transfer.WithDefaults()
}

// Validate checks that the server can take calls with this configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Server.Port)
	}
	u, err := url.Parse(c.Server.PublicURL)
	if c.Server.PublicURL == "" || err != nil || u.Host == "" {
		return fmt.Errorf("public_url must be an absolute URL, got %q", c.Server.PublicURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("public_url scheme must be http or https, got %q", u.Scheme)
	}

	var missing []string
	if c.Twilio.AccountSID == "" {
		missing = append(missing, "TWILIO_ACCOUNT_SID")
	}
	if c.Twilio.AuthToken == "" {
		missing = append(missing, "TWILIO_AUTH_TOKEN")
	}
	if c.Twilio.FromNumber == "" {
		missing = append(missing, "TWILIO_FROM_NUMBER")
	}
	if c.Gemini.APIKey == "" && c.Gemini.Project == "" {
		missing = append(missing, "GEMINI_API_KEY or GOOGLE_CLOUD_PROJECT")
	}
	if c.Deepgram.APIKey == "" {
		missing = append(missing, "DEEPGRAM_API_KEY")
	}
	if c.ElevenLabs.APIKey == "" {
		missing = append(missing, "ELEVENLABS_API_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required settings: %s", strings.Join(missing, ", "))
	}

	if c.Agent.InterruptionMinWords < 0 {
		return fmt.Errorf("agent.interruption_min_words must not be negative")
	}
	if c.Server.HoldMusicGain < 0 {
		return fmt.Errorf("hold_music_gain must not be negative")
	}
	if err := c.Transfer.Validate(); err != nil {
		return fmt.Errorf("transfer: %w", err)
	}
	return nil
}

// Dialer returns the settings of the Twilio dialer
func (c *Config) Dialer() telephony.TwilioConfig {
	return telephony.TwilioConfig{
		AccountSID:  c.Twilio.AccountSID,
		AuthToken:   c.Twilio.AuthToken,
		FromNumber:  c.Twilio.FromNumber,
		PublicURL:   c.Server.PublicURL,
		RingTimeout: c.Twilio.RingTimeout,
	}
}

// Prompt returns the system prompt options
func (c *Config) Prompt() transfer.PromptOptions {
	return transfer.PromptOptions{AgentName: c.Agent.Name, Company: c.Agent.Company}
}
