// Package config holds OPERATOR-LEVEL configuration for a Frontdesk installation.
//
// This is infrastructure config set by whoever deploys the service, NOT
// end-user state. It is read from env vars (FRONTDESK_*) or a config file
// (frontdesk.config.yaml). Credentials for outbound services (LLM API key,
// SMTP password) should live in the encrypted secrets vault
// (internal/secrets); env vars are supported solely as a quickstart
// fallback for single-instance development.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/frontdesk-io/frontdesk/internal/cryptoutil"
)

// Viper keys. Each maps to an env var with the FRONTDESK_ prefix
// (e.g. "internal_api_key" → FRONTDESK_INTERNAL_API_KEY) and to a YAML
// field in frontdesk.config.yaml.
const (
	KeyEnv            = "env"
	KeyDataDir        = "data_dir"
	KeySecretsKey     = "secrets_key"
	KeyInternalAPIKey = "internal_api_key"
	KeyWebhookSecret  = "webhook_secret"
	KeyExposeDebug    = "expose_debug"
	KeyAgentProfile   = "agent_profile"

	KeyLLMProvider    = "llm_provider"
	KeyLLMBaseURL     = "llm_base_url"
	KeyLLMAPIKey      = "llm_api_key"
	KeyLLMModel       = "llm_model"
	KeyLLMTemperature = "llm_temperature"
	KeyLLMMaxTokens   = "llm_max_tokens"
	KeyAnswererEnable = "answerer_enabled"

	KeyRateLimitMax    = "rate_limit_session_max"
	KeyRateLimitWindow = "rate_limit_window_sec"
	KeyIPRateLimitRPM  = "ip_rate_limit_rpm"

	KeyDedupeTTL       = "dedupe_ttl_sec"
	KeySessionTTL      = "session_ttl_sec"
	KeyConfirmationTTL = "confirmation_ttl_sec"
	KeyShortConfirm    = "confirmation_short_code"
	KeyReplayWindow    = "webhook_replay_window_sec"

	KeySMTPHost = "smtp_host"
	KeySMTPPort = "smtp_port"
	KeySMTPUser = "smtp_user"
	KeySMTPPass = "smtp_pass"
	KeySMTPFrom = "smtp_from"

	KeyCodePepper = "verification_code_pepper"
)

// Defaults mirror the documented env knobs. Crypto material has no baked-in
// default; when unset we derive a per-machine fallback and warn.
const (
	DefaultEnv          = "dev"
	DefaultAgentProfile = "frontdesk.agent.yaml"
	DefaultLLMProvider  = "ollama"
	DefaultLLMModel     = "gpt-oss:20b"
	DefaultLLMBaseURL   = "http://localhost:11434"

	DefaultRateLimitMax    = 30
	DefaultRateLimitWindow = 60
	DefaultIPRateLimitRPM  = 120

	DefaultDedupeTTL       = 3600
	DefaultSessionTTL      = 86400
	DefaultConfirmationTTL = 1800
	DefaultReplayWindow    = 300

	DefaultSMTPPort = 587
)

// Config holds resolved operator-level configuration for a Frontdesk process.
type Config struct {
	Env            string // "dev" or "prod"
	DataDir        string // Base directory for all state (~/.frontdesk)
	SecretsKey     string // AES-256 encryption key for the vault (32 bytes or 64 hex chars)
	InternalAPIKey string // x-api-key for internal channels and admin endpoints
	WebhookSecret  string // HMAC-SHA256 key for provider webhook signatures ("" disables verification)
	ExposeDebug    bool   // include planner debug payloads in responses (dev only)
	AgentProfile   string // path to the agent profile YAML

	LLMProvider     string
	LLMBaseURL      string
	LLMAPIKey       string
	LLMModel        string
	LLMTemperature  float64
	LLMMaxTokens    int
	AnswererEnabled bool

	RateLimitSessionMax int // messages per session per window
	RateLimitWindowSec  int
	IPRateLimitRPM      int // transport-level per-IP requests/minute

	DedupeTTLSec          int
	SessionTTLSec         int
	ConfirmationTTLSec    int
	ConfirmationShortCode bool // also accept a 6-digit short code for confirmations
	ReplayWindowSec       int

	SMTPHost string
	SMTPPort int
	SMTPUser string
	SMTPPass string
	SMTPFrom string

	CodePepper string // pepper mixed into verification code hashes

	usingDefaultSecretsKey bool
	usingDefaultAPIKey     bool
}

// IsDev reports whether the process runs in development mode.
// Debug payloads in agent responses are only ever exposed in dev.
func (c *Config) IsDev() bool {
	return c.Env == "dev"
}

// UsingDefaultSecretsKey returns true if the vault key was derived (not set explicitly).
func (c *Config) UsingDefaultSecretsKey() bool {
	return c.usingDefaultSecretsKey
}

// WarnIfDefaultKeys logs when derived fallback crypto material is in
// use. Derived keys keep the quickstart working but are predictable.
func (c *Config) WarnIfDefaultKeys() {
	if c.usingDefaultSecretsKey {
		log.Warn().Msg("FRONTDESK_SECRETS_KEY not set — using a derived per-machine key. Set it for production.")
	}
	if c.usingDefaultAPIKey {
		log.Warn().Msg("FRONTDESK_INTERNAL_API_KEY not set — using a derived key. Set it for production.")
	}
	if c.CodePepper == "" {
		log.Warn().Msg("FRONTDESK_VERIFICATION_CODE_PEPPER not set — verification code hashes are unpeppered.")
	}
}

// AgentDBPath returns the full path to the main SQLite database
// (sessions, dedupe, confirmations, audit, customers, appointments).
func (c *Config) AgentDBPath() string {
	return filepath.Join(c.DataDir, "frontdesk.db")
}

// SecretsDBPath returns the full path to the secrets SQLite database.
func (c *Config) SecretsDBPath() string {
	return filepath.Join(c.DataDir, "secrets.db")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func (c *Config) EnsureDataDir() error {
	return os.MkdirAll(c.DataDir, 0o700)
}

func init() {
	viper.SetEnvPrefix("FRONTDESK")
	viper.AutomaticEnv()
	viper.SetDefault(KeyEnv, DefaultEnv)
	viper.SetDefault(KeyAgentProfile, DefaultAgentProfile)
	viper.SetDefault(KeyLLMProvider, DefaultLLMProvider)
	viper.SetDefault(KeyLLMBaseURL, DefaultLLMBaseURL)
	viper.SetDefault(KeyLLMModel, DefaultLLMModel)
	viper.SetDefault(KeyLLMTemperature, 0.2)
	viper.SetDefault(KeyLLMMaxTokens, 1024)
	viper.SetDefault(KeyAnswererEnable, false)
	viper.SetDefault(KeyRateLimitMax, DefaultRateLimitMax)
	viper.SetDefault(KeyRateLimitWindow, DefaultRateLimitWindow)
	viper.SetDefault(KeyIPRateLimitRPM, DefaultIPRateLimitRPM)
	viper.SetDefault(KeyDedupeTTL, DefaultDedupeTTL)
	viper.SetDefault(KeySessionTTL, DefaultSessionTTL)
	viper.SetDefault(KeyConfirmationTTL, DefaultConfirmationTTL)
	viper.SetDefault(KeyShortConfirm, false)
	viper.SetDefault(KeyReplayWindow, DefaultReplayWindow)
	viper.SetDefault(KeySMTPPort, DefaultSMTPPort)
}

// Load reads configuration from Viper (which merges env vars, config
// file, and defaults) and returns a validated Config.
func Load() (*Config, error) {
	cfg := &Config{
		Env:            viper.GetString(KeyEnv),
		DataDir:        resolveDataDir(),
		SecretsKey:     viper.GetString(KeySecretsKey),
		InternalAPIKey: viper.GetString(KeyInternalAPIKey),
		WebhookSecret:  viper.GetString(KeyWebhookSecret),
		ExposeDebug:    viper.GetBool(KeyExposeDebug),
		AgentProfile:   viper.GetString(KeyAgentProfile),

		LLMProvider:     viper.GetString(KeyLLMProvider),
		LLMBaseURL:      viper.GetString(KeyLLMBaseURL),
		LLMAPIKey:       viper.GetString(KeyLLMAPIKey),
		LLMModel:        viper.GetString(KeyLLMModel),
		LLMTemperature:  viper.GetFloat64(KeyLLMTemperature),
		LLMMaxTokens:    viper.GetInt(KeyLLMMaxTokens),
		AnswererEnabled: viper.GetBool(KeyAnswererEnable),

		RateLimitSessionMax: viper.GetInt(KeyRateLimitMax),
		RateLimitWindowSec:  viper.GetInt(KeyRateLimitWindow),
		IPRateLimitRPM:      viper.GetInt(KeyIPRateLimitRPM),

		DedupeTTLSec:          viper.GetInt(KeyDedupeTTL),
		SessionTTLSec:         viper.GetInt(KeySessionTTL),
		ConfirmationTTLSec:    viper.GetInt(KeyConfirmationTTL),
		ConfirmationShortCode: viper.GetBool(KeyShortConfirm),
		ReplayWindowSec:       viper.GetInt(KeyReplayWindow),

		SMTPHost: viper.GetString(KeySMTPHost),
		SMTPPort: viper.GetInt(KeySMTPPort),
		SMTPUser: viper.GetString(KeySMTPUser),
		SMTPPass: viper.GetString(KeySMTPPass),
		SMTPFrom: viper.GetString(KeySMTPFrom),

		CodePepper: viper.GetString(KeyCodePepper),
	}

	if cfg.SecretsKey == "" {
		cfg.SecretsKey = deriveDefaultKey(cfg.DataDir, "secrets-encryption")
		cfg.usingDefaultSecretsKey = true
	}
	if cfg.InternalAPIKey == "" {
		cfg.InternalAPIKey = deriveDefaultKey(cfg.DataDir, "internal-api-key--")
		cfg.usingDefaultAPIKey = true
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func resolveDataDir() string {
	if dir := viper.GetString(KeyDataDir); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".frontdesk"
	}
	return filepath.Join(home, ".frontdesk")
}

// deriveDefaultKey produces a deterministic 32-byte fallback key from the
// data directory path and a salt. NOT cryptographically strong; it exists
// solely so `frontdesk serve` works out of the box while still encrypting
// vault data at rest with a per-machine-unique key.
func deriveDefaultKey(dataDir, salt string) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("frontdesk:%s:%s", dataDir, salt)))
	return hex.EncodeToString(h[:])
}

func (c *Config) validate() error {
	if c.Env != "dev" && c.Env != "prod" {
		return fmt.Errorf("env must be dev or prod (got %q)", c.Env)
	}
	if err := validateSecretsKey(c.SecretsKey); err != nil {
		return err
	}
	if c.RateLimitSessionMax <= 0 {
		return fmt.Errorf("rate_limit_session_max must be positive")
	}
	if c.RateLimitWindowSec <= 0 {
		return fmt.Errorf("rate_limit_window_sec must be positive")
	}
	if c.DedupeTTLSec <= 0 || c.SessionTTLSec <= 0 || c.ConfirmationTTLSec <= 0 {
		return fmt.Errorf("ttl values must be positive")
	}
	return nil
}

// validateSecretsKey accepts either 32 raw bytes or 64 hex characters (decodes to 32 bytes for AES-256).
func validateSecretsKey(key string) error {
	n := len(key)
	if n == 32 {
		return nil
	}
	if n == 64 && cryptoutil.IsHexString(key) {
		decoded, err := hex.DecodeString(key)
		if err != nil || len(decoded) != 32 {
			return fmt.Errorf("secrets_key hex must decode to 32 bytes: %w", err)
		}
		return nil
	}
	return fmt.Errorf("secrets_key must be exactly 32 bytes or 64 hex characters (got %d); set FRONTDESK_SECRETS_KEY", n)
}
