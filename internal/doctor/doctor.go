// Package doctor provides health checks for a Frontdesk installation:
// configuration, data directory, vault, agent profile and LLM endpoint.
// Used by `frontdesk doctor`.
package doctor

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/frontdesk-io/frontdesk/internal/config"
	"github.com/frontdesk-io/frontdesk/internal/profile"
	"github.com/frontdesk-io/frontdesk/internal/secrets"
)

// CheckResult is a single doctor check outcome.
type CheckResult struct {
	Name     string `json:"name"`
	Category string `json:"category"`
	Status   string `json:"status"` // pass, warn, fail
	Message  string `json:"message"`
	Fix      string `json:"fix,omitempty"`
}

// Summary tallies pass/warn/fail counts.
type Summary struct {
	Pass int `json:"pass"`
	Warn int `json:"warn"`
	Fail int `json:"fail"`
}

// Report is the complete doctor output.
type Report struct {
	Status  string        `json:"status"` // worst of all checks
	Checks  []CheckResult `json:"checks"`
	Summary Summary       `json:"summary"`
}

// Options controls which check categories to run.
type Options struct {
	SkipLLM bool // Skip LLM endpoint connectivity checks (for CI/offline)
}

// Run executes all doctor checks and returns a report.
func Run(ctx context.Context, opts Options) *Report {
	report := &Report{}

	cfg, err := config.Load()
	if err != nil {
		report.Checks = append(report.Checks, CheckResult{
			Name: "config_load", Category: "config", Status: "fail",
			Message: fmt.Sprintf("Cannot load config: %v", err),
			Fix:     "Check FRONTDESK_* env vars and the config file",
		})
	} else {
		report.Checks = append(report.Checks, checkDataDir(cfg))
		report.Checks = append(report.Checks, checkCryptoKeys(cfg)...)
		report.Checks = append(report.Checks, checkProfile(cfg))
		report.Checks = append(report.Checks, checkAgentDB(cfg))
		report.Checks = append(report.Checks, checkVault(ctx, cfg)...)
		report.Checks = append(report.Checks, checkSMTP(cfg))
		if !opts.SkipLLM {
			report.Checks = append(report.Checks, checkLLMEndpoint(ctx, cfg)...)
		}
	}

	for _, c := range report.Checks {
		switch c.Status {
		case "pass":
			report.Summary.Pass++
		case "warn":
			report.Summary.Warn++
		case "fail":
			report.Summary.Fail++
		}
	}

	report.Status = "pass"
	if report.Summary.Warn > 0 {
		report.Status = "warn"
	}
	if report.Summary.Fail > 0 {
		report.Status = "fail"
	}
	return report
}

func checkDataDir(cfg *config.Config) CheckResult {
	if err := cfg.EnsureDataDir(); err != nil {
		return CheckResult{
			Name: "data_dir_writable", Category: "config", Status: "fail",
			Message: fmt.Sprintf("%s — %v", cfg.DataDir, err),
			Fix:     "Ensure directory exists and is writable",
		}
	}
	testFile := filepath.Join(cfg.DataDir, ".doctor-write-test")
	if err := os.WriteFile(testFile, []byte("ok"), 0o600); err != nil {
		return CheckResult{
			Name: "data_dir_writable", Category: "config", Status: "fail",
			Message: fmt.Sprintf("%s not writable — %v", cfg.DataDir, err),
		}
	}
	_ = os.Remove(testFile)
	return CheckResult{
		Name: "data_dir_writable", Category: "config", Status: "pass",
		Message: fmt.Sprintf("%s (writable)", cfg.DataDir),
	}
}

func checkCryptoKeys(cfg *config.Config) []CheckResult {
	var results []CheckResult
	if cfg.UsingDefaultSecretsKey() {
		results = append(results, CheckResult{
			Name: "secrets_key", Category: "config", Status: "warn",
			Message: "Using generated default", Fix: "Set FRONTDESK_SECRETS_KEY for production",
		})
	} else {
		results = append(results, CheckResult{
			Name: "secrets_key", Category: "config", Status: "pass", Message: "Configured",
		})
	}
	if cfg.CodePepper == "" {
		results = append(results, CheckResult{
			Name: "code_pepper", Category: "config", Status: "warn",
			Message: "Verification code hashes are unpeppered",
			Fix:     "Set FRONTDESK_VERIFICATION_CODE_PEPPER for production",
		})
	} else {
		results = append(results, CheckResult{
			Name: "code_pepper", Category: "config", Status: "pass", Message: "Configured",
		})
	}
	if cfg.WebhookSecret == "" {
		results = append(results, CheckResult{
			Name: "webhook_secret", Category: "config", Status: "warn",
			Message: "Provider webhook signature verification is off",
			Fix:     "Set FRONTDESK_WEBHOOK_SECRET once your provider signs requests",
		})
	} else {
		results = append(results, CheckResult{
			Name: "webhook_secret", Category: "config", Status: "pass", Message: "Configured",
		})
	}
	return results
}

func checkProfile(cfg *config.Config) CheckResult {
	if _, err := os.Stat(cfg.AgentProfile); err != nil {
		return CheckResult{
			Name: "agent_profile", Category: "config", Status: "warn",
			Message: fmt.Sprintf("%s — not found, defaults apply", cfg.AgentProfile),
			Fix:     "Create a frontdesk.agent.yaml with business hours and services",
		}
	}
	prof, err := profile.Load(cfg.AgentProfile)
	if err != nil {
		return CheckResult{
			Name: "agent_profile", Category: "config", Status: "fail",
			Message: fmt.Sprintf("%s — %v", cfg.AgentProfile, err),
		}
	}
	return CheckResult{
		Name: "agent_profile", Category: "config", Status: "pass",
		Message: fmt.Sprintf("%s (business %s)", cfg.AgentProfile, prof.Business.Name),
	}
}

func checkAgentDB(cfg *config.Config) CheckResult {
	db, err := sql.Open("sqlite3", cfg.AgentDBPath())
	if err != nil {
		return CheckResult{
			Name: "agent_db", Category: "config", Status: "fail",
			Message: fmt.Sprintf("%v", err),
		}
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		return CheckResult{
			Name: "agent_db", Category: "config", Status: "fail",
			Message: fmt.Sprintf("%s — %v", cfg.AgentDBPath(), err),
		}
	}
	return CheckResult{
		Name: "agent_db", Category: "config", Status: "pass",
		Message: cfg.AgentDBPath(),
	}
}

func checkVault(ctx context.Context, cfg *config.Config) []CheckResult {
	vault, err := secrets.Open(cfg.SecretsDBPath(), cfg.SecretsKey)
	if err != nil {
		return []CheckResult{{
			Name: "secrets_vault", Category: "config", Status: "fail",
			Message: fmt.Sprintf("%v", err),
		}}
	}
	defer vault.Close()

	results := []CheckResult{{
		Name: "secrets_vault", Category: "config", Status: "pass",
		Message: cfg.SecretsDBPath(),
	}}

	key, err := vault.GetString(ctx, secrets.NameLLMAPIKey, "doctor", cfg.LLMAPIKey)
	if err != nil {
		results = append(results, CheckResult{
			Name: "llm_api_key", Category: "config", Status: "fail",
			Message: fmt.Sprintf("%v", err),
		})
	} else if key == "" && cfg.LLMProvider == "openai" {
		results = append(results, CheckResult{
			Name: "llm_api_key", Category: "config", Status: "fail",
			Message: "No API key for the openai provider",
			Fix:     "Run: frontdesk secrets set llm_api_key <your-api-key>",
		})
	} else if key == "" {
		results = append(results, CheckResult{
			Name: "llm_api_key", Category: "config", Status: "pass",
			Message: "Not set (fine for a local Ollama endpoint)",
		})
	} else {
		results = append(results, CheckResult{
			Name: "llm_api_key", Category: "config", Status: "pass",
			Message: "Present",
		})
	}
	return results
}

func checkSMTP(cfg *config.Config) CheckResult {
	if cfg.SMTPHost == "" {
		return CheckResult{
			Name: "smtp", Category: "config", Status: "warn",
			Message: "smtp_host not set — verification mails are logged, not sent",
			Fix:     "Set FRONTDESK_SMTP_HOST/_USER and store smtp_password in the vault",
		}
	}
	return CheckResult{
		Name: "smtp", Category: "config", Status: "pass",
		Message: fmt.Sprintf("%s:%d", cfg.SMTPHost, cfg.SMTPPort),
	}
}

func checkLLMEndpoint(ctx context.Context, cfg *config.Config) []CheckResult {
	client := &http.Client{Timeout: 5 * time.Second}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, cfg.LLMBaseURL, nil)
	if err != nil {
		return []CheckResult{{
			Name: "llm_endpoint", Category: "llm", Status: "fail",
			Message: fmt.Sprintf("Invalid URL: %v", err),
			Fix:     "Check FRONTDESK_LLM_BASE_URL",
		}}
	}
	start := time.Now()
	resp, err := client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return []CheckResult{{
			Name: "llm_endpoint", Category: "llm", Status: "fail",
			Message: fmt.Sprintf("Connection failed: %v", err),
			Fix:     "Check network connectivity and FRONTDESK_LLM_BASE_URL",
		}}
	}
	resp.Body.Close()

	results := []CheckResult{{
		Name: "llm_endpoint", Category: "llm", Status: "pass",
		Message: fmt.Sprintf("%s — %dms", cfg.LLMBaseURL, latency.Milliseconds()),
	}}
	if latency > 2*time.Second {
		results = append(results, CheckResult{
			Name: "llm_endpoint_latency", Category: "llm", Status: "warn",
			Message: fmt.Sprintf("%.1fs (> 2s threshold)", latency.Seconds()),
			Fix:     "Planner calls will be slow; consider a closer endpoint",
		})
	}
	return results
}
