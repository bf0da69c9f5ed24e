package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/frontdesk-io/frontdesk/internal/agent"
	"github.com/frontdesk-io/frontdesk/internal/audit"
	"github.com/frontdesk-io/frontdesk/internal/config"
	"github.com/frontdesk-io/frontdesk/internal/confirm"
	"github.com/frontdesk-io/frontdesk/internal/dedupe"
	"github.com/frontdesk-io/frontdesk/internal/llm"
	"github.com/frontdesk-io/frontdesk/internal/mailer"
	"github.com/frontdesk-io/frontdesk/internal/policy"
	"github.com/frontdesk-io/frontdesk/internal/profile"
	"github.com/frontdesk-io/frontdesk/internal/ratelimit"
	"github.com/frontdesk-io/frontdesk/internal/secrets"
	"github.com/frontdesk-io/frontdesk/internal/server"
	"github.com/frontdesk-io/frontdesk/internal/session"
	"github.com/frontdesk-io/frontdesk/internal/tools"
)

var (
	servePort        int
	serveJanitorSpec string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Frontdesk server with all channel endpoints",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 8080, "HTTP server port")
	serveCmd.Flags().StringVar(&serveJanitorSpec, "janitor-spec", "@every 10m", "cron spec for the background cleanup loop (empty disables)")
	rootCmd.AddCommand(serveCmd)
}

// buildProvider picks the LLM backend from config. The API key prefers
// the vault over the env fallback.
func buildProvider(cfg *config.Config, apiKey string) llm.Provider {
	switch cfg.LLMProvider {
	case "openai":
		if cfg.LLMBaseURL != "" && cfg.LLMBaseURL != config.DefaultLLMBaseURL {
			return llm.NewOpenAIProviderWithBaseURL(apiKey, cfg.LLMBaseURL)
		}
		return llm.NewOpenAIProvider(apiKey)
	default:
		return llm.NewOllamaProvider(cfg.LLMBaseURL, apiKey)
	}
}

//nolint:gocyclo // orchestration flow is inherently branched
func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	cfg.WarnIfDefaultKeys()

	prof, err := profile.Load(cfg.AgentProfile)
	if err != nil {
		return fmt.Errorf("loading agent profile: %w", err)
	}

	vault, err := secrets.Open(cfg.SecretsDBPath(), cfg.SecretsKey)
	if err != nil {
		return fmt.Errorf("opening secrets vault: %w", err)
	}
	defer vault.Close()

	llmKey, err := vault.GetString(ctx, secrets.NameLLMAPIKey, "serve", cfg.LLMAPIKey)
	if err != nil {
		return fmt.Errorf("reading LLM API key: %w", err)
	}
	smtpPass, err := vault.GetString(ctx, secrets.NameSMTPPassword, "serve", cfg.SMTPPass)
	if err != nil {
		return fmt.Errorf("reading SMTP password: %w", err)
	}

	db, err := sql.Open("sqlite3", cfg.AgentDBPath()+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("opening agent database: %w", err)
	}
	defer db.Close()

	sessions, err := session.NewStore(db, time.Duration(cfg.SessionTTLSec)*time.Second)
	if err != nil {
		return fmt.Errorf("initializing session store: %w", err)
	}
	dedupeStore, err := dedupe.NewStore(db, time.Duration(cfg.DedupeTTLSec)*time.Second)
	if err != nil {
		return fmt.Errorf("initializing dedupe store: %w", err)
	}
	confirmations, err := confirm.NewStore(db, time.Duration(cfg.ConfirmationTTLSec)*time.Second, cfg.ConfirmationShortCode)
	if err != nil {
		return fmt.Errorf("initializing confirmation store: %w", err)
	}
	auditStore, err := audit.NewSQLiteStore(db)
	if err != nil {
		return fmt.Errorf("initializing audit store: %w", err)
	}
	bus := audit.NewBus(auditStore, 256)

	registry, err := tools.NewBuiltinRegistry(db, cfg.CodePepper,
		tools.WithBusinessWindows(prof.Windows()),
		tools.WithServices(prof.ServiceDefs()),
	)
	if err != nil {
		return fmt.Errorf("building tool registry: %w", err)
	}

	engine, err := policy.NewEngine(ctx, prof.Guardrails.RegisterPhrases)
	if err != nil {
		return fmt.Errorf("building guardrail engine: %w", err)
	}

	provider := buildProvider(cfg, llmKey)
	planner := agent.NewPlanner(provider, cfg.LLMModel, cfg.LLMTemperature, cfg.LLMMaxTokens)

	var answerer agent.AnswerService
	if cfg.AnswererEnabled {
		answerer = agent.NewAnswerer(provider, cfg.LLMModel, cfg.LLMTemperature, cfg.LLMMaxTokens)
	}

	var sender mailer.Sender
	if cfg.SMTPHost != "" {
		sender = mailer.NewSMTP(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, smtpPass, cfg.SMTPFrom)
	} else {
		log.Warn().Msg("smtp_host not set — verification mails are logged, not sent")
		sender = mailer.DevLogger{}
	}

	limiter := ratelimit.NewFixedWindow(cfg.RateLimitSessionMax, time.Duration(cfg.RateLimitWindowSec)*time.Second)

	orch := &agent.Orchestrator{
		Limiter:       limiter,
		Dedupe:        dedupeStore,
		Sessions:      sessions,
		Confirmations: confirmations,
		Planner:       planner,
		Answerer:      answerer,
		Guardrails:    engine,
		Executor:      tools.NewExecutor(registry, bus),
		Bus:           bus,
		Mailer:        sender,
		Debug:         cfg.ExposeDebug && cfg.IsDev(),
	}

	janitor := &server.Janitor{
		Dedupe:           dedupeStore,
		Sessions:         sessions,
		Confirmations:    confirmations,
		Audit:            auditStore,
		Limiter:          limiter,
		ConfirmRetention: 24 * time.Hour,
	}
	if serveJanitorSpec != "" {
		cronRunner, err := janitor.Schedule(serveJanitorSpec)
		if err != nil {
			return fmt.Errorf("scheduling janitor: %w", err)
		}
		defer cronRunner.Stop()
	}

	ipLimiter := ratelimit.NewIPLimiter(cfg.IPRateLimitRPM*10, cfg.IPRateLimitRPM)

	srv := server.New(orch, cfg.InternalAPIKey,
		server.WithAuditStore(auditStore),
		server.WithJanitor(janitor),
		server.WithIPLimiter(ipLimiter),
		server.WithWebhookVerification(cfg.WebhookSecret, time.Duration(cfg.ReplayWindowSec)*time.Second),
		server.WithVersion(resolvedVersion()),
		server.WithCORSOrigins([]string{"*"}),
	)

	addr := fmt.Sprintf(":%d", servePort)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      srv.Routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	log.Info().
		Str("addr", addr).
		Str("business", prof.Business.Name).
		Str("llm_provider", cfg.LLMProvider).
		Str("llm_model", cfg.LLMModel).
		Bool("answerer", cfg.AnswererEnabled).
		Bool("webhook_signature", cfg.WebhookSecret != "").
		Int("tools", len(registry.List())).
		Msg("frontdesk_serve_started")

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown_signal_received")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info().Msg("server_stopped")
	return nil
}
