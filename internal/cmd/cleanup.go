package cmd

import (
	"database/sql"
	"fmt"
	"sort"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/cobra"

	"github.com/frontdesk-io/frontdesk/internal/audit"
	"github.com/frontdesk-io/frontdesk/internal/config"
	"github.com/frontdesk-io/frontdesk/internal/confirm"
	"github.com/frontdesk-io/frontdesk/internal/dedupe"
	"github.com/frontdesk-io/frontdesk/internal/server"
	"github.com/frontdesk-io/frontdesk/internal/session"
)

var cleanupAuditDays int

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Expire stale sessions, dedupe entries and confirmations",
	RunE:  runCleanup,
}

func init() {
	cleanupCmd.Flags().IntVar(&cleanupAuditDays, "audit-retention-days", 0, "also delete audit events older than this many days (0 keeps everything)")
	rootCmd.AddCommand(cleanupCmd)
}

func runCleanup(cmd *cobra.Command, args []string) error {
	ctx, span := tracer.Start(cmd.Context(), "cleanup")
	defer span.End()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
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

	janitor := &server.Janitor{
		Dedupe:           dedupeStore,
		Sessions:         sessions,
		Confirmations:    confirmations,
		Audit:            auditStore,
		ConfirmRetention: 24 * time.Hour,
		AuditRetention:   time.Duration(cleanupAuditDays) * 24 * time.Hour,
	}

	counts := janitor.RunOnce(ctx)
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("  %s: %d\n", k, counts[k])
	}
	return nil
}
