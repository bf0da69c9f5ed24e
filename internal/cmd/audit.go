package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/cobra"

	"github.com/frontdesk-io/frontdesk/internal/audit"
	"github.com/frontdesk-io/frontdesk/internal/config"
)

var (
	auditSession string
	auditRequest string
	auditType    string
	auditLimit   int
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Query the conversation audit trail",
}

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List audit events",
	RunE:  auditList,
}

func init() {
	auditListCmd.Flags().StringVar(&auditSession, "session", "", "Filter by session ID")
	auditListCmd.Flags().StringVar(&auditRequest, "request", "", "Filter by request ID")
	auditListCmd.Flags().StringVar(&auditType, "type", "", "Filter by event type (IN, PLAN, TOOL, OUT, CONFIRM, ERROR)")
	auditListCmd.Flags().IntVar(&auditLimit, "limit", 20, "Maximum events to show")

	auditCmd.AddCommand(auditListCmd)
	rootCmd.AddCommand(auditCmd)
}

func openAuditStore() (*audit.SQLiteStore, *sql.DB, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	db, err := sql.Open("sqlite3", cfg.AgentDBPath())
	if err != nil {
		return nil, nil, fmt.Errorf("opening agent database: %w", err)
	}
	store, err := audit.NewSQLiteStore(db)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return store, db, nil
}

func auditList(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	store, db, err := openAuditStore()
	if err != nil {
		return fmt.Errorf("initializing audit store: %w", err)
	}
	defer db.Close()

	events, err := store.List(ctx, auditSession, auditRequest, auditType, time.Time{}, time.Time{}, auditLimit)
	if err != nil {
		return fmt.Errorf("querying audit trail: %w", err)
	}

	if len(events) == 0 {
		fmt.Println("No audit events found.")
		return nil
	}
	renderAuditList(os.Stdout, events)
	return nil
}

// renderAuditList writes audit event lines to w.
func renderAuditList(w io.Writer, events []*audit.Event) {
	fmt.Fprintf(w, "Audit Events (showing %d):\n\n", len(events))
	for _, ev := range events {
		detail := ev.Intent
		if ev.ToolName != "" {
			detail = ev.ToolName
			if ev.Confirmed {
				detail += " [confirmed]"
			}
		}
		fmt.Fprintf(w, "  %-7s | %s | %s | %s | %s\n",
			ev.Type,
			ev.CreatedAt.Format("2006-01-02 15:04:05"),
			ev.SessionID,
			ev.Channel,
			detail,
		)
	}
}
