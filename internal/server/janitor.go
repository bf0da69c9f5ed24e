package server

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/frontdesk-io/frontdesk/internal/audit"
	"github.com/frontdesk-io/frontdesk/internal/confirm"
	"github.com/frontdesk-io/frontdesk/internal/dedupe"
	"github.com/frontdesk-io/frontdesk/internal/ratelimit"
	"github.com/frontdesk-io/frontdesk/internal/session"
)

// Janitor expires state across the stores. The admin cleanup endpoints
// call it on demand; Schedule runs it periodically.
type Janitor struct {
	Dedupe        *dedupe.Store
	Sessions      *session.Store
	Confirmations *confirm.Store
	Audit         *audit.SQLiteStore
	Limiter       *ratelimit.FixedWindow

	// ConfirmRetention keeps consumed/expired confirmations around for
	// inspection before deleting them.
	ConfirmRetention time.Duration
	// AuditRetention bounds the audit table; zero keeps events forever.
	AuditRetention time.Duration
}

func (j *Janitor) CleanupDedupe(ctx context.Context) (int64, error) {
	if j.Dedupe == nil {
		return 0, nil
	}
	return j.Dedupe.Cleanup(ctx)
}

func (j *Janitor) CleanupSessions(ctx context.Context) (int64, error) {
	if j.Sessions == nil {
		return 0, nil
	}
	return j.Sessions.Cleanup(ctx)
}

func (j *Janitor) CleanupConfirmations(ctx context.Context) (expired, deleted int64, err error) {
	if j.Confirmations == nil {
		return 0, 0, nil
	}
	return j.Confirmations.Cleanup(ctx, j.ConfirmRetention)
}

// RunOnce sweeps every store and returns the per-store counts. Failures
// are logged and skipped so one store cannot block the rest.
func (j *Janitor) RunOnce(ctx context.Context) map[string]int64 {
	counts := make(map[string]int64)

	if n, err := j.CleanupDedupe(ctx); err != nil {
		log.Warn().Err(err).Msg("janitor_dedupe_failed")
	} else {
		counts["dedupe_deleted"] = n
	}
	if n, err := j.CleanupSessions(ctx); err != nil {
		log.Warn().Err(err).Msg("janitor_sessions_failed")
	} else {
		counts["sessions_deleted"] = n
	}
	if expired, deleted, err := j.CleanupConfirmations(ctx); err != nil {
		log.Warn().Err(err).Msg("janitor_confirmations_failed")
	} else {
		counts["confirmations_expired"] = expired
		counts["confirmations_deleted"] = deleted
	}
	if j.Audit != nil && j.AuditRetention > 0 {
		if n, err := j.Audit.Cleanup(ctx, time.Now().Add(-j.AuditRetention)); err != nil {
			log.Warn().Err(err).Msg("janitor_audit_failed")
		} else {
			counts["audit_deleted"] = n
		}
	}
	if j.Limiter != nil {
		counts["rate_windows_swept"] = int64(j.Limiter.Sweep())
	}

	log.Debug().Interface("counts", counts).Msg("janitor_run")
	return counts
}

// Schedule starts a cron loop running RunOnce on the given spec
// (e.g. "@every 10m"). The returned cron should be stopped on shutdown.
func (j *Janitor) Schedule(spec string) (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		j.RunOnce(context.Background())
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	return c, nil
}
