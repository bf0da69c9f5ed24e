package tools

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Option tweaks the builtin registry assembly.
type Option func(*builtinConfig)

type builtinConfig struct {
	windows  WindowsFunc
	services []ServiceDef
}

// WithBusinessWindows replaces the default business-hours windows used
// by availability lookups, typically from the agent profile.
func WithBusinessWindows(fn WindowsFunc) Option {
	return func(c *builtinConfig) {
		if fn != nil {
			c.windows = fn
		}
	}
}

// WithServices merges extra services into the bookable catalog on top
// of the seeded defaults.
func WithServices(defs []ServiceDef) Option {
	return func(c *builtinConfig) {
		c.services = append(c.services, defs...)
	}
}

// NewBuiltinRegistry assembles the static tool catalog: the demo tools
// plus customer registration and appointment booking backed by the given
// database. pepper salts the hashed email verification codes.
func NewBuiltinRegistry(db *sql.DB, pepper string, opts ...Option) (*Registry, error) {
	cfg := builtinConfig{windows: businessWindows}
	for _, opt := range opts {
		opt(&cfg)
	}

	customers, err := NewCustomerStore(db, pepper)
	if err != nil {
		return nil, fmt.Errorf("building customer store: %w", err)
	}
	appointments, err := NewAppointmentStore(db)
	if err != nil {
		return nil, fmt.Errorf("building appointment store: %w", err)
	}
	for _, def := range cfg.services {
		if err := appointments.UpsertService(context.Background(), def); err != nil {
			return nil, err
		}
	}

	reg := NewRegistry()
	reg.Register(GetHelpTool{})
	reg.Register(IdentifyCustomerTool{})
	reg.Register(GetReportTool{})
	reg.Register(CreateTicketTool{})
	reg.Register(NewRegisterCustomerTool(customers))
	reg.Register(NewVerifyEmailCodeTool(customers))
	reg.Register(NewResendVerificationCodeTool(customers))
	availability := NewGetAvailabilityTool(appointments)
	availability.windows = cfg.windows
	reg.Register(availability)
	reg.Register(NewCreateAppointmentTool(appointments))
	reg.Register(NewListAppointmentsTool(appointments))
	reg.Register(NewCancelAppointmentTool(appointments))
	reg.Register(NewRescheduleAppointmentTool(appointments))
	return reg, nil
}
