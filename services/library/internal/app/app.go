package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"libraryhub/internal/util"
	"libraryhub/pkg/domain"
	"libraryhub/pkg/events"
	"libraryhub/pkg/storage"
	"libraryhub/pkg/store"
)

const (
	defaultLoanDays       = 14
	defaultRenewDays      = 7
	defaultFineDailyRate  = 200
	defaultStatsCacheTTL  = 30 * time.Second
	coverURLExpiry        = 15 * time.Minute
	eventPublishTimeout   = 5 * time.Second
	maxCopiesPerOperation = 500
	maxPeriodDays         = 365
)

// SessionManager issues, validates and revokes member sessions.
type SessionManager interface {
	store.SessionStore
	RevokeUserSessions(userID uint, cutoff time.Time) error
}

// Config holds runtime configuration for the core application.
type Config struct {
	Store     store.Store
	Sessions  SessionManager
	Objects   storage.ObjectStore
	Publisher events.Publisher

	DefaultLoanDays    int
	DefaultRenewDays   int
	MaxRenewals        int
	// FineDailyRateCents is the overdue charge per day. Nil selects the
	// default rate; zero waives fines.
	FineDailyRateCents *int64
	// StatsCacheTTL caches the dashboard; negative disables caching.
	StatsCacheTTL time.Duration

	Now func() time.Time
}

// App is the library service layer. Every lifecycle mutation runs in a single
// store transaction and publishes its event after commit.
type App struct {
	store    store.Store
	sessions SessionManager
	objects  storage.ObjectStore
	events   events.Publisher

	loanDays    int
	renewDays   int
	maxRenewals int
	fineRate    int64

	dashboard *expirable.LRU[string, domain.Dashboard]
	now       func() time.Time
}

// Actor is the authenticated caller of an operation.
type Actor struct {
	ID   uint
	Role domain.UserRole
}

// ActorOf returns the actor for an authenticated user.
func ActorOf(u domain.User) Actor {
	return Actor{ID: u.ID, Role: u.Role}
}

// SystemActor is used by trusted callers such as the admin CLI.
func SystemActor() Actor {
	return Actor{Role: domain.RoleLibrarian}
}

// Admin reports whether the actor holds an administrative role.
func (a Actor) Admin() bool {
	return domain.IsAdministrative(a.Role)
}

// canActFor reports whether the actor may operate on records owned by userID.
func (a Actor) canActFor(userID uint) bool {
	return a.Admin() || (a.ID != 0 && a.ID == userID)
}

// New constructs the application.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, errors.New("store is required")
	}
	if cfg.DefaultLoanDays == 0 {
		cfg.DefaultLoanDays = defaultLoanDays
	}
	if cfg.DefaultRenewDays == 0 {
		cfg.DefaultRenewDays = defaultRenewDays
	}
	fineRate := int64(defaultFineDailyRate)
	if cfg.FineDailyRateCents != nil {
		fineRate = *cfg.FineDailyRateCents
	}
	if cfg.DefaultLoanDays < 0 || cfg.DefaultRenewDays < 0 || cfg.MaxRenewals < 0 || fineRate < 0 {
		return nil, fmt.Errorf("loan days, renew days, renewal cap and fine rate must not be negative")
	}
	if cfg.DefaultLoanDays > maxPeriodDays || cfg.DefaultRenewDays > maxPeriodDays {
		return nil, fmt.Errorf("loan and renew days must not exceed %d", maxPeriodDays)
	}
	if cfg.Publisher == nil {
		cfg.Publisher = events.NopPublisher{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.StatsCacheTTL == 0 {
		cfg.StatsCacheTTL = defaultStatsCacheTTL
	}
	a := &App{
		store:       cfg.Store,
		sessions:    cfg.Sessions,
		objects:     cfg.Objects,
		events:      cfg.Publisher,
		loanDays:    cfg.DefaultLoanDays,
		renewDays:   cfg.DefaultRenewDays,
		maxRenewals: cfg.MaxRenewals,
		fineRate:    fineRate,
		now:         func() time.Time { return cfg.Now().UTC() },
	}
	if cfg.StatsCacheTTL > 0 {
		a.dashboard = expirable.NewLRU[string, domain.Dashboard](4, nil, cfg.StatsCacheTTL)
	}
	return a, nil
}

// DefaultLoanDays is used when a checkout does not name a loan period.
func (a *App) DefaultLoanDays() int { return a.loanDays }

// DefaultRenewDays is used when a renewal does not name an extension.
func (a *App) DefaultRenewDays() int { return a.renewDays }

// FineDailyRateCents is the per-day overdue charge.
func (a *App) FineDailyRateCents() int64 { return a.fineRate }

// Close releases the event publisher.
func (a *App) Close() error {
	return a.events.Close()
}

// publish sends an event after commit. Failures are logged and never returned.
func (a *App) publish(ctx context.Context, eventType string, payload any) {
	logger := util.LoggerFromContext(ctx)
	evt, err := events.New(eventType, payload, a.now())
	if err != nil {
		logger.Error("encode event failed", "type", eventType, "err", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), eventPublishTimeout)
	defer cancel()
	if err := a.events.Publish(ctx, evt); err != nil {
		logger.Warn("publish event failed", "type", eventType, "event_id", evt.ID, "err", err)
		return
	}
	logger.Debug("event published", "type", eventType, "event_id", evt.ID)
}

// invalidateStats drops cached aggregates after a mutation that changes them.
func (a *App) invalidateStats() {
	if a.dashboard != nil {
		a.dashboard.Purge()
	}
}
