package app

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"libraryhub/pkg/domain"
	"libraryhub/pkg/events"
	"libraryhub/pkg/storage"
	"libraryhub/pkg/store"
)

const testJWTSecret = "0123456789abcdef0123456789abcdef"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type fixture struct {
	app     *App
	store   *store.GormStore
	clock   *testClock
	events  *events.MemoryPublisher
	objects *storage.MemoryStore
	admin   Actor
}

type fixtureOption func(*Config)

func withMaxRenewals(n int) fixtureOption {
	return func(c *Config) { c.MaxRenewals = n }
}

func withFineRate(cents int64) fixtureOption {
	return func(c *Config) { c.FineDailyRateCents = &cents }
}

func withoutObjects() fixtureOption {
	return func(c *Config) { c.Objects = nil }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	s, err := store.NewGormStore("sqlite:" + filepath.Join(t.TempDir(), "library.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	sessions, err := store.NewJWTSessionStore(testJWTSecret, time.Hour, store.NewMemoryTokenRevoker())
	require.NoError(t, err)

	clock := &testClock{now: time.Date(2024, 11, 15, 10, 0, 0, 0, time.UTC)}
	pub := &events.MemoryPublisher{}
	objects := storage.NewMemoryStore("http://covers.test")
	cfg := Config{
		Store:     s,
		Sessions:  sessions,
		Objects:   objects,
		Publisher: pub,
		Now:       clock.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	a, err := New(cfg)
	require.NoError(t, err)
	return &fixture{app: a, store: s, clock: clock, events: pub, objects: objects, admin: SystemActor()}
}

func (f *fixture) member(t *testing.T, name string) domain.User {
	t.Helper()
	u, err := f.app.CreateUser(context.Background(), UserInput{
		Name:  name,
		Email: name + "@example.com",
		Role:  domain.RoleStudent,
	})
	require.NoError(t, err)
	return u
}

func (f *fixture) book(t *testing.T, title string, copies int) (domain.BookView, []domain.Copy) {
	t.Helper()
	ctx := context.Background()
	b, err := f.app.CreateBook(ctx, domain.Book{Title: title})
	require.NoError(t, err)
	if copies == 0 {
		return b, nil
	}
	created, err := f.app.AddCopies(ctx, b.ID, copies, "")
	require.NoError(t, err)
	return b, created
}

// requireCopyLoanInvariant checks that a copy is Loaned exactly when one open
// loan references it.
func (f *fixture) requireCopyLoanInvariant(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	copies, err := f.store.ListCopies(ctx, store.CopyFilter{})
	require.NoError(t, err)
	open, err := f.store.ListLoans(ctx, store.LoanFilter{OpenOnly: true})
	require.NoError(t, err)
	openByCopy := map[uint]int{}
	for _, l := range open {
		openByCopy[l.CopyID]++
	}
	for _, c := range copies {
		if c.Status == domain.CopyLoaned {
			require.Equalf(t, 1, openByCopy[c.ID], "loaned copy %s must have exactly one open loan", c.Barcode)
		} else {
			require.Zerof(t, openByCopy[c.ID], "copy %s is %s but has open loans", c.Barcode, c.Status)
		}
	}
}

func TestNewRequiresStore(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}

func TestNewRejectsNegativePolicy(t *testing.T) {
	s, err := store.NewGormStore("sqlite:" + filepath.Join(t.TempDir(), "library.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	_, err = New(Config{Store: s, MaxRenewals: -1})
	require.Error(t, err)
	_, err = New(Config{Store: s, DefaultLoanDays: 400})
	require.Error(t, err)
}

func TestActorAuthorization(t *testing.T) {
	require.True(t, SystemActor().Admin())
	require.True(t, Actor{ID: 1, Role: domain.RoleStaff}.Admin())
	member := Actor{ID: 7, Role: domain.RoleProfessor}
	require.False(t, member.Admin())
	require.True(t, member.canActFor(7))
	require.False(t, member.canActFor(8))
	require.False(t, Actor{}.canActFor(0))
}
