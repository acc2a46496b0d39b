package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"libraryhub/internal/util"
	"libraryhub/pkg/domain"
	"libraryhub/pkg/events"
	"libraryhub/pkg/store"
	"libraryhub/services/library/internal/app"
	"libraryhub/services/library/internal/config"
)

// env bundles what every subcommand needs.
type env struct {
	cfg   config.FileConfig
	store *store.GormStore
	app   *app.App
}

func (e *env) Close() {
	_ = e.app.Close()
	_ = e.store.Close()
}

func openEnv(configPath string) (*env, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	util.InitLogger(cfg.LogLevel, cfg.LogFormat)
	db, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	// Lifecycle events are not published from the CLI.
	a, err := app.New(app.Config{
		Store:              db,
		DefaultLoanDays:    cfg.DefaultLoanDays,
		DefaultRenewDays:   cfg.DefaultRenewDays,
		MaxRenewals:        cfg.MaxRenewals,
		FineDailyRateCents: cfg.FineDailyRateCents,
		StatsCacheTTL:      -1,
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &env{cfg: cfg, store: db, app: a}, nil
}

func newMigrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := openEnv(*configPath)
			if err != nil {
				return err
			}
			defer e.Close()
			// NewGormStore migrates on open; run again so the command is explicit.
			if err := store.Migrate(e.store.DB()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		},
	}
}

func newCreateAdminCmd(configPath *string) *cobra.Command {
	var email, name, role string
	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create a staff or librarian account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			userRole := domain.UserRole(role)
			if !domain.IsAdministrative(userRole) {
				return fmt.Errorf("role must be %s or %s", domain.RoleStaff, domain.RoleLibrarian)
			}
			password, err := readPassword(cmd.InOrStdin(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			e, err := openEnv(*configPath)
			if err != nil {
				return err
			}
			defer e.Close()
			user, err := e.app.CreateUser(cmd.Context(), app.UserInput{
				Name:     name,
				Email:    email,
				Password: password,
				Role:     userRole,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s %s (id=%d card=%s)\n", user.Role, user.Email, user.ID, user.CardNumber)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&role, "role", string(domain.RoleLibrarian), "Staff or Librarian")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

// readPassword prompts twice on a terminal and reads one line otherwise.
func readPassword(in io.Reader, out io.Writer) (string, error) {
	f, ok := in.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("read password: %w", err)
		}
		return strings.TrimRight(line, "\r\n"), nil
	}
	fd := int(f.Fd())
	fmt.Fprint(out, "Password: ")
	first, err := term.ReadPassword(fd)
	fmt.Fprintln(out)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	fmt.Fprint(out, "Repeat password: ")
	second, err := term.ReadPassword(fd)
	fmt.Fprintln(out)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	if string(first) != string(second) {
		return "", errors.New("passwords do not match")
	}
	return string(first), nil
}

func newOverdueCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "overdue",
		Short: "List overdue loans with the fine owed so far",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := openEnv(*configPath)
			if err != nil {
				return err
			}
			defer e.Close()
			loans, err := e.app.OverdueLoans(cmd.Context(), app.SystemActor())
			if err != nil {
				return err
			}
			return printOverdue(cmd.OutOrStdout(), e.app, loans)
		},
	}
}

func printOverdue(w io.Writer, a *app.App, loans []domain.LoanView) error {
	if len(loans) == 0 {
		_, err := fmt.Fprintln(w, "no overdue loans")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "LOAN\tUSER\tBOOK\tBARCODE\tDUE\tDAYS LATE\tFINE")
	for _, l := range loans {
		days, cents := a.ComputeFine(l.Loan)
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%d\t%d.%02d\n",
			l.ID, l.UserName, l.BookTitle, l.Barcode, l.DueDate.Format(time.DateOnly), days, cents/100, cents%100)
	}
	return tw.Flush()
}

func newSeedCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Insert a small demo catalog",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := openEnv(*configPath)
			if err != nil {
				return err
			}
			defer e.Close()
			n, err := seedCatalog(cmd.Context(), e.app)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d books\n", n)
			return nil
		},
	}
}

type seedBook struct {
	title    string
	isbn     string
	year     int
	author   string
	category string
	copies   int
}

var demoBooks = []seedBook{
	{"Nineteen Eighty-Four", "9780451524935", 1949, "George Orwell", "Fiction", 3},
	{"Animal Farm", "9780451526342", 1945, "George Orwell", "Fiction", 2},
	{"The Left Hand of Darkness", "9780441478125", 1969, "Ursula K. Le Guin", "Science Fiction", 2},
	{"A Brief History of Time", "9780553380163", 1988, "Stephen Hawking", "Science", 1},
}

// seedCatalog creates the demo books with their authors and categories.
// Existing names are reused and books already present are skipped.
func seedCatalog(ctx context.Context, a *app.App) (int, error) {
	publisherID, err := seedPublisher(ctx, a, "Demo Press")
	if err != nil {
		return 0, err
	}
	books, err := a.ListBooks(ctx, app.BookQuery{})
	if err != nil {
		return 0, err
	}
	titles := make(map[string]bool, len(books))
	for _, b := range books {
		titles[b.Title] = true
	}
	authors := map[string]uint{}
	categories := map[string]uint{}
	existingCats, err := a.ListCategories(ctx)
	if err != nil {
		return 0, err
	}
	for _, c := range existingCats {
		categories[c.Name] = c.ID
	}
	existingAuthors, err := a.ListAuthors(ctx)
	if err != nil {
		return 0, err
	}
	for _, au := range existingAuthors {
		authors[au.Name] = au.ID
	}

	created := 0
	for _, sb := range demoBooks {
		if titles[sb.title] {
			continue
		}
		authorID, ok := authors[sb.author]
		if !ok {
			au, err := a.CreateAuthor(ctx, domain.Author{Name: sb.author})
			if err != nil {
				return 0, fmt.Errorf("seed author %q: %w", sb.author, err)
			}
			authorID = au.ID
			authors[sb.author] = authorID
		}
		categoryID, ok := categories[sb.category]
		if !ok {
			c, err := a.CreateCategory(ctx, domain.Category{Name: sb.category})
			if err != nil {
				return 0, fmt.Errorf("seed category %q: %w", sb.category, err)
			}
			categoryID = c.ID
			categories[sb.category] = categoryID
		}
		book, err := a.CreateBook(ctx, domain.Book{
			Title:       sb.title,
			ISBN:        sb.isbn,
			EditionYear: sb.year,
			PublisherID: &publisherID,
			CategoryID:  &categoryID,
			AuthorIDs:   []uint{authorID},
		})
		if err != nil {
			return 0, fmt.Errorf("seed book %q: %w", sb.title, err)
		}
		if _, err := a.AddCopies(ctx, book.ID, sb.copies, "General"); err != nil {
			return 0, fmt.Errorf("seed copies for %q: %w", sb.title, err)
		}
		created++
	}
	return created, nil
}

func seedPublisher(ctx context.Context, a *app.App, name string) (uint, error) {
	publishers, err := a.ListPublishers(ctx)
	if err != nil {
		return 0, err
	}
	for _, p := range publishers {
		if p.Name == name {
			return p.ID, nil
		}
	}
	p, err := a.CreatePublisher(ctx, domain.Publisher{Name: name})
	if err != nil {
		return 0, fmt.Errorf("seed publisher: %w", err)
	}
	return p.ID, nil
}

func newEventsCmd(configPath *string) *cobra.Command {
	var group, consumer string
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Follow lifecycle events on the Redis stream",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			util.InitLogger(cfg.LogLevel, cfg.LogFormat)
			if cfg.RedisAddr == "" {
				return errors.New("redisAddr is not configured")
			}
			stream, err := events.NewRedisStream(events.RedisStreamConfig{
				Addr:     cfg.RedisAddr,
				Password: cfg.RedisPassword,
				Stream:   cfg.EventsStream,
			})
			if err != nil {
				return err
			}
			defer stream.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			out := cmd.OutOrStdout()
			return stream.Consume(ctx, group, consumer, func(_ context.Context, evt events.Event) error {
				_, err := fmt.Fprintf(out, "%s\t%s\t%s\n", evt.OccurredAt.Format(time.RFC3339), evt.Type, evt.Payload)
				return err
			})
		},
	}
	host, _ := os.Hostname()
	cmd.Flags().StringVar(&group, "group", "libraryctl", "consumer group")
	cmd.Flags().StringVar(&consumer, "consumer", host, "consumer name within the group")
	return cmd
}
