package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"example.com/star/internal/access"
	"example.com/star/internal/auth"
	"example.com/star/internal/config"
	"example.com/star/internal/domain"
	"example.com/star/internal/elapsed"
	"example.com/star/internal/persistence/memory"
	"example.com/star/internal/persistence/postgres"
	"example.com/star/internal/photos"
	"example.com/star/internal/state"
	"example.com/star/internal/tui"
)

// store is the remote document store: activities plus users.
type store interface {
	domain.ActivityStore
	domain.UserStore
}

func main() {
	cfg := config.Load()

	email := flag.String("email", cfg.UserEmail, "signed-in user email")
	inMemory := flag.Bool("memory", false, "keep activities in memory instead of postgres")
	logFile := flag.String("log-file", "", "append logs to this file (default: discard)")
	printToken := flag.Bool("print-token", false, "print an API bearer token for -email and exit")
	flag.Parse()

	if *email == "" {
		fmt.Fprintln(os.Stderr, "an email is required: set STAR_USER_EMAIL or pass -email")
		os.Exit(2)
	}

	if *printToken {
		token, err := auth.Sign(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer}, *email,
			[]string{auth.ScopeActivitiesRead, auth.ScopeActivitiesWrite}, 24*time.Hour)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(token)
		return
	}

	var out io.Writer = io.Discard
	if *logFile != "" {
		f, err := os.OpenFile(*logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		defer f.Close()
		out = f
	}
	logger := cfg.NewLogger(out)

	if err := run(cfg, *email, *inMemory, logger); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfg config.Config, email string, inMemory bool, logger *logrus.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	docs, closeDocs, err := openStore(ctx, cfg, email, inMemory, logger)
	if err != nil {
		return err
	}
	defer closeDocs()

	photoStore, err := photos.Open(ctx, photos.Config{Path: cfg.PhotoDBPath}, logger)
	if err != nil {
		return fmt.Errorf("open photo store: %w", err)
	}
	defer photoStore.Close()

	elapsedClient, err := elapsed.NewClient(elapsed.ClientConfig{
		BaseURL: cfg.ElapsedTimeURL,
		Timeout: cfg.ElapsedTimeTimeout,
	}, logger)
	if err != nil {
		return err
	}

	activities := state.NewHolder(access.NewActivities(docs, docs, access.WithLogger(logger)), logger)
	defer activities.Close()
	photoHolder := state.NewPhotoHolder(photoStore, logger)
	defer photoHolder.Close()
	elapsedHolder := state.NewElapsedHolder(elapsedClient, logger)
	defer elapsedHolder.Close()

	model := tui.New(tui.Config{
		Email:      email,
		Activities: activities,
		Photos:     photoHolder,
		Elapsed:    elapsedHolder,
	})
	defer model.Close()

	if _, err := tea.NewProgram(model, tea.WithAltScreen()).Run(); err != nil {
		return fmt.Errorf("run terminal ui: %w", err)
	}
	return nil
}

func openStore(ctx context.Context, cfg config.Config, email string, inMemory bool, logger logrus.FieldLogger) (store, func(), error) {
	if inMemory {
		mem, err := memory.NewStore(logger)
		if err != nil {
			return nil, nil, err
		}
		// the signed-in user must exist to be added as a collaborator elsewhere
		if err := mem.AddUser(ctx, domain.User{Email: email, Username: email}); err != nil {
			return nil, nil, err
		}
		return mem, func() {}, nil
	}

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := postgres.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("apply schema: %w", err)
	}
	return postgres.NewRepository(pool, logger), pool.Close, nil
}
