package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/conorfennell/cardcue/internal/auth"
	"github.com/conorfennell/cardcue/internal/config"
	"github.com/conorfennell/cardcue/internal/flashcards"
	"github.com/conorfennell/cardcue/internal/fsrs"
	"github.com/conorfennell/cardcue/internal/importer"
	"github.com/conorfennell/cardcue/internal/session"
	"github.com/conorfennell/cardcue/internal/storage"
	"github.com/conorfennell/cardcue/internal/telemetry"
	"github.com/conorfennell/cardcue/internal/web"
)

var version = "dev"

const usage = `usage: cardcue [command] [flags]

commands:
  serve                          run the HTTP API (default)
  import --user <uuid> <source>  create manual cards from a deck directory, file or git URL
  token --user <uuid>            print an access token for local development`

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cmd := "serve"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}
	switch cmd {
	case "serve":
		return serve(args)
	case "import":
		return importDeck(args)
	case "token":
		return issueToken(args)
	case "help":
		fmt.Println(usage)
		return nil
	default:
		return fmt.Errorf("unknown command %q\n%s", cmd, usage)
	}
}

// load parses args for the named command and builds its configuration.
// extra registers command specific flags.
func load(name string, args []string, extra func(*pflag.FlagSet)) (*config.Config, *pflag.FlagSet, error) {
	flags := pflag.NewFlagSet(name, pflag.ContinueOnError)
	config.RegisterFlags(flags)
	if extra != nil {
		extra(flags)
	}
	if err := flags.Parse(args); err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load(flags)
	if err != nil {
		return nil, nil, err
	}
	return cfg, flags, nil
}

func serve(args []string) error {
	// 1. Configuration and logging
	cfg, _, err := load("serve", args, nil)
	if err != nil {
		return err
	}
	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required to serve the API")
	}
	logger, err := telemetry.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.InitTracing(ctx, telemetry.TracingConfig{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		ServiceName: "cardcue",
		Version:     version,
	})
	if err != nil {
		return err
	}

	// 2. Storage and services
	db, err := storage.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Info("Database opened", zap.String("driver", db.Driver()))

	params, err := cfg.SchedulerParams()
	if err != nil {
		return err
	}
	scheduler, err := fsrs.NewScheduler(params)
	if err != nil {
		return err
	}
	verifier, err := auth.NewVerifier(auth.Config{
		Secret:   cfg.Auth.JWTSecret,
		Audience: cfg.Auth.Audience,
		Issuer:   cfg.Auth.Issuer,
		Leeway:   cfg.Auth.Leeway,
	})
	if err != nil {
		return err
	}
	metrics := telemetry.NewCollector("cardcue")

	handler := web.NewServer(web.Options{
		Sessions: session.NewService(db, scheduler,
			session.WithLogger(logger),
			session.WithMetrics(metrics),
			session.WithOperationTimeout(cfg.Session.OperationTimeout),
		),
		Cards: flashcards.NewService(db,
			flashcards.WithLogger(logger),
			flashcards.WithCounter(metrics),
		),
		DB:          db,
		Verifier:    verifier,
		Metrics:     metrics,
		Logger:      logger,
		CORSOrigins: cfg.Server.CORSOrigins,
	})

	// 3. Serve until interrupted
	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting server", zap.String("address", srv.Addr), zap.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return shutdownTracing(shutdownCtx)
}

func importDeck(args []string) error {
	var user string
	cfg, flags, err := load("import", args, func(fs *pflag.FlagSet) {
		fs.StringVar(&user, "user", "", "id of the user the cards are created for")
	})
	if err != nil {
		return err
	}
	userID, err := uuid.Parse(user)
	if err != nil {
		return fmt.Errorf("--user must be a UUID: %w", err)
	}
	if flags.NArg() != 1 {
		return fmt.Errorf("import takes exactly one source\n%s", usage)
	}

	logger, err := telemetry.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := storage.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer db.Close()

	cards := flashcards.NewService(db, flashcards.WithLogger(logger))
	report, err := importer.New(cards, logger, cfg.Import.CacheDir).Import(ctx, userID, flags.Arg(0))
	if err != nil {
		return err
	}

	fmt.Printf("Parsed %d cards: %d created, %d duplicates, %d errors.\n",
		report.Parsed, report.Created, report.Duplicates, len(report.Errors))
	if len(report.Errors) > 0 {
		fmt.Println("\nErrors:")
		for _, e := range report.Errors {
			fmt.Printf("- %s\n", e)
		}
	}
	return nil
}

func issueToken(args []string) error {
	var (
		user string
		ttl  time.Duration
	)
	cfg, _, err := load("token", args, func(fs *pflag.FlagSet) {
		fs.StringVar(&user, "user", "", "id of the user the token is issued to")
		fs.DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	})
	if err != nil {
		return err
	}
	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required to sign tokens")
	}
	userID, err := uuid.Parse(user)
	if err != nil {
		return fmt.Errorf("--user must be a UUID: %w", err)
	}

	token, err := auth.Sign(cfg.Auth.JWTSecret, userID, ttl, cfg.Auth.Audience, cfg.Auth.Issuer)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
