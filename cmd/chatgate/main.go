package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/gosuda/chatgate/internal/auth"
	"github.com/gosuda/chatgate/internal/config"
	"github.com/gosuda/chatgate/internal/dispatch"
	"github.com/gosuda/chatgate/internal/executor"
	"github.com/gosuda/chatgate/internal/gateway"
	"github.com/gosuda/chatgate/internal/messenger"
	gateslack "github.com/gosuda/chatgate/internal/messenger/slack"
	"github.com/gosuda/chatgate/internal/replay"
	"github.com/gosuda/chatgate/internal/server"
	"github.com/gosuda/chatgate/internal/session"
	"github.com/gosuda/chatgate/internal/store/postgres"
	redisstore "github.com/gosuda/chatgate/internal/store/redis"
)

func main() {
	var err error
	if len(os.Args) > 1 && os.Args[1] == "token" {
		err = runToken(os.Args[2:], os.Stdout)
	} else {
		err = run(os.Args[1:])
	}
	if err != nil {
		log.Fatal().Err(err).Msg("chatgate failed")
	}
}

func setupLogger(level, format string, out io.Writer) {
	lvl, parseErr := zerolog.ParseLevel(level)
	if parseErr != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	if format == "text" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: out}).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(out).With().Timestamp().Logger()
	}
}

func run(args []string) error {
	flags := pflag.NewFlagSet("chatgate", pflag.ContinueOnError)
	logLevel := flags.String("log-level", "", "log level (overrides CHATGATE_LOG_LEVEL)")
	logFormat := flags.String("log-format", "", "log format: json or text (overrides CHATGATE_LOG_FORMAT)")
	migrate := flags.Bool("migrate", true, "create missing database tables on startup")
	if err := flags.Parse(args); err != nil {
		return fmt.Errorf("flags: %w", err)
	}

	// Bootstrap logging from the environment so config errors are readable.
	setupLogger(os.Getenv("CHATGATE_LOG_LEVEL"), os.Getenv("CHATGATE_LOG_FORMAT"), os.Stdout)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *logFormat != "" {
		cfg.LogFormat = *logFormat
	}
	setupLogger(cfg.LogLevel, cfg.LogFormat, os.Stdout)

	if cfg.Database.MaxConns < 0 || cfg.Database.MaxConns > math.MaxInt32 {
		return fmt.Errorf("database max_conns %d out of int32 range", cfg.Database.MaxConns)
	}

	// Graceful shutdown on SIGINT / SIGTERM.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store, err := postgres.New(ctx, cfg.Database.DSN(), int32(cfg.Database.MaxConns)) //nolint:gosec // bounds checked above
	if err != nil {
		return err
	}
	defer store.Close()

	if *migrate {
		if err := store.Migrate(ctx); err != nil {
			return err
		}
	}

	pubsub, err := redisstore.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return err
	}
	defer pubsub.Close()

	executors, err := buildExecutors(ctx, cfg)
	if err != nil {
		return err
	}
	log.Info().Strs("protocols", executors.Available()).Msg("executors registered")

	gwOpts := []gateway.Option{
		gateway.WithArchiveDir(cfg.Session.ArchiveDir),
		gateway.WithBaseURL(cfg.Server.PublicURL),
		gateway.WithTicketTimeout(cfg.Session.TicketTimeout),
	}

	// Reviewer routing through Slack threads.
	var reviews *messenger.Router
	if cfg.Slack.Enabled() {
		reviews = messenger.NewRouter(
			store.Tickets(),
			gateslack.NewSlackMessenger(gateslack.NewClient(cfg.Slack.BotToken)),
			cfg.Slack.ReviewChannel,
			messenger.WithPollInterval(cfg.Session.TicketWatchInterval),
			messenger.WithEscalation(messenger.EscalationConfig{
				ChannelID: cfg.Slack.EscalationChannel,
				Enabled:   cfg.Slack.EscalationChannel != "",
			}),
		)
		gwOpts = append(gwOpts, gateway.WithNotifier(reviews))
		go reviews.StartTimeoutWatcher(ctx)
	} else {
		log.Warn().Msg("Slack is not configured; review tickets are resolved through the API only")
	}

	gw := gateway.New(gateway.Repositories{
		Sessions: store.Sessions(),
		ACLs:     store.ACLs(),
		Commands: store.Commands(),
		Tickets:  store.Tickets(),
		Tasks:    store.Tasks(),
		Replays:  store.Replays(),
	}, pubsub, gwOpts...)

	mgr := session.NewManager(gw, pubsub, session.NewRegistry(), session.Config{
		Replay: replay.Config{
			Dir:       cfg.Session.ReplayDir,
			Width:     cfg.Session.TermWidth,
			Height:    cfg.Session.TermHeight,
			Shell:     cfg.Session.Shell,
			Term:      cfg.Session.Term,
			QueueSize: cfg.Session.RecorderQueue,
		},
		IdleCheckInterval:     cfg.Session.IdleCheckInterval,
		DefaultMaxIdleMinutes: cfg.Session.DefaultMaxIdleMinutes,
		DecisionPoll:          cfg.Session.DecisionPoll,
		DecisionTimeout:       cfg.Session.DecisionTimeout,
		TicketPoll:            cfg.Session.TicketPoll,
		TicketTimeout:         cfg.Session.TicketTimeout,
		CloseTimeout:          cfg.Session.CloseTimeout,
	})

	listener := dispatch.NewListener(gw, mgr, cfg.Session.ReplayDir)
	// Leftover recordings are archived before any session can be opened.
	listener.Sweep(ctx)

	listenerDone := make(chan struct{})
	go func() {
		defer close(listenerDone)
		listener.Run(ctx)
	}()

	deps := server.Deps{
		Sessions:  mgr,
		Executors: executors,
		Audit:     gw,
		PubSub:    pubsub,
	}
	if reviews != nil {
		deps.Reviews = reviews
	}
	srv := server.New(ctx, cfg, deps)

	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("starting server")
		if startErr := srv.Start(ctx); startErr != nil {
			log.Error().Err(startErr).Msg("server error")
			cancel()
		}
	}()

	// Block until shutdown signal.
	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Session.CloseTimeout+10*time.Second)
	defer shutdownCancel()

	var errs []error
	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		errs = append(errs, shutdownErr)
	}
	if closeErr := mgr.CloseAll(shutdownCtx); closeErr != nil {
		errs = append(errs, closeErr)
	}
	<-listenerDone

	log.Info().Msg("stopped")
	return errors.Join(errs...)
}

// buildExecutors registers the http and docker protocols that are configured.
func buildExecutors(ctx context.Context, cfg *config.Config) (*executor.Registry, error) {
	reg := executor.NewRegistry()

	if cfg.Executor.URL != "" {
		reg.Register("http", executor.NewHTTPExecutor(ctx, executor.HTTPConfig{
			URL:               cfg.Executor.URL,
			Timeout:           cfg.Executor.Timeout,
			TokenURL:          cfg.Executor.TokenURL,
			ClientID:          cfg.Executor.ClientID,
			ClientSecret:      cfg.Executor.ClientSecret,
			Scopes:            cfg.Executor.Scopes,
			RequestsPerSecond: cfg.Executor.RateRPS,
			Burst:             cfg.Executor.RateBurst,
		}))
	}

	if cfg.Docker.Host != "" {
		cli, err := executor.NewDockerClient(cfg.Docker.Host)
		if err != nil {
			return nil, fmt.Errorf("docker executor: %w", err)
		}
		reg.Register("docker", executor.NewDockerExecutor(cli, cfg.Docker.Shell, cfg.Docker.User))
	}

	return reg, nil
}

// runToken issues an access token, for bootstrapping API clients.
func runToken(args []string, out io.Writer) error {
	flags := pflag.NewFlagSet("chatgate token", pflag.ContinueOnError)
	org := flags.String("org", "", "org UUID the token is scoped to")
	user := flags.String("user", "", "user reference (token subject)")
	role := flags.String("role", "member", "role: admin, reviewer, member or viewer")
	ttl := flags.Duration("ttl", time.Hour, "token lifetime")
	if err := flags.Parse(args); err != nil {
		return fmt.Errorf("token: %w", err)
	}

	secret := os.Getenv("CHATGATE_JWT_SECRET")
	if secret == "" {
		return errors.New("token: CHATGATE_JWT_SECRET is required")
	}

	orgID, err := uuid.Parse(*org)
	if err != nil {
		return fmt.Errorf("token: --org: %w", err)
	}

	tok, err := auth.IssueAccessToken(secret, orgID, *user, *role, *ttl)
	if err != nil {
		return fmt.Errorf("token: %w", err)
	}

	_, err = fmt.Fprintln(out, tok)
	return err
}
