// Command server serves the notes REST API and MCP endpoint over an
// SQLite (optionally SQLCipher-encrypted) database, with periodic S3
// snapshots when a bucket is configured.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/kuitang/note-organizer/internal/api"
	"github.com/kuitang/note-organizer/internal/backup"
	"github.com/kuitang/note-organizer/internal/clock"
	"github.com/kuitang/note-organizer/internal/config"
	"github.com/kuitang/note-organizer/internal/db"
	"github.com/kuitang/note-organizer/internal/mcp"
	"github.com/kuitang/note-organizer/internal/notes"
	"github.com/kuitang/note-organizer/internal/obs"
	"github.com/kuitang/note-organizer/internal/ratelimit"
	"github.com/kuitang/note-organizer/internal/s3client"
	"github.com/kuitang/note-organizer/internal/server"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	set := flag.NewFlagSet("server", flag.ContinueOnError)
	restore := set.Bool("restore", false, "Restore an S3 snapshot to the database path and exit")
	restoreKey := set.String("restore-key", "", "Snapshot key for --restore (default: newest)")
	set.Usage = func() {
		fmt.Fprintf(set.Output(), "Usage: server [flags]\n\nFlags:\n")
		set.PrintDefaults()
		fmt.Fprintf(set.Output(), "\n%s", config.Usage())
	}
	flags, err := config.ParseFlags(set, args)
	if errors.Is(err, flag.ErrHelp) {
		return nil
	}
	if err != nil {
		return err
	}

	cfg, err := config.LoadConfig(flags)
	if err != nil {
		return err
	}
	if err := obs.Configure(obs.Options{Level: cfg.LogLevel, Pretty: cfg.LogPretty}); err != nil {
		return err
	}
	logger := obs.Pkg("main")

	if *restore {
		return restoreSnapshot(ctx, cfg, *restoreKey)
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	srv, err := server.New(server.Options{
		Addr:            cfg.Addr(),
		Handler:         a.handler,
		ShutdownTimeout: cfg.ShutdownTimeout,
	})
	if err != nil {
		return fmt.Errorf("init http server: %w", err)
	}

	// Startup work that can fail runs before the listener opens.
	var background []func(context.Context) error
	if cfg.BackupEnabled() {
		store, err := newS3Client(ctx, cfg)
		if err != nil {
			return err
		}
		snapshots := backup.New(a.db, store, backup.Options{Prefix: cfg.Backup.Prefix, Keep: cfg.Backup.Keep})
		logger.Info("s3 snapshots enabled", "bucket", cfg.S3.Bucket, "interval", cfg.Backup.Interval)
		background = append(background, func(ctx context.Context) error {
			return snapshots.Run(ctx, cfg.Backup.Interval)
		})
	} else {
		logger.Info("s3 snapshots disabled")
	}

	return serve(ctx, srv, background...)
}

// serve runs srv alongside tasks until ctx ends or any of them fails, and
// returns only once all of them have stopped.
func serve(ctx context.Context, srv *server.Server, tasks ...func(context.Context) error) error {
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error { return srv.Run(ctx) })
	for _, task := range tasks {
		eg.Go(func() error { return task(ctx) })
	}
	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("wait app stop: %w", err)
	}
	return nil
}

// app owns the database and the handler chain built on it.
type app struct {
	db      *db.DB
	limiter *ratelimit.RateLimiter
	handler http.Handler
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	key, err := cfg.EncryptionKeyBytes()
	if err != nil {
		return nil, err
	}
	database, err := db.Open(ctx, db.Options{Path: cfg.DatabasePath, EncryptionKey: key})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	a := &app{db: database}
	if rl := cfg.RateLimitConfig(); rl.Enabled() {
		a.limiter = ratelimit.NewRateLimiter(rl)
	}

	svc := notes.NewService(database, clock.Real())
	a.handler = api.NewRouter(api.Options{
		Notes:          svc,
		BaseURL:        cfg.BaseURL,
		CORSOrigins:    cfg.CORSOrigins(),
		BodyLimitBytes: cfg.BodyLimitBytes,
		Limiter:        a.limiter,
		MCP:            mcp.NewServer(svc),
		Health:         func(ctx context.Context) error { return database.DB().PingContext(ctx) },
	})
	return a, nil
}

func (a *app) Close() error {
	if a.limiter != nil {
		a.limiter.Stop()
	}
	return a.db.Close()
}

func newS3Client(ctx context.Context, cfg *config.Config) (*s3client.Client, error) {
	client, err := s3client.New(ctx, s3client.Config{
		Endpoint:        cfg.S3.Endpoint,
		Region:          cfg.S3.Region,
		AccessKeyID:     cfg.S3.AccessKeyID,
		SecretAccessKey: cfg.S3.SecretAccessKey,
		BucketName:      cfg.S3.Bucket,
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 client: %w", err)
	}
	return client, nil
}

// restoreSnapshot downloads a snapshot to the configured database path. The
// target must not exist; the server never overwrites a live database.
func restoreSnapshot(ctx context.Context, cfg *config.Config, key string) error {
	if cfg.S3.Bucket == "" {
		return errors.New("--restore needs BUCKET_NAME")
	}
	store, err := newS3Client(ctx, cfg)
	if err != nil {
		return err
	}
	snapshots := backup.New(nil, store, backup.Options{Prefix: cfg.Backup.Prefix})
	restored, err := snapshots.Restore(ctx, key, cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("restore snapshot: %w", err)
	}
	obs.Pkg("main").Info("snapshot restored", "key", restored, "path", cfg.DatabasePath)
	return nil
}
