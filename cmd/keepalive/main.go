package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/zengdw/app-keep-alive-sub001/internal/api"
	"github.com/zengdw/app-keep-alive-sub001/internal/channel"
	"github.com/zengdw/app-keep-alive-sub001/internal/config"
	"github.com/zengdw/app-keep-alive-sub001/internal/domain"
	"github.com/zengdw/app-keep-alive-sub001/internal/execlog"
	"github.com/zengdw/app-keep-alive-sub001/internal/executor"
	"github.com/zengdw/app-keep-alive-sub001/internal/orchestrator"
	"github.com/zengdw/app-keep-alive-sub001/internal/ratelimit"
	"github.com/zengdw/app-keep-alive-sub001/internal/store"
)

// Execution logs older than this are pruned once a day.
const logRetention = 90 * 24 * time.Hour

func main() {
	var (
		cfgPath = flag.String("config", "keepalive.yaml", "YAML config path")
		addr    = flag.String("addr", "", "HTTP bind address (overrides config)")
		dbPath  = flag.String("db", "", "SQLite DB path (overrides config)")
		debug   = flag.Bool("debug", false, "expose pprof endpoints")
	)
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}

	zerolog.TimeFieldFormat = time.RFC3339
	if cfg.Logging.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	}
	if cfg.Logging.Level != "" {
		lvl, err := zerolog.ParseLevel(cfg.Logging.Level)
		if err != nil {
			log.Fatal().Err(err).Msg("parse log level")
		}
		zerolog.SetGlobalLevel(lvl)
	}

	dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc&_pragma=journal_mode(WAL)", cfg.Database.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("open db")
	}
	defer db.Close()
	db.SetMaxOpenConns(1) // SQLite single writer

	if err := store.EnsureSchema(db); err != nil {
		log.Fatal().Err(err).Msg("ensure schema")
	}

	tasks := store.NewSQLiteTaskStore(db)
	logs := store.NewSQLiteLogStore(db)

	// Notification channels: webhook is always available, email and telegram
	// only when credentials are configured.
	channels := channel.Registry{domain.ChannelWebhook: channel.NewWebhook(nil)}
	if cfg.Channels.Email.Configured() {
		channels[domain.ChannelEmail] = channel.NewEmail(channel.EmailOptions{
			Host:     cfg.Channels.Email.Host,
			Port:     cfg.Channels.Email.Port,
			Username: cfg.Channels.Email.Username,
			Password: cfg.Channels.Email.Password,
			From:     cfg.Channels.Email.From,
		})
		log.Info().Str("host", cfg.Channels.Email.Host).Msg("email channel enabled")
	}
	if cfg.Channels.Telegram.Configured() {
		tg, err := channel.NewTelegram(cfg.Channels.Telegram.Token)
		if err != nil {
			log.Fatal().Err(err).Msg("telegram channel")
		}
		channels[domain.ChannelTelegram] = tg
		log.Info().Msg("telegram channel enabled")
	}

	exec := executor.New(nil, channels, cfg.Channels.SendRatePerSec)
	recorder := execlog.NewRecorder(logs)
	orch := orchestrator.New(tasks, exec, recorder, cfg.Batch.Concurrency)

	var limiter ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		if cfg.RateLimit.RedisURL != "" {
			rw, err := ratelimit.NewRedisWindow(cfg.RateLimit.RedisURL, cfg.RateLimit.Requests, cfg.RateWindow())
			if err != nil {
				log.Fatal().Err(err).Msg("redis rate limiter")
			}
			defer rw.Close()
			limiter = rw
		} else {
			limiter = ratelimit.NewWindow(cfg.RateLimit.Requests, cfg.RateWindow())
		}
	}

	ctx, cancel := context.WithCancel(context.Background())

	// The tick loop is the only thing that initiates scheduling: each tick
	// runs one batch, and batches never overlap with themselves because the
	// loop waits for RunBatch to return.
	go func() {
		ticker := time.NewTicker(cfg.TickInterval())
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				orch.RunBatch(ctx, now.UTC())
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := logs.Prune(ctx, time.Now().UTC().Add(-logRetention))
				if err != nil {
					log.Error().Err(err).Msg("prune execution logs")
					continue
				}
				if n > 0 {
					log.Info().Int("pruned", n).Msg("pruned old execution logs")
				}
			}
		}
	}()

	srv := &http.Server{Addr: cfg.Server.Addr, Handler: api.NewServerWithDebug(tasks, logs, orch, limiter, *debug)}
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Dur("tick", cfg.TickInterval()).Msg("HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	// Graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	log.Info().Msg("shutting down")
	cancel()
	ctxTimeout, cancelTimeout := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelTimeout()
	_ = srv.Shutdown(ctxTimeout)
}
