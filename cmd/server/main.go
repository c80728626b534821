package main

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"

	"qtech-backend/internal/config"
	"qtech-backend/internal/counter"
	"qtech-backend/internal/http/handler"
	"qtech-backend/internal/logging"
	"qtech-backend/internal/notify"
	"qtech-backend/internal/queue"
	"qtech-backend/internal/realtime"
	"qtech-backend/internal/settings"
	"qtech-backend/internal/storage/mysql"
)

func main() {
	runtime.GOMAXPROCS(runtime.NumCPU())

	config.LoadEnv()
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	loc := cfg.Location()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := config.OpenDB(ctx, cfg.Database, loc)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer closeDB(db)

	repo := mysql.New(db, mysql.Options{
		QueryTimeout:  cfg.Database.QueryTimeout,
		RetryAttempts: cfg.Database.RetryAttempts,
	})

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		if rdb, err = config.NewRedis(ctx, cfg.Redis); err != nil {
			logging.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer rdb.Close()
	}

	// Settings
	var cache settings.Cache = settings.NewMemoryCache()
	if rdb != nil {
		cache = settings.NewRedisCache(rdb, cfg.Realtime.ChannelPrefix)
	}
	settingsSvc := settings.NewService(repo, cache, settings.DefaultTTL)

	// Realtime
	var bus realtime.Bus = realtime.NewLocalBus(cfg.Realtime.ClientBuffer)
	if cfg.Realtime.Bus == "redis" {
		bus = realtime.NewRedisBus(rdb, cfg.Realtime.ChannelPrefix, cfg.Realtime.ClientBuffer)
	}
	defer bus.Close()

	var engine *queue.Engine
	feed := realtime.NewDisplayFeed(realtime.BoardSourceFunc(func(ctx context.Context, serviceID int64) (queue.DisplayBoard, error) {
		return engine.Display(ctx, serviceID)
	}), settingsSvc, bus, loc)

	engine = queue.NewEngine(repo, settingsSvc, realtime.NewBroadcaster(bus, feed), queue.Options{
		Location: loc,
		CapScope: queue.CapScope(cfg.Queue.CapScope),
	})

	// Counters
	var guard counter.Guard = counter.NewLocalGuard()
	if cfg.Queue.Guard == "redis" {
		guard = counter.NewRedisGuard(rdb, cfg.Realtime.ChannelPrefix, 0)
	}
	coordinator := counter.NewCoordinator(engine, repo, repo, guard)

	// Push notifications
	var producer notify.Producer = notify.NewLogProducer()
	if cfg.Kafka.Enabled {
		kp, err := notify.NewKafkaProducer(notify.KafkaConfig{Brokers: cfg.Kafka.Brokers, Topic: cfg.Kafka.Topic})
		if err != nil {
			logging.Fatal().Err(err).Msg("failed to start kafka producer")
		}
		producer = kp
	}
	defer producer.Close()

	var dedupe notify.Deduper = notify.NewMemoryDeduper(cfg.Kafka.DedupTTL)
	if rdb != nil {
		dedupe = notify.NewRedisDeduper(rdb, cfg.Realtime.ChannelPrefix, cfg.Kafka.DedupTTL)
	}

	// Background services
	hook := (&sutureslog.Handler{Logger: slog.New(logging.NewSlogHandler())}).MustHook()
	sup := suture.New("qtech", suture.Spec{
		EventHook:      hook,
		FailureBackoff: 5 * time.Second,
		Timeout:        10 * time.Second,
	})
	sup.Add(feed)
	sup.Add(notify.NewService(bus, dedupe, producer))
	supDone := sup.ServeBackground(ctx)

	// HTTP
	hub := realtime.NewHub(bus, realtime.HubConfig{
		PingInterval: cfg.Realtime.PingInterval,
		WriteTimeout: cfg.Realtime.WriteTimeout,
	})
	tokens := config.NewTokenIssuer(cfg.JWT)
	h := handler.New(handler.Deps{
		Engine:   engine,
		Counters: coordinator,
		Store:    repo,
		Settings: settingsSvc,
		Users:    repo,
		Tokens:   tokens,
		Hub:      hub,
		Display:  feed,
		Base:     ctx,
	})

	routes := handler.RouterConfig{
		AllowOrigins: cfg.App.AllowOrigins,
		RateLimit:    cfg.App.RateLimit,
		EnableSkip:   cfg.App.EnableSkip,
	}
	app := handler.NewApp(routes)
	handler.Register(app, h, tokens, routes)

	go func() {
		<-ctx.Done()
		logging.Info().Msg("shutting down")
		hub.Shutdown()
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			logging.Error().Err(err).Msg("http shutdown")
		}
	}()

	logging.Info().Str("addr", cfg.Addr()).Msg("server listening")
	if err := app.Listen(cfg.Addr()); err != nil {
		logging.Error().Err(err).Msg("http server stopped")
	}

	stop()
	if err := <-supDone; err != nil && err != context.Canceled {
		logging.Warn().Err(err).Msg("supervisor stopped")
	}
}

func closeDB(db *sql.DB) {
	if err := db.Close(); err != nil {
		logging.Error().Err(err).Msg("failed to close database")
	}
}
