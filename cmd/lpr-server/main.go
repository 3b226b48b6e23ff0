package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"lpr-session-service/internal/config"
	"lpr-session-service/internal/db"
	"lpr-session-service/internal/domain/lpr"
	httpapi "lpr-session-service/internal/http"
	"lpr-session-service/internal/queue"
	"lpr-session-service/internal/repository"
	"lpr-session-service/internal/scoring"
	"lpr-session-service/internal/seed"
	"lpr-session-service/internal/service"
	"lpr-session-service/internal/worker"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	seedPairs := flag.Int("seed", 0, "generate and ingest N synthetic visit pairs, then keep serving")
	flag.Parse()

	log := zerolog.New(os.Stdout).With().Timestamp().Str("service", "lpr-session-service").Logger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	gdb, err := db.Open(db.Options{
		Host:     cfg.Database.Postgres.Host,
		Port:     cfg.Database.Postgres.Port,
		User:     cfg.Database.Postgres.User,
		Password: cfg.Database.Postgres.Password,
		Name:     cfg.Database.Postgres.Database,
		SSLMode:  cfg.Database.Postgres.SSLMode,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}

	zoneDefaults := lpr.ZoneSettings{
		HorizonDays:      cfg.Zone.HorizonDays,
		FuzzyThreshold:   cfg.Zone.FuzzyThreshold,
		ReviewBelowScore: cfg.Zone.ReviewBelowScore,
		MaxStayHours:     cfg.Zone.MaxStayHours,
		Billing: lpr.BillingRules{
			FreeMinutes:   cfg.Zone.FreeMinutes,
			HourlyCents:   cfg.Zone.HourlyCents,
			DailyMaxCents: cfg.Zone.DailyMaxCents,
		},
	}

	events := repository.NewEventRepository(gdb)
	uploads := repository.NewUploadRepository(gdb)
	zones := repository.NewZoneRepository(gdb, zoneDefaults)
	jobs := queue.NewClient(rdb, log)

	pairing := service.NewPairingService(events, zones, log)
	fuzzy := service.NewFuzzyService(events, zones, pairing, scoring.NewOCRScorer(), log)
	expiry := service.NewExpiryService(events, zones, log)
	ingest := service.NewIngestService(events, uploads, jobs, func(year, month int) error {
		return db.EnsureEventsPartition(gdb, year, month)
	}, cfg.Worker.FuzzyDelay, log)

	pool := worker.NewPool(jobs, log)
	dispatcher := worker.NewDispatcher(jobs, ingest, pairing, fuzzy, expiry, log)
	dispatcher.RegisterAll(pool, worker.Limits{
		IngestConcurrency: cfg.Worker.IngestConcurrency,
		PairConcurrency:   cfg.Worker.PairConcurrency,
		PairRatePerSec:    cfg.Worker.PairRatePerSec,
		FuzzyConcurrency:  cfg.Worker.FuzzyConcurrency,
		FuzzyRatePerSec:   cfg.Worker.FuzzyRatePerSec,
	})

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool.Start(rootCtx)

	// Periodic expiry trigger; the lock in the handler keeps multiple
	// instances from sweeping at once.
	go func() {
		ticker := time.NewTicker(cfg.Worker.ExpireInterval)
		defer ticker.Stop()
		for {
			select {
			case <-rootCtx.Done():
				return
			case <-ticker.C:
				if _, err := jobs.Enqueue(rootCtx, queue.KindExpire, struct{}{}); err != nil && rootCtx.Err() == nil {
					log.Error().Err(err).Msg("failed to enqueue expiry sweep")
				}
			}
		}
	}()

	if *seedPairs > 0 {
		go func() {
			rows := seed.Generate(seed.Options{
				Zones:     []string{"LOT-A", "LOT-B"},
				Pairs:     *seedPairs,
				OrphanINs: *seedPairs / 10,
				NoiseRate: 0.05,
				Seed:      time.Now().UnixNano(),
			})
			uploadID, err := ingest.Submit(rootCtx, "", rows)
			if err != nil {
				log.Error().Err(err).Msg("seed ingest failed")
				return
			}
			log.Info().Str("upload_id", uploadID).Int("rows", len(rows)).Msg("seed batch submitted")
		}()
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	handler := httpapi.NewHandler(ingest, events, zones, jobs, log)
	handler.Register(r, httpapi.JWTAuthMiddleware(cfg.Auth.JWTSecret))

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	<-rootCtx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown failed")
	}
	pool.Shutdown()
	if err := rdb.Close(); err != nil {
		log.Error().Err(err).Msg("redis close failed")
	}
	log.Info().Msg("stopped")
}
