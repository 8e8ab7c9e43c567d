package main

import (
	"context"
	"log"

	"github.com/prometheus/client_golang/prometheus"
	cron "github.com/robfig/cron/v3"

	"github.com/rawblock/combat-score-engine/internal/api"
	"github.com/rawblock/combat-score-engine/internal/audit"
	"github.com/rawblock/combat-score-engine/internal/bus"
	"github.com/rawblock/combat-score-engine/internal/calibration"
	"github.com/rawblock/combat-score-engine/internal/config"
	"github.com/rawblock/combat-score-engine/internal/ingest"
	"github.com/rawblock/combat-score-engine/internal/logging"
	"github.com/rawblock/combat-score-engine/internal/round"
	"github.com/rawblock/combat-score-engine/internal/scoring"
	"github.com/rawblock/combat-score-engine/internal/storage"
	"github.com/rawblock/combat-score-engine/internal/validator"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New("combat-score-engine", cfg.LogLevel)
	logger.Info("starting combat scoring engine")

	ctx := context.Background()

	// Unlike the teacher's forensics engine, which degrades to an API-only
	// mode when Postgres is unreachable (its persistence is write-behind
	// evidence, not load-bearing state), this engine's round state and
	// audit log ARE the system of record: a round with no durable store
	// has nowhere to recover from on restart. Connect is fatal here.
	store, err := storage.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("storage: unable to connect: %v", err)
	}
	defer store.Close()

	if err := store.InitSchema(ctx, "internal/storage/schema.sql"); err != nil {
		log.Fatalf("storage: schema init failed: %v", err)
	}

	reg := prometheus.NewRegistry()

	auditor := audit.New(store, nil)
	fanout := bus.New(reg)
	calib := calibration.New(auditor, fanout)
	ingestStats := ingest.NewStats(reg)

	manager := round.New(store, auditor, fanout, calib, ingestStats, scoring.DefaultProfile(), validator.DefaultThresholds())

	// Dead-subscriber sweep (spec §4.7): a websocket client that vanished
	// without a clean close leaves its sink registered until the next
	// failed Deliver. Sweep runs independently of that failure path so a
	// quiet (no-publish) topic doesn't accumulate dead sinks forever.
	sweeper := cron.New()
	if _, err := sweeper.AddFunc("@every 1m", func() {
		dropped := fanout.Sweep(func(sink bus.Sink) bool {
			type deadChecker interface{ IsDead() bool }
			dc, ok := sink.(deadChecker)
			return ok && dc.IsDead()
		})
		if dropped > 0 {
			logger.Component("bus").Infof("swept %d dead subscribers", dropped)
		}
	}); err != nil {
		log.Fatalf("bus: failed to schedule sweep: %v", err)
	}
	sweeper.Start()
	defer sweeper.Stop()

	r := api.SetupRouter(manager, calib, auditor, fanout, cfg.RateLimitRPM, cfg.RateLimitBurst)

	logger.Infof("engine listening on :%s", cfg.Port)
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatalf("server: %v", err)
	}
}
