package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DataDog/datadog-go/statsd"
	"github.com/hibiken/asynq"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/InfinitoSolutions/ibl-pay-api/internal/notify"
	"github.com/InfinitoSolutions/ibl-pay-api/internal/schedule"
	"github.com/InfinitoSolutions/ibl-pay-api/internal/scheduler"
	"github.com/InfinitoSolutions/ibl-pay-api/storage/postgres"
)

func main() {
	cfg, err := GetConfigure()
	if err != nil {
		panic(fmt.Errorf("failed to get config: %w", err))
	}

	logger := logrus.New()
	sdClient, err := statsd.New(net.JoinHostPort(cfg.Datadog.Host, cfg.Datadog.Port))
	if err != nil {
		panic(err)
	}

	client := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     net.JoinHostPort(cfg.Redis.Host, cfg.Redis.Port),
		Username: cfg.Redis.User,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer func() {
		_ = client.Close()
	}()

	db, err := postgres.NewPostgresBackend(cfg.Database.DSN, nil)
	if err != nil {
		panic(fmt.Errorf("failed to create db conn: %w", err))
	}
	defer func() {
		_ = db.Close()
	}()

	windows := schedule.Windows{
		Daily:   time.Duration(cfg.Payment.Schedule.DailyDurationHours) * time.Hour,
		Weekly:  time.Duration(cfg.Payment.Schedule.WeeklyDurationDays) * 24 * time.Hour,
		Monthly: time.Duration(cfg.Payment.Schedule.MonthlyDurationDays) * 24 * time.Hour,
	}

	// The sweep binary only locks and enqueues; bills get scheduled on the
	// workers, so no generator is wired here.
	runner := scheduler.NewRunner(db, nil, client, windows, notify.NewLogNotifier(logger), sdClient, logger)

	ctx := context.Background()
	c := cron.New()
	if _, err := c.AddFunc(cfg.Payment.Schedule.SweepCron, func() {
		if err := runner.Sweep(ctx); err != nil {
			logger.WithError(err).Error("schedule sweep failed")
		}
	}); err != nil {
		panic(fmt.Errorf("failed to register sweep cron: %w", err))
	}
	if _, err := c.AddFunc(cfg.Payment.Schedule.AbandonCron, func() {
		if err := runner.AbandonSweep(ctx); err != nil {
			logger.WithError(err).Error("abandonment sweep failed")
		}
	}); err != nil {
		panic(fmt.Errorf("failed to register abandonment cron: %w", err))
	}

	c.Start()
	defer c.Stop()
	logger.WithFields(logrus.Fields{
		"sweep":   cfg.Payment.Schedule.SweepCron,
		"abandon": cfg.Payment.Schedule.AbandonCron,
	}).Info("schedule sweeper started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("schedule sweeper stopping")
}
