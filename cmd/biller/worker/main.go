package main

import (
	"fmt"
	"net"
	"time"

	"github.com/DataDog/datadog-go/statsd"
	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/InfinitoSolutions/ibl-pay-api/internal/notify"
	"github.com/InfinitoSolutions/ibl-pay-api/internal/payment"
	"github.com/InfinitoSolutions/ibl-pay-api/internal/reconcile"
	"github.com/InfinitoSolutions/ibl-pay-api/internal/schedule"
	"github.com/InfinitoSolutions/ibl-pay-api/internal/scheduler"
	"github.com/InfinitoSolutions/ibl-pay-api/internal/tasks"
	"github.com/InfinitoSolutions/ibl-pay-api/internal/types"
	"github.com/InfinitoSolutions/ibl-pay-api/internal/webhook"
	"github.com/InfinitoSolutions/ibl-pay-api/storage"
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

	redisOptions := asynq.RedisClientOpt{
		Addr:     net.JoinHostPort(cfg.Redis.Host, cfg.Redis.Port),
		Username: cfg.Redis.User,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
	client := asynq.NewClient(redisOptions)
	defer func() {
		_ = client.Close()
	}()

	srv := asynq.NewServer(
		redisOptions,
		asynq.Config{
			Logger:      logger,
			Concurrency: 10,
			Queues: map[string]int{
				tasks.QueueName: 10,
			},
		},
	)

	db, err := postgres.NewPostgresBackend(cfg.Database.DSN, nil)
	if err != nil {
		panic(fmt.Errorf("failed to create postgres backend: %w", err))
	}
	defer func() {
		_ = db.Close()
	}()

	redisStorage, err := storage.NewRedisStorage(cfg.Redis, logger)
	if err != nil {
		panic(fmt.Errorf("failed to create redis storage: %w", err))
	}
	defer func() {
		_ = redisStorage.Close()
	}()

	notifier := notify.NewLogNotifier(logger)

	generator := payment.NewGenerator(
		db,
		redisStorage,
		redisStorage,
		decimal.NewFromFloat(cfg.Payment.FeePercentage),
		logger,
	)
	windows := schedule.Windows{
		Daily:   time.Duration(cfg.Payment.Schedule.DailyDurationHours) * time.Hour,
		Weekly:  time.Duration(cfg.Payment.Schedule.WeeklyDurationDays) * 24 * time.Hour,
		Monthly: time.Duration(cfg.Payment.Schedule.MonthlyDurationDays) * 24 * time.Hour,
	}
	runner := scheduler.NewRunner(db, generator, client, windows, notifier, sdClient, logger)

	dispatcher := reconcile.NewDispatcher(db, redisStorage, notifier, logger)

	manager := webhook.NewManager(db, client, sdClient, logger)
	manager.Register(types.WebhookEventPayment, webhook.NewPaymentHandler(dispatcher, sdClient, logger))
	manager.Register(types.WebhookEventSecurity, webhook.NewSecurityHandler(db, logger))
	manager.Register(types.WebhookEventNotification, webhook.NewNotificationHandler(db, notifier, logger))
	manager.Register(types.WebhookEventKYC, webhook.NewKYCHandler(webhook.NewLogKYCApplier(logger), logger))

	mux := asynq.NewServeMux()
	mux.HandleFunc(tasks.TypeWebhookProcess, manager.HandleProcess)
	mux.HandleFunc(tasks.TypeBillSchedule, runner.HandleBillSchedule)
	mux.HandleFunc(tasks.TypeBillReminder, runner.HandleBillReminder)

	if err := srv.Run(mux); err != nil {
		panic(fmt.Errorf("could not run server: %w", err))
	}
}
