package main

import (
	"fmt"
	"net"

	"github.com/DataDog/datadog-go/statsd"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/InfinitoSolutions/ibl-pay-api/api"
	"github.com/InfinitoSolutions/ibl-pay-api/internal/webhook"
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

	db, err := postgres.NewPostgresBackend(cfg.Database.DSN, nil)
	if err != nil {
		panic(fmt.Errorf("failed to create db conn: %w", err))
	}
	defer func() {
		_ = db.Close()
	}()

	client := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     net.JoinHostPort(cfg.Redis.Host, cfg.Redis.Port),
		Username: cfg.Redis.User,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer func() {
		_ = client.Close()
	}()

	manager := webhook.NewManager(db, client, sdClient, logger)
	server := api.NewServer(cfg.Server, manager, sdClient, logger)
	if err := server.StartServer(); err != nil {
		panic(fmt.Errorf("could not run server: %w", err))
	}
}
