// Package main runs the namespace sharding coordinator: it wires the
// Coordination Client, Tree Cache Manager, Event Intake, and Sharding
// Engine behind a Namespace Controller and keeps the process alive until
// an interrupt or term signal arrives.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dreamware/shardkeeper/internal/config"
	"github.com/dreamware/shardkeeper/internal/controller"
	"github.com/dreamware/shardkeeper/internal/coord"
	"github.com/dreamware/shardkeeper/internal/events"
	"github.com/dreamware/shardkeeper/internal/sharding"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().
		Str("service", "shardingcoordinator").
		Str("namespace", cfg.Namespace).
		Timestamp().Logger()

	hostID := cfg.HostID
	if hostID == "" {
		hostID = uuid.NewString()
	}

	client, err := coord.NewEtcdClient(coord.EtcdConfig{
		Endpoints:         cfg.Endpoints,
		DialTimeout:       cfg.ConnectionTimeout(),
		SessionTimeout:    cfg.SessionTimeout(),
		ConnectionTimeout: cfg.ConnectionTimeout(),
	}, logger)
	if err != nil {
		log.Fatalf("connecting to coordination store: %v", err)
	}
	defer client.Close()

	var alarm sharding.Alarm
	if cfg.AlarmURL != "" {
		alarm = sharding.NewHTTPAlarm(cfg.AlarmURL)
	} else {
		alarm = sharding.NewRecordingAlarm()
	}

	var clean events.CleanService = sharding.NewCoordCleanService(client, logger)

	nc := controller.New(client, client, hostID, alarm, clean, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := nc.Start(ctx); err != nil {
		log.Fatalf("starting namespace controller: %v", err)
	}
	logger.Info().Str("host_id", hostID).Msg("namespace controller started")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info().Msg("shutting down namespace controller")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	nc.Stop(shutdownCtx)
}
