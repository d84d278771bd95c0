package main

import (
	"context"
	"log"
	"os"

	"go.uber.org/zap"

	"github.com/noah-isme/topic-registry-api/internal/cli"
	"github.com/noah-isme/topic-registry-api/internal/repository"
	"github.com/noah-isme/topic-registry-api/internal/service"
	"github.com/noah-isme/topic-registry-api/pkg/config"
	"github.com/noah-isme/topic-registry-api/pkg/database"
	"github.com/noah-isme/topic-registry-api/pkg/jobs"
	"github.com/noah-isme/topic-registry-api/pkg/logger"
	"github.com/noah-isme/topic-registry-api/pkg/realtime"
)

type maintenance struct {
	*service.MaintenanceService
	*service.AuthService
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if err := cli.NewRootCommand(connector(cfg, logr)).Execute(); err != nil {
		os.Exit(1)
	}
}

// connector wires the same repositories and notification relay the API uses, so
// notifications raised by maintenance reach connected clients when redis is the feed.
func connector(cfg *config.Config, logr *zap.Logger) cli.Connector {
	return func(ctx context.Context) (cli.Maintenance, func(), error) {
		db, err := database.NewPostgres(ctx, cfg.Database)
		if err != nil {
			return nil, nil, err
		}
		closers := []func(){func() { _ = db.Close() }}

		var feed realtime.Feed = realtime.NewMemoryFeed()
		if cfg.Realtime.Driver == config.RealtimeDriverRedis {
			client, err := realtime.DialRedis(ctx, cfg.Redis)
			if err != nil {
				_ = db.Close()
				return nil, nil, err
			}
			closers = append(closers, func() { _ = client.Close() })
			feed = realtime.NewRedisFeed(client, cfg.Realtime.ChannelPrefix, logr)
		}

		notificationRepo := repository.NewNotificationRepository(db)
		worker := service.NewNotificationWorker(notificationRepo, feed, nil, logr)
		queue := jobs.NewQueue("notifications", worker.Handle, jobs.QueueConfig{
			Workers:    cfg.Notifications.Workers,
			BufferSize: cfg.Notifications.BufferSize,
			MaxRetries: cfg.Notifications.MaxRetries,
			RetryDelay: cfg.Notifications.RetryDelay,
			OnDrop:     worker.Dropped,
			Logger:     logr,
		})
		queue.Start(context.Background())
		notifications := service.NewNotificationService(notificationRepo, queue, nil, nil, logr)

		svc := maintenance{
			MaintenanceService: service.NewMaintenanceService(
				repository.NewSwapRepository(db),
				repository.NewGroupRepository(db),
				notifications, feed, nil, logr,
			),
			AuthService: service.NewAuthService(repository.NewUserRepository(db), logr, service.AuthConfig{
				AccessTokenSecret: cfg.JWT.Secret,
				Issuer:            cfg.JWT.Issuer,
				Audience:          cfg.JWT.Audience,
			}),
		}

		release := func() {
			queue.Stop()
			for i := len(closers) - 1; i >= 0; i-- {
				closers[i]()
			}
		}
		return svc, release, nil
	}
}
