package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lvdashuaibi/roundvote/internal/api/graph"
	"github.com/lvdashuaibi/roundvote/internal/api/rest"
	"github.com/lvdashuaibi/roundvote/internal/auth"
	"github.com/lvdashuaibi/roundvote/internal/credential"
	intkafka "github.com/lvdashuaibi/roundvote/internal/kafka"
	"github.com/lvdashuaibi/roundvote/internal/ledger"
	"github.com/lvdashuaibi/roundvote/internal/lock"
	"github.com/lvdashuaibi/roundvote/internal/repository"
	"github.com/lvdashuaibi/roundvote/internal/scheduler"
	"github.com/lvdashuaibi/roundvote/internal/service"
	"github.com/lvdashuaibi/roundvote/internal/tally"
)

const shutdownTimeout = 10 * time.Second

var instanceID int

func init() {
	serveCmd.Flags().IntVar(&instanceID, "instance", 1, "实例ID，端口为 server.port + instance - 1")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the REST and GraphQL API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

func serve(ctx context.Context) error {
	a, err := bootstrap(ctx, configPath)
	if err != nil {
		return err
	}
	defer a.close()
	cfg, log := a.cfg, a.log

	// 多实例同时启动时只有一个执行建表
	if err := lock.WithLock(ctx, a.lock, lock.MigrationLock, cfg.Lock.Timeout, time.Second, a.repo.Migrate); err != nil {
		return err
	}

	keys, err := credential.LoadKeyPair(cfg.Auth.PrivateKeyPath, cfg.Auth.PublicKeyPath)
	if err != nil {
		return err
	}
	codec, err := credential.NewCodec(credential.Config{Keys: keys, TTL: cfg.Auth.TokenTTL})
	if err != nil {
		return err
	}

	opts := []service.Option{service.WithTokenTTL(cfg.Auth.TokenTTL)}

	if cfg.Redis.DataAddress != "" {
		redisRepo, err := repository.NewRedisRepository(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer redisRepo.Close()
		opts = append(opts, service.WithCache(redisRepo))
		log.Info("Redis计票缓存已启用")
	}

	var consumer *intkafka.Consumer
	if cfg.Kafka.Enabled {
		producer, err := intkafka.NewProducer(cfg.Kafka, log)
		if err != nil {
			return err
		}
		defer producer.Close()
		opts = append(opts, service.WithEvents(producer))

		consumer, err = intkafka.NewConsumer(ctx, cfg.Kafka, log)
		if err != nil {
			return err
		}
		defer consumer.Stop()
	}

	l := ledger.New(a.repo, a.repo, tally.NewAggregator(log), log)
	voteService := service.NewVoteService(a.repo, l, codec, log, opts...)

	if consumer != nil {
		consumer.StartConsuming(voteService.ProcessVoteEvent)
	}

	if cfg.Scheduler.CloseInterval > 0 {
		closer := scheduler.NewRoundCloser(a.repo, a.lock, cfg.Scheduler.CloseInterval, cfg.Lock.Timeout, log)
		closer.Start(ctx)
		defer closer.Stop()
	}

	router := rest.NewRouter(voteService, auth.NewGate(codec, log), graph.NewHandler(voteService), cfg.GraphQL.Path, log)
	serverCfg := cfg.Server
	serverCfg.Port += instanceID - 1
	server := rest.NewServer(serverCfg, router, log)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()
	log.WithField("instance", instanceID).Info("roundvote 已启动")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("正在关闭服务...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
