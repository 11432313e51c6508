package main

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/lvdashuaibi/roundvote/config"
	"github.com/lvdashuaibi/roundvote/internal/lock"
	"github.com/lvdashuaibi/roundvote/internal/logging"
	"github.com/lvdashuaibi/roundvote/internal/repository"
)

// app serve 与 migrate 共用的基础组件
type app struct {
	cfg  *config.Config
	log  *logrus.Logger
	repo *repository.SQLRepository
	lock lock.Lock
}

func bootstrap(ctx context.Context, path string) (*app, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("加载配置失败: %w", err)
	}
	log := logging.New(cfg.Log)

	repo, err := repository.NewSQLRepository(cfg.Database, log)
	if err != nil {
		return nil, fmt.Errorf("初始化数据库仓库失败: %w", err)
	}
	log.WithField("driver", repo.Driver()).Info("数据库仓库初始化成功")

	l, err := lock.New(ctx, cfg, log)
	if err != nil {
		repo.Close()
		return nil, fmt.Errorf("初始化分布式锁失败: %w", err)
	}
	log.WithField("backend", cfg.Lock.Backend).Info("分布式锁初始化成功")

	return &app{cfg: cfg, log: log, repo: repo, lock: l}, nil
}

func (a *app) close() {
	if err := a.lock.Close(); err != nil {
		a.log.WithError(err).Warn("关闭分布式锁失败")
	}
	a.repo.Close()
}
