package app

import (
	"context"
	"fmt"
	"time"

	qbcfg "quantbot/internal/config"
	cfgloader "quantbot/internal/config/loader"
	"quantbot/internal/logger"
	"quantbot/internal/trader"
	apihttp "quantbot/internal/transport/http"

	"golang.org/x/sync/errgroup"
)

// App 负责应用级编排：加载配置→装配依赖→启动调度与 HTTP 服务。
type App struct {
	cfg        *qbcfg.Config
	manager    *trader.Manager
	httpServer *apihttp.Server
	hub        *apihttp.Hub
	loaders    map[string]*cfgloader.PersonaLoader
	closers    []func() error
}

// NewApp 根据配置构建应用对象（不启动）。
func NewApp(cfg *qbcfg.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// Run 启动机器人调度与 HTTP 服务，直到 ctx 取消。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	defer a.Close()

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		a.hub.Run(ctx)
		return nil
	})

	group.Go(func() error {
		if err := a.httpServer.Start(ctx); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})

	offset := time.Duration(a.cfg.Protocol.OffsetSeconds) * time.Second
	group.Go(func() error {
		return a.manager.Run(ctx, offset)
	})

	return group.Wait()
}

// Manager 暴露机器人管理器（测试/回放用）。
func (a *App) Manager() *trader.Manager {
	if a == nil {
		return nil
	}
	return a.manager
}

// Close 释放存储与行情源连接。
func (a *App) Close() {
	for _, closeFn := range a.closers {
		if err := closeFn(); err != nil {
			logger.Warnf("关闭资源失败: %v", err)
		}
	}
	a.closers = nil
}
