package app

import (
	"context"
	"fmt"

	"tradeflow/internal/config"
	"tradeflow/internal/engine"
	"tradeflow/internal/logger"
	"tradeflow/internal/store"
	"tradeflow/internal/strategy"
	toolshttp "tradeflow/internal/transport/http/tools"
	"tradeflow/internal/venue/paper"

	"golang.org/x/sync/errgroup"
)

// App wires the engine to its HTTP surface and background loops.
type App struct {
	cfg     *config.Config
	engine  *engine.Engine
	http    *toolshttp.Server
	cache   *strategy.Cache
	watcher *config.PolicyWatcher
	paper   *paper.Venue
	audit   store.AuditStore
	Summary *StartupSummary
}

// NewApp 根据配置构建应用对象（不启动），cfgPath 非空时开启策略热更新。
func NewApp(cfg *config.Config, cfgPath string) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg, cfgPath)
}

// Run 启动 HTTP 服务、过期策略清理与配置监听，直到 ctx 取消或任一组件出错。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	defer a.Close()
	if a.Summary != nil {
		a.Summary.Print()
	}

	group, ctx := errgroup.WithContext(ctx)
	if a.http != nil {
		group.Go(func() error {
			if err := a.http.Start(ctx); err != nil {
				return fmt.Errorf("tools http server error: %w", err)
			}
			return nil
		})
	}
	group.Go(func() error {
		return a.cache.Run(ctx, a.cfg.Strategy.SweepInterval())
	})
	if a.watcher != nil {
		group.Go(func() error {
			if err := a.watcher.Watch(ctx); err != nil {
				// 继续使用已加载的策略
				logger.Warnf("[config] policy watch disabled: %v", err)
			}
			return nil
		})
	}
	return group.Wait()
}

func (a *App) Engine() *engine.Engine {
	if a == nil {
		return nil
	}
	return a.engine
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.paper != nil {
		a.paper.Close()
	}
	if a.audit != nil {
		if err := a.audit.Close(); err != nil {
			logger.Warnf("[store] close audit store: %v", err)
		}
	}
}
