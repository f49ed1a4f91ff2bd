package app

import (
	"context"
	"fmt"

	"autotrade/internal/bot"
	brcfg "autotrade/internal/config"
	"autotrade/internal/logger"
	livehttp "autotrade/internal/transport/http/live"

	"golang.org/x/sync/errgroup"
)

// App 负责应用级编排：加载配置→初始化依赖→启动控制器、持久化与 HTTP 服务。
type App struct {
	cfg      *brcfg.Config
	ctrl     *bot.Controller
	stores   *storeSet
	liveHTTP *livehttp.Server
	Summary  *StartupSummary
}

// NewApp 根据配置构建应用对象（不启动）
func NewApp(cfg *brcfg.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// Run 启动全部后台循环，直到 ctx 取消或某个服务出错。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.ctrl == nil {
		return fmt.Errorf("app not initialized")
	}
	if a.Summary != nil {
		a.Summary.Print()
	}
	defer func() {
		if err := a.stores.Close(); err != nil {
			logger.Warnf("关闭存储失败: %v", err)
		}
	}()

	group, gctx := errgroup.WithContext(ctx)
	if a.liveHTTP != nil {
		group.Go(func() error {
			if err := a.liveHTTP.Start(gctx); err != nil {
				return fmt.Errorf("live http server error: %w", err)
			}
			return nil
		})
	}
	if a.stores != nil {
		group.Go(func() error {
			return a.stores.sink.Run(gctx)
		})
	}
	group.Go(func() error {
		return a.ctrl.Run(gctx)
	})

	if a.cfg.Bot.AutoStart {
		if err := a.ctrl.Start(); err != nil {
			logger.Warnf("auto start failed: %v", err)
		}
	} else {
		logger.Infof("控制器处于 STOPPED，等待 POST /api/bot/start")
	}

	err := group.Wait()
	// 停机时把控制器置为 STOPPED，取消进行中的周期。
	if a.ctrl.State() != bot.StateStopped {
		_ = a.ctrl.Stop()
	}
	return err
}

// Controller exposes the bot controller (for tests and embedding).
func (a *App) Controller() *bot.Controller {
	if a == nil {
		return nil
	}
	return a.ctrl
}
