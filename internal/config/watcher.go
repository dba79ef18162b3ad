package config

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"tradeflow/internal/gate"
	"tradeflow/internal/logger"
	"tradeflow/internal/risk"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// PolicySnapshot 配置中可热更新的部分。
type PolicySnapshot struct {
	Version  int64
	LoadedAt time.Time
	Risk     risk.Policy
	Gate     gate.Rules
}

type PolicyListener func(PolicySnapshot)

// PolicyWatcher 在配置文件变化时重新加载 risk 与 gate 段。
// 解析或校验失败时保留上一份快照。
type PolicyWatcher struct {
	path string
	v    *viper.Viper

	mu        sync.RWMutex
	snapshot  PolicySnapshot
	listeners []PolicyListener
}

// NewPolicyWatcher 以已加载的配置初始化 watcher，调用 Watch 后才开始监听文件。
func NewPolicyWatcher(path string, cfg *Config) (*PolicyWatcher, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("policy watcher requires path")
	}
	if cfg == nil {
		return nil, fmt.Errorf("policy watcher requires an initial config")
	}
	w := &PolicyWatcher{path: path}
	w.snapshot = PolicySnapshot{
		Version:  1,
		LoadedAt: time.Now(),
		Risk:     cfg.Risk.Policy(),
		Gate:     cfg.Gate.Rules(),
	}
	return w, nil
}

// Watch 启动 fsnotify 监听，阻塞直到 ctx 结束。
func (w *PolicyWatcher) Watch(ctx context.Context) error {
	v := viper.New()
	v.SetConfigFile(w.path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config for watch failed: %w", err)
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := w.Reload(); err != nil {
			logger.Errorf("[config] policy reload failed (%s): %v", evt.Name, err)
		}
	})
	v.WatchConfig()
	w.mu.Lock()
	w.v = v
	w.mu.Unlock()
	logger.Infof("[config] watching %s for risk/gate changes", filepath.Base(w.path))
	<-ctx.Done()
	return nil
}

// Reload 重新读取配置并向订阅者发布新快照。
func (w *PolicyWatcher) Reload() error {
	cfg, err := Load(w.path)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.snapshot = PolicySnapshot{
		Version:  w.snapshot.Version + 1,
		LoadedAt: time.Now(),
		Risk:     cfg.Risk.Policy(),
		Gate:     cfg.Gate.Rules(),
	}
	version := w.snapshot.Version
	w.mu.Unlock()
	logger.Infof("[config] policy reloaded from %s (v%d)", filepath.Base(w.path), version)
	w.notify()
	return nil
}

func (w *PolicyWatcher) Snapshot() PolicySnapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.snapshot
}

// Subscribe 注册后续重载的回调，当前快照不会回放，需要时读取 Snapshot。
func (w *PolicyWatcher) Subscribe(fn PolicyListener) {
	if fn == nil {
		return
	}
	w.mu.Lock()
	w.listeners = append(w.listeners, fn)
	w.mu.Unlock()
}

func (w *PolicyWatcher) notify() {
	w.mu.RLock()
	snap := w.snapshot
	listeners := append([]PolicyListener(nil), w.listeners...)
	w.mu.RUnlock()
	for _, fn := range listeners {
		func(cb PolicyListener) {
			defer func() {
				if r := recover(); r != nil {
					logger.Errorf("[config] policy listener panic: %v", r)
				}
			}()
			cb(snap)
		}(fn)
	}
}
