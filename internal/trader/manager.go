package trader

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"quantbot/internal/logger"
	"quantbot/internal/scheduler"
)

// Manager 持有全部 bot，为每个 bot 起一个对齐调度循环。
type Manager struct {
	bots  map[string]*Bot
	order []string
}

func NewManager(bots ...*Bot) *Manager {
	m := &Manager{bots: make(map[string]*Bot, len(bots))}
	for _, b := range bots {
		m.bots[b.ID()] = b
		m.order = append(m.order, b.ID())
	}
	sort.Strings(m.order)
	return m
}

func (m *Manager) Bot(id string) (*Bot, bool) {
	b, ok := m.bots[id]
	return b, ok
}

func (m *Manager) Bots() []*Bot {
	out := make([]*Bot, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.bots[id])
	}
	return out
}

// Run 阻塞运行全部调度循环，ctx 取消后整体退出。
func (m *Manager) Run(ctx context.Context, offset time.Duration) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, id := range m.order {
		b := m.bots[id]
		interval, ok := scheduler.ParseIntervalDuration(b.cfg.Interval)
		if !ok {
			return fmt.Errorf("bot %s: 非法 interval %q", id, b.cfg.Interval)
		}
		sched := scheduler.NewCycleScheduler(ctx, b.cfg.Name, interval, offset)
		g.Go(func() error {
			sched.Start(func() {
				_, err := b.RunCycle(ctx)
				switch {
				case err == nil:
				case errors.Is(err, ErrPaused):
					logger.Debugf("bot[%s]: paused, cycle skipped", b.ID())
				default:
					logger.Errorf("bot[%s]: cycle error: %v", b.ID(), err)
				}
			})
			return nil
		})
	}
	logger.Infof("trader: %d bots scheduled", len(m.order))
	return g.Wait()
}

// RestoreAll 启动时恢复全部账本。
func (m *Manager) RestoreAll() error {
	for _, id := range m.order {
		if err := m.bots[id].Restore(); err != nil {
			return fmt.Errorf("bot %s: %w", id, err)
		}
	}
	return nil
}
