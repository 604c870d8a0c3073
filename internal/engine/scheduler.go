package engine

import (
	"context"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// StartSyncSchedule 按 cron 表达式定时同步浏览器环境，expr 为空时不启动。
func (e *Engine) StartSyncSchedule(expr string) (stop func(), err error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return func() {}, nil
	}
	c := cron.New(cron.WithLocation(time.Local))
	_, err = c.AddFunc(expr, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		inserted, total, err := e.SyncBrowserEnvironments(ctx)
		if err != nil {
			e.bus.Log("warn", "定时同步浏览器环境失败", map[string]any{"error": err.Error()})
			return
		}
		e.bus.Log("info", "定时同步浏览器环境", map[string]any{"inserted": inserted, "total": total})
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	e.bus.Log("info", "已启动定时同步", map[string]any{"cron": expr})
	return func() { <-c.Stop().Done() }, nil
}
