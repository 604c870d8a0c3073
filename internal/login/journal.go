package login

import (
	"context"

	"google_account/internal/logbus"
	"google_account/internal/model"
)

// Journal 每一步写一条登录日志。
type Journal interface {
	Record(ctx context.Context, action, status, message string)
}

type LogStore interface {
	AppendLoginLog(ctx context.Context, l model.LoginLog) (model.LoginLog, error)
}

// StoreJournal 写库并推送到日志总线，写库失败不影响流程。
type StoreJournal struct {
	Store        LogStore
	Bus          *logbus.Bus
	AccountID    int64
	BrowserEnvID string
}

func (j StoreJournal) Record(ctx context.Context, action, status, message string) {
	entry := model.LoginLog{
		AccountID:    j.AccountID,
		BrowserEnvID: j.BrowserEnvID,
		Action:       action,
		Status:       status,
		Message:      message,
	}
	if j.Store != nil {
		if _, err := j.Store.AppendLoginLog(context.WithoutCancel(ctx), entry); err != nil {
			j.Bus.Log("warn", "写入登录日志失败", map[string]any{"accountId": j.AccountID, "error": err.Error()})
		}
	}
	level := "info"
	switch status {
	case "failed":
		level = "error"
	case "warning":
		level = "warn"
	}
	j.Bus.Log(level, message, map[string]any{
		"accountId":    j.AccountID,
		"browserEnvId": j.BrowserEnvID,
		"action":       action,
		"status":       status,
	})
}

type discardJournal struct{}

func (discardJournal) Record(context.Context, string, string, string) {}
