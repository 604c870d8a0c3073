package engine

import (
	"context"
	"fmt"

	"google_account/internal/appeal"
	"google_account/internal/browser"
	"google_account/internal/login"
	"google_account/internal/model"
)

// StartAutoLogin 单个账号，按一个批次处理。
func (e *Engine) StartAutoLogin(accountID int64) (string, error) {
	return e.StartBatchLogin([]int64{accountID})
}

func (e *Engine) StartBatchLogin(accountIDs []int64) (string, error) {
	return e.startBatch(model.BatchKindLogin, accountIDs, e.processLogin)
}

func (e *Engine) journal(acc model.Account) login.StoreJournal {
	return login.StoreJournal{Store: e.store, Bus: e.bus, AccountID: acc.ID, BrowserEnvID: acc.BrowserEnvID}
}

func (e *Engine) loginDeps(journal login.Journal) login.Deps {
	return login.Deps{
		Phones:  e.pool,
		SMS:     e.sms,
		Captcha: e.captcha,
		Appeal:  appeal.New(e.appeals, e.clock, e.loginCfg.Settle(), journal),
		Journal: journal,
		Clock:   e.clock,
	}
}

func (e *Engine) processLogin(ctx context.Context, accountID int64) string {
	acc, err := e.store.GetAccount(ctx, accountID)
	if err != nil {
		e.bus.Log("warn", "账号不存在", map[string]any{"accountId": accountID, "error": err.Error()})
		return resultSkipped
	}
	ok, err := e.store.TryMarkLogging(ctx, acc.ID)
	if err != nil {
		e.journal(acc).Record(ctx, "start", "failed", "标记登录中失败: "+err.Error())
		return resultFailed
	}
	if !ok {
		e.journal(acc).Record(ctx, "start", "warning", "账号正在登录中，跳过")
		return resultSkipped
	}

	// panic 时同样落库，避免账号停在 logging
	status := model.LoginStatusFailed
	defer func() {
		if err := e.store.SetLoginStatus(context.WithoutCancel(ctx), acc.ID, status); err != nil {
			e.bus.Log("warn", "保存登录状态失败", map[string]any{"accountId": acc.ID, "error": err.Error()})
		}
	}()
	status = e.loginAccount(ctx, acc).Status
	return string(status)
}

func (e *Engine) loginAccount(ctx context.Context, acc model.Account) (out login.Outcome) {
	env, ok, err := e.pool.AcquireBrowserEnvironment(ctx, acc.ID)
	if err != nil {
		e.journal(acc).Record(ctx, "browser_env", "failed", "分配浏览器环境失败: "+err.Error())
		return login.Outcome{Status: model.LoginStatusFailed, Message: err.Error()}
	}
	if !ok {
		e.journal(acc).Record(ctx, "browser_env", "failed", "没有可用的浏览器环境")
		return login.Outcome{Status: model.LoginStatusFailed, Message: "没有可用的浏览器环境"}
	}
	if err := e.store.SetAccountBrowserEnv(ctx, acc.ID, env.ContainerCode); err != nil {
		e.bus.Log("warn", "保存账号浏览器环境失败", map[string]any{"accountId": acc.ID, "error": err.Error()})
	}
	acc.BrowserEnvID = env.ContainerCode
	journal := e.journal(acc)
	journal.Record(ctx, "browser_env", "info", "已分配浏览器环境 "+env.ContainerCode)

	page, closeFn, err := e.browsers.Launch(ctx, env.ContainerCode)
	if err != nil {
		journal.Record(ctx, "open_browser", "failed", "打开浏览器失败: "+err.Error())
		return login.Outcome{Status: model.LoginStatusFailed, Message: "打开浏览器失败: " + err.Error()}
	}
	defer closeFn(ctx)

	return e.runMachine(ctx, page, acc, journal, false)
}

// runMachine 页面驱动的 panic 转为 failed，保证浏览器仍被关闭。
func (e *Engine) runMachine(ctx context.Context, page browser.Page, acc model.Account, journal login.Journal, resume bool) (out login.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("登录流程异常: %v", r)
			journal.Record(ctx, "result", "failed", msg)
			out = login.Outcome{Status: model.LoginStatusFailed, Message: msg}
		}
	}()
	m := login.New(e.loginCfg, page, acc, e.loginDeps(journal))
	if resume {
		return m.Resume(ctx)
	}
	return m.Run(ctx)
}
