package engine

import (
	"context"
	"fmt"

	"google_account/internal/browser"
	"google_account/internal/channel"
	"google_account/internal/login"
	"google_account/internal/model"
)

func (e *Engine) StartBatchChannelCreation(accountIDs []int64) (string, error) {
	return e.startBatch(model.BatchKindChannel, accountIDs, e.processChannel)
}

const (
	resultNotLogged = "not_logged"
	resultNoAvatar  = "no_avatar"
)

func (e *Engine) processChannel(ctx context.Context, accountID int64) string {
	acc, err := e.store.GetAccount(ctx, accountID)
	if err != nil {
		e.bus.Log("warn", "账号不存在", map[string]any{"accountId": accountID, "error": err.Error()})
		return resultSkipped
	}
	journal := e.journal(acc)
	if !acc.LoginStatus.LoggedIn() {
		journal.Record(ctx, "create_channel", "warning", "账号未登录，无法创建频道")
		return resultNotLogged
	}
	if acc.BrowserEnvID == "" {
		journal.Record(ctx, "create_channel", "warning", "账号没有绑定浏览器环境，跳过")
		return resultSkipped
	}
	if !acc.ChannelReady() {
		if e.avatarCount(ctx) == 0 {
			journal.Record(ctx, "create_channel", "failed", "没有可用的头像文件 (no avatar)")
			if err := e.store.SetChannelStatus(ctx, acc.ID, model.ChannelStatusFailed); err != nil {
				e.bus.Log("warn", "保存频道状态失败", map[string]any{"accountId": acc.ID, "error": err.Error()})
			}
			return resultNoAvatar
		}
	}

	page, closeFn, err := e.browsers.Launch(ctx, acc.BrowserEnvID)
	if err != nil {
		journal.Record(ctx, "open_browser", "failed", "打开浏览器失败: "+err.Error())
		_ = e.store.SetChannelStatus(ctx, acc.ID, model.ChannelStatusFailed)
		return resultFailed
	}
	defer closeFn(ctx)

	// 频道流程被带回登录页时，复用当前页面继续登录状态机
	verify := func(vctx context.Context) login.Outcome {
		out := e.runMachine(vctx, page, acc, journal, true)
		if err := e.store.SetLoginStatus(vctx, acc.ID, out.Status); err != nil {
			e.bus.Log("warn", "保存登录状态失败", map[string]any{"accountId": acc.ID, "error": err.Error()})
		}
		return out
	}

	res := e.runChannel(ctx, channel.New(e.channelCfg, e.avatars, e.clock, journal, verify), page, acc, journal)
	e.saveChannel(ctx, acc, res)
	return string(res.Status)
}

func (e *Engine) runChannel(ctx context.Context, f *channel.Flow, page browser.Page, acc model.Account, journal login.Journal) (res channel.Result) {
	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("频道流程异常: %v", r)
			journal.Record(ctx, "create_channel", "failed", msg)
			res = channel.Result{Status: model.ChannelStatusFailed, Message: msg}
		}
	}()
	return f.Run(ctx, page, acc)
}

func (e *Engine) saveChannel(ctx context.Context, acc model.Account, res channel.Result) {
	var err error
	switch res.Status {
	case model.ChannelStatusCreated:
		m := res.Monetization
		if m == model.MonetizationUnset {
			m = acc.Monetization
		}
		url := res.ChannelURL
		if url == "" {
			url = acc.ChannelURL
		}
		err = e.store.SetChannelResult(ctx, acc.ID, model.ChannelStatusCreated, url, m)
	default:
		err = e.store.SetChannelStatus(ctx, acc.ID, model.ChannelStatusFailed)
	}
	if err != nil {
		e.bus.Log("warn", "保存频道结果失败", map[string]any{"accountId": acc.ID, "error": err.Error()})
	}
}

func (e *Engine) avatarCount(ctx context.Context) int {
	if e.avatars == nil {
		return 0
	}
	n, err := e.avatars.Available(ctx)
	if err != nil {
		return 0
	}
	return n
}
