// Package appeal 在账号停用说明页上提交申诉：开始申诉、同意页、补充说明、联系邮箱、确认。
package appeal

import (
	"context"
	"errors"
	"strings"
	"time"

	"google_account/internal/browser"
	"google_account/internal/model"
	"google_account/internal/utils"
)

var (
	locStartAppeal = browser.XPath("//*[self::button or self::a][contains(., 'Start appeal') or contains(., '开始申诉') or contains(., 'Request a review')]")
	locNext        = browser.XPath("//button[.//span[contains(text(), 'Next') or contains(text(), '下一步')]] | //button[contains(., 'Next') or contains(., '下一步')]")
	locSubmit      = browser.XPath("//button[contains(., 'Submit') or contains(., '提交') or contains(., 'Send') or contains(., '发送')]")
	locReason      = browser.XPath("//textarea")
	locEmail       = browser.XPath("//input[@type='email' or contains(@aria-label, 'email') or contains(@aria-label, '邮箱')]")
	locConfirmed   = browser.XPath("//*[contains(text(), 'Appeal submitted') or contains(text(), 'received your request') or contains(text(), 'request has been submitted') or contains(text(), '申诉已提交') or contains(text(), '已收到您的请求')]")
)

// Recorder 与登录日志同一接口。
type Recorder interface {
	Record(ctx context.Context, action, status, message string)
}

type Flow struct {
	texts   TextSource
	clock   utils.Clock
	settle  time.Duration
	journal Recorder
}

func New(texts TextSource, clock utils.Clock, settle time.Duration, journal Recorder) *Flow {
	if clock == nil {
		clock = utils.RealClock{}
	}
	return &Flow{texts: texts, clock: clock, settle: settle, journal: journal}
}

func (f *Flow) log(ctx context.Context, status, msg string) {
	if f.journal != nil {
		f.journal.Record(ctx, "appeal", status, msg)
	}
}

func (f *Flow) fail(ctx context.Context, msg string) (model.LoginStatus, string) {
	f.log(ctx, "failed", msg)
	return model.LoginStatusAppealFailed, msg
}

// Submit 前置条件不满足时不操作页面。
func (f *Flow) Submit(ctx context.Context, page browser.Page, acc model.Account) (model.LoginStatus, string) {
	backup := strings.TrimSpace(acc.BackupEmail)
	if backup == "" {
		return f.fail(ctx, "申诉需要辅助邮箱，但账号未配置 (no backup email configured)")
	}
	if f.texts == nil {
		return f.fail(ctx, "申诉文案未配置 (no appeal text available)")
	}
	reason, err := f.texts.Pick(ctx)
	if err != nil {
		if errors.Is(err, ErrNoAppealText) {
			return f.fail(ctx, "没有可用的申诉文案 (no appeal text available)")
		}
		return f.fail(ctx, "读取申诉文案失败: "+err.Error())
	}

	if err := page.Click(ctx, locStartAppeal); err != nil {
		return f.fail(ctx, "未找到开始申诉按钮")
	}
	f.log(ctx, "info", "已点击开始申诉")
	f.wait(ctx)

	if err := page.Click(ctx, locNext); err != nil {
		return f.fail(ctx, "申诉同意页未找到下一步按钮")
	}
	f.wait(ctx)

	if err := page.Input(ctx, locReason, reason); err != nil {
		return f.fail(ctx, "未找到申诉说明输入框")
	}
	f.log(ctx, "info", "已填写申诉说明")
	if err := browser.ClickFirst(ctx, page, locNext, locSubmit); err != nil {
		return f.fail(ctx, "申诉说明页未找到提交按钮")
	}
	f.wait(ctx)

	if err := page.Input(ctx, locEmail, backup); err != nil {
		return f.fail(ctx, "未找到联系邮箱输入框")
	}
	if err := browser.ClickFirst(ctx, page, locSubmit, locNext); err != nil {
		return f.fail(ctx, "联系邮箱页未找到提交按钮")
	}
	f.wait(ctx)

	if !page.Exists(ctx, locConfirmed) {
		return f.fail(ctx, "未检测到申诉提交确认")
	}
	f.log(ctx, "success", "申诉已提交")
	return model.LoginStatusAppealSuccess, "申诉已提交"
}

func (f *Flow) wait(ctx context.Context) {
	d := f.settle
	if d <= 0 {
		d = 3 * time.Second
	}
	f.clock.Sleep(ctx, d)
}
