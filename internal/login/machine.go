package login

import (
	"context"
	"fmt"
	"time"

	"google_account/internal/browser"
	"google_account/internal/captcha"
	"google_account/internal/config"
	"google_account/internal/model"
	"google_account/internal/utils"
)

// Phones 手机号池。AcquirePhone 优先返回账号已绑定且可用的号码。
type Phones interface {
	AcquirePhone(ctx context.Context, accountID int64) (model.Phone, bool, error)
	BoundPhone(ctx context.Context, accountID int64) (model.Phone, bool, error)
	BindPhone(ctx context.Context, accountID, phoneID int64) error
	ReleasePhone(ctx context.Context, phoneID int64) error
}

type CodeSource interface {
	GetCode(ctx context.Context, smsURL string, notBefore time.Time) (string, error)
}

type CaptchaSolver interface {
	Solve(ctx context.Context, page browser.Page) captcha.Result
}

// Appealer 在停用说明页上提交申诉，返回 appeal_success 或 appeal_failed。
type Appealer interface {
	Submit(ctx context.Context, page browser.Page, acc model.Account) (model.LoginStatus, string)
}

type Deps struct {
	Phones  Phones
	SMS     CodeSource
	Captcha CaptchaSolver
	Appeal  Appealer
	Journal Journal
	Clock   utils.Clock
}

type Machine struct {
	cfg     config.LoginConfig
	page    browser.Page
	account model.Account
	deps    Deps
	clock   utils.Clock

	detections int
}

const passwordSettingsURL = "https://myaccount.google.com/signinoptions/password"

func New(cfg config.LoginConfig, page browser.Page, acc model.Account, deps Deps) *Machine {
	clock := deps.Clock
	if clock == nil {
		clock = utils.RealClock{}
	}
	if deps.Journal == nil {
		deps.Journal = discardJournal{}
	}
	return &Machine{cfg: cfg, page: page, account: acc, deps: deps, clock: clock}
}

// Detections 本次运行做过的状态检测次数。
func (m *Machine) Detections() int { return m.detections }

// Account 运行过程中可能更新了 PhoneID。
func (m *Machine) Account() model.Account { return m.account }

// Run 从登录入口开始。
func (m *Machine) Run(ctx context.Context) Outcome {
	entry := m.cfg.EntryURL
	if entry == "" {
		entry = "https://accounts.google.com/"
	}
	m.log(ctx, "navigate", "info", "打开登录页 "+entry)
	if err := m.page.Navigate(ctx, entry); err != nil {
		return m.finish(ctx, failed("打开登录页失败: "+err.Error()))
	}
	m.settle(ctx)
	return m.loop(ctx)
}

// Resume 不导航，从当前页面继续，频道流程遇到登录验证时使用。
func (m *Machine) Resume(ctx context.Context) Outcome {
	return m.loop(ctx)
}

func (m *Machine) loop(ctx context.Context) Outcome {
	maxDetections := m.cfg.MaxDetections
	if maxDetections <= 0 {
		maxDetections = 8
	}
	budget := m.cfg.Budget()
	start := m.clock.Now()

	for m.detections < maxDetections {
		if elapsed := m.clock.Now().Sub(start); elapsed >= budget {
			return m.finish(ctx, failed(fmt.Sprintf("登录超时: 已用时 %ds", int(elapsed.Seconds()))))
		}
		if err := ctx.Err(); err != nil {
			return m.finish(ctx, failed("任务已取消"))
		}

		url := m.page.URL()
		state := Classify(ctx, url, m.page)
		m.detections++
		m.log(ctx, "detect", "info", fmt.Sprintf("第 %d 次检测: %s (%s)", m.detections, state, url))

		if out, done := stateHandlers[state](m, ctx); done {
			return m.finish(ctx, out)
		}
	}
	return m.finish(ctx, failed(fmt.Sprintf("登录超时: 超过最大检测次数 %d", maxDetections)))
}

func (m *Machine) finish(ctx context.Context, out Outcome) Outcome {
	status := "failed"
	if out.Status.LoggedIn() || out.Status == model.LoginStatusAppealSuccess {
		status = "success"
	}
	m.log(ctx, "result", status, fmt.Sprintf("%s: %s", out.Status, out.Message))
	return out
}

func (m *Machine) log(ctx context.Context, action, status, msg string) {
	m.deps.Journal.Record(ctx, action, status, msg)
}

func (m *Machine) settle(ctx context.Context) {
	m.clock.Sleep(ctx, m.cfg.Settle())
}

// submit 优先点击指定按钮，找不到时按回车。
func (m *Machine) submit(ctx context.Context, buttons ...browser.Locator) {
	if err := browser.ClickFirst(ctx, m.page, buttons...); err != nil {
		_ = m.page.PressEnter(ctx)
	}
	m.settle(ctx)
}
