package login

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"google_account/internal/browser"
	"google_account/internal/browser/browsertest"
	"google_account/internal/captcha"
	"google_account/internal/config"
	"google_account/internal/model"
	"google_account/internal/pool"
	"google_account/internal/sms"
	"google_account/internal/store/sqlite"
	"google_account/internal/utils"
)

const (
	entryURL    = "https://accounts.google.com/"
	identURL    = "https://accounts.google.com/v3/signin/identifier"
	passwordURL = "https://accounts.google.com/v3/signin/challenge/pwd"
	homeURL     = "https://myaccount.google.com/?pli=1"
)

type memJournal struct {
	mu      sync.Mutex
	entries []model.LoginLog
}

func (j *memJournal) Record(_ context.Context, action, status, message string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, model.LoginLog{Action: action, Status: status, Message: message})
}

func (j *memJournal) last() model.LoginLog {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.entries[len(j.entries)-1]
}

func key(l browser.Locator) string { return l.String() }

// loginScreens 邮箱 -> 密码 -> afterPassword。
func loginScreens(afterPassword string) map[string]*browsertest.Screen {
	return map[string]*browsertest.Screen{
		"ident": {
			URL:     identURL,
			Present: []browser.Locator{locEmailInput, locEmailNext},
			Clicks:  map[string]string{key(locEmailNext): "password"},
		},
		"password": {
			URL:     passwordURL,
			Present: []browser.Locator{locPasswordInput, locPasswordNext},
			Clicks:  map[string]string{key(locPasswordNext): afterPassword},
		},
		"home":     {URL: homeURL},
		"settings": {URL: passwordSettingsURL},
	}
}

func newPage(screens map[string]*browsertest.Screen) *browsertest.Page {
	p := browsertest.New("blank", screens)
	p.Routes[entryURL] = "ident"
	p.Routes[passwordSettingsURL] = "settings"
	return p
}

func testConfig() config.LoginConfig {
	return config.LoginConfig{EntryURL: entryURL}
}

func openStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "login.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestScenarioPlainLogin(t *testing.T) {
	page := newPage(loginScreens("home"))
	journal := &memJournal{}
	clock := utils.NewManualClock(time.Now())
	acc := model.Account{ID: 1, Email: "user@gmail.com", Password: "secret"}

	m := New(testConfig(), page, acc, Deps{Journal: journal, Clock: clock})
	out := m.Run(context.Background())

	if out.Status != model.LoginStatusSuccess {
		t.Fatalf("expected success, got %+v", out)
	}
	if got := page.TypedInto(locEmailInput); len(got) != 1 || got[0] != "user@gmail.com" {
		t.Fatalf("email typed %v", got)
	}
	if got := page.TypedInto(locPasswordInput); len(got) != 1 || got[0] != "secret" {
		t.Fatalf("password typed %v", got)
	}
	if page.Navigated[len(page.Navigated)-1] != passwordSettingsURL {
		t.Fatalf("security check did not open password settings: %v", page.Navigated)
	}
	if last := journal.last(); last.Action != "result" || last.Status != "success" {
		t.Fatalf("unexpected last log %+v", last)
	}
}

func TestScenarioPhoneVerification(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	acc, err := store.UpsertAccount(ctx, model.Account{Email: "user@gmail.com", Password: "secret"})
	if err != nil {
		t.Fatal(err)
	}

	var polls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&polls, 1) < 3 {
			_, _ = w.Write([]byte("waiting"))
			return
		}
		_, _ = w.Write([]byte("...G-482913..."))
	}))
	defer srv.Close()

	phone, err := store.UpsertPhone(ctx, model.Phone{Number: "8613800000000", SMSURL: srv.URL, ExpireAt: time.Now().Add(24 * time.Hour)})
	if err != nil {
		t.Fatal(err)
	}

	screens := loginScreens("iap")
	screens["iap"] = &browsertest.Screen{
		URL:     "https://accounts.google.com/v3/signin/challenge/iap",
		Present: []browser.Locator{locPhoneInput, locNextButton},
		Clicks:  map[string]string{key(locNextButton): "code"},
	}
	screens["code"] = &browsertest.Screen{
		URL:     "https://accounts.google.com/v3/signin/challenge/iap/verify",
		Present: []browser.Locator{locCodeInput, locNextButton},
		Clicks:  map[string]string{key(locNextButton): "home"},
	}
	page := newPage(screens)

	clock := utils.NewManualClock(time.Now())
	deps := Deps{
		Phones:  pool.New(store, nil, clock, nil, 0),
		SMS:     sms.New(config.SMSConfig{MaxRetries: 12, IntervalMs: 10000}, clock, nil),
		Journal: &memJournal{},
		Clock:   clock,
	}
	out := New(testConfig(), page, acc, deps).Run(ctx)

	if out.Status != model.LoginStatusSuccess {
		t.Fatalf("expected success, got %+v", out)
	}
	if got := page.TypedInto(locPhoneInput); len(got) != 1 || got[0] != "+8613800000000" {
		t.Fatalf("phone typed %v", got)
	}
	if got := page.TypedInto(locCodeInput); len(got) != 1 || got[0] != "482913" {
		t.Fatalf("code typed %v", got)
	}
	if atomic.LoadInt32(&polls) != 3 {
		t.Fatalf("expected 3 polls, got %d", polls)
	}

	gotPhone, err := store.GetPhone(ctx, phone.ID)
	if err != nil || !gotPhone.Used {
		t.Fatalf("phone should be marked used: %+v %v", gotPhone, err)
	}
	gotAcc, _ := store.GetAccount(ctx, acc.ID)
	if gotAcc.PhoneID != phone.ID {
		t.Fatalf("phone not bound: %+v", gotAcc)
	}
}

func TestNeedPhoneWithoutFreePhone(t *testing.T) {
	store := openStore(t)
	acc, _ := store.UpsertAccount(context.Background(), model.Account{Email: "user@gmail.com", Password: "secret"})
	screens := loginScreens("iap")
	screens["iap"] = &browsertest.Screen{
		URL:     "https://accounts.google.com/v3/signin/challenge/iap",
		Present: []browser.Locator{locPhoneInput, locNextButton},
	}
	clock := utils.NewManualClock(time.Now())
	deps := Deps{
		Phones: pool.New(store, nil, clock, nil, 0),
		SMS:    sms.New(config.SMSConfig{}, clock, nil),
		Clock:  clock,
	}
	out := New(testConfig(), newPage(screens), acc, deps).Run(context.Background())
	if out.Status != model.LoginStatusNeedPhone {
		t.Fatalf("expected need_phone, got %+v", out)
	}
}

func TestPasswordError(t *testing.T) {
	screens := loginScreens("wrong")
	screens["wrong"] = &browsertest.Screen{
		URL:     passwordURL,
		Present: []browser.Locator{locPasswordInput, locWrongPassword},
	}
	acc := model.Account{ID: 1, Email: "user@gmail.com", Password: "bad"}
	out := New(testConfig(), newPage(screens), acc, Deps{Clock: utils.NewManualClock(time.Now())}).Run(context.Background())
	if out.Status != model.LoginStatusPasswordError {
		t.Fatalf("expected password_error, got %+v", out)
	}
}

func TestStopsAfterMaxDetections(t *testing.T) {
	page := browsertest.New("blank", map[string]*browsertest.Screen{"blank": {URL: "about:blank"}})
	page.Routes[entryURL] = "blank"
	clock := utils.NewManualClock(time.Now())

	m := New(testConfig(), page, model.Account{ID: 1}, Deps{Clock: clock})
	out := m.Run(context.Background())

	if out.Status != model.LoginStatusFailed || !strings.Contains(out.Message, "最大检测次数") {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if m.Detections() != 8 {
		t.Fatalf("expected 8 detections, got %d", m.Detections())
	}
}

func TestStopsWhenTimeBudgetExhausted(t *testing.T) {
	page := browsertest.New("blank", map[string]*browsertest.Screen{"blank": {URL: "about:blank"}})
	page.Routes[entryURL] = "blank"
	start := time.Now()
	clock := utils.NewManualClock(start)
	cfg := testConfig()
	cfg.UnknownWaitMs = 200_000

	m := New(cfg, page, model.Account{ID: 1}, Deps{Clock: clock})
	out := m.Run(context.Background())

	if out.Status != model.LoginStatusFailed || !strings.Contains(out.Message, "已用时") {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if m.Detections() >= 8 {
		t.Fatalf("time budget should stop before detection budget, got %d", m.Detections())
	}
	if elapsed := clock.Now().Sub(start); elapsed > 600*time.Second+cfg.Settle()+cfg.UnknownWait() {
		t.Fatalf("ran too long: %v", elapsed)
	}
}

func TestVerifyIdentityWithoutBackupEmail(t *testing.T) {
	screens := loginScreens("selection")
	screens["selection"] = &browsertest.Screen{
		URL:     "https://accounts.google.com/v3/signin/challenge/selection",
		Present: []browser.Locator{locRecoveryEmailOption},
	}
	page := newPage(screens)
	acc := model.Account{ID: 1, Email: "user@gmail.com", Password: "secret"}
	out := New(testConfig(), page, acc, Deps{Clock: utils.NewManualClock(time.Now())}).Run(context.Background())
	if out.Status != model.LoginStatusFailed || !strings.Contains(out.Message, "no backup email") {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if len(page.TypedInto(locRecoveryEmailInput)) != 0 {
		t.Fatalf("nothing should be typed")
	}
}

func TestVerifyIdentityWithBackupEmail(t *testing.T) {
	screens := loginScreens("selection")
	screens["selection"] = &browsertest.Screen{
		URL:     "https://accounts.google.com/v3/signin/challenge/selection",
		Present: []browser.Locator{locRecoveryEmailOption},
		Clicks:  map[string]string{key(locRecoveryEmailOption): "kpe"},
	}
	screens["kpe"] = &browsertest.Screen{
		URL:     "https://accounts.google.com/v3/signin/challenge/kpe",
		Present: []browser.Locator{locRecoveryEmailInput, locNextButton},
		Clicks:  map[string]string{key(locNextButton): "home"},
	}
	page := newPage(screens)
	acc := model.Account{ID: 1, Email: "user@gmail.com", Password: "secret", BackupEmail: "backup@mail.com"}
	out := New(testConfig(), page, acc, Deps{Clock: utils.NewManualClock(time.Now())}).Run(context.Background())
	if out.Status != model.LoginStatusSuccess {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if got := page.TypedInto(locRecoveryEmailInput); len(got) != 1 || got[0] != "backup@mail.com" {
		t.Fatalf("backup email typed %v", got)
	}
}

type fixedSolver captcha.Result

func (f fixedSolver) Solve(context.Context, browser.Page) captcha.Result { return captcha.Result(f) }

func TestCaptchaNotEnabledIsFatal(t *testing.T) {
	screens := loginScreens("captcha")
	screens["captcha"] = &browsertest.Screen{URL: "https://accounts.google.com/v3/signin/challenge/recaptcha"}
	acc := model.Account{ID: 1, Email: "user@gmail.com", Password: "secret"}
	deps := Deps{Captcha: fixedSolver(captcha.NotEnabled), Clock: utils.NewManualClock(time.Now())}
	out := New(testConfig(), newPage(screens), acc, deps).Run(context.Background())
	if out.Status != model.LoginStatusFailed || !strings.Contains(out.Message, "未启用") {
		t.Fatalf("unexpected outcome %+v", out)
	}
}

type fakeAppealer struct {
	called bool
}

func (f *fakeAppealer) Submit(context.Context, browser.Page, model.Account) (model.LoginStatus, string) {
	f.called = true
	return model.LoginStatusAppealSuccess, "申诉已提交"
}

func TestDisabledAccountDelegatesToAppeal(t *testing.T) {
	screens := loginScreens("disabled")
	screens["disabled"] = &browsertest.Screen{
		URL:     "https://accounts.google.com/v3/signin/disabled/explanation",
		Present: []browser.Locator{locAppealButton},
	}
	appealer := &fakeAppealer{}
	acc := model.Account{ID: 1, Email: "user@gmail.com", Password: "secret"}
	deps := Deps{Appeal: appealer, Clock: utils.NewManualClock(time.Now())}
	out := New(testConfig(), newPage(screens), acc, deps).Run(context.Background())
	if !appealer.called || out.Status != model.LoginStatusAppealSuccess {
		t.Fatalf("unexpected outcome %+v called=%v", out, appealer.called)
	}
}

func TestDisabledWithoutAppealIsTerminal(t *testing.T) {
	screens := loginScreens("disabled")
	screens["disabled"] = &browsertest.Screen{URL: "https://accounts.google.com/v3/signin/disabled/explanation"}
	acc := model.Account{ID: 1, Email: "user@gmail.com", Password: "secret"}
	out := New(testConfig(), newPage(screens), acc, Deps{Clock: utils.NewManualClock(time.Now())}).Run(context.Background())
	if out.Status != model.LoginStatusDisabled {
		t.Fatalf("unexpected outcome %+v", out)
	}
}

func TestSecurityCheckRequiresVerification(t *testing.T) {
	screens := loginScreens("home")
	screens["settings"] = &browsertest.Screen{URL: "https://accounts.google.com/v3/signin/challenge/selection?continue=signinoptions"}
	page := newPage(screens)
	page.Routes[passwordSettingsURL] = "settings"
	acc := model.Account{ID: 1, Email: "user@gmail.com", Password: "secret"}
	out := New(testConfig(), page, acc, Deps{Clock: utils.NewManualClock(time.Now())}).Run(context.Background())
	if out.Status != model.LoginStatusSuccessWithVerification {
		t.Fatalf("unexpected outcome %+v", out)
	}
}

func TestSecurityCheckPasswordReentry(t *testing.T) {
	screens := loginScreens("home")
	screens["settings"] = &browsertest.Screen{
		URL:     passwordURL,
		Present: []browser.Locator{locPasswordInput, locPasswordNext},
		Clicks:  map[string]string{key(locPasswordNext): "settings-ok"},
	}
	screens["settings-ok"] = &browsertest.Screen{URL: passwordSettingsURL}
	page := newPage(screens)
	acc := model.Account{ID: 1, Email: "user@gmail.com", Password: "secret"}
	out := New(testConfig(), page, acc, Deps{Clock: utils.NewManualClock(time.Now())}).Run(context.Background())
	if out.Status != model.LoginStatusSuccess {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if got := page.TypedInto(locPasswordInput); len(got) != 2 {
		t.Fatalf("password should be typed twice, got %v", got)
	}
}

func TestChooseAccountFallsBackToAnotherAccount(t *testing.T) {
	screens := loginScreens("home")
	screens["chooser"] = &browsertest.Screen{
		URL:     "https://accounts.google.com/v3/signin/accountchooser",
		Present: []browser.Locator{locUseAnother},
		Clicks:  map[string]string{key(locUseAnother): "ident"},
	}
	page := browsertest.New("blank", screens)
	page.Routes[entryURL] = "chooser"
	page.Routes[passwordSettingsURL] = "settings"
	acc := model.Account{ID: 1, Email: "user@gmail.com", Password: "secret"}
	out := New(testConfig(), page, acc, Deps{Clock: utils.NewManualClock(time.Now())}).Run(context.Background())
	if out.Status != model.LoginStatusSuccess {
		t.Fatalf("unexpected outcome %+v", out)
	}
}

func TestResumeDoesNotNavigate(t *testing.T) {
	page := browsertest.New("home", map[string]*browsertest.Screen{
		"home":     {URL: homeURL},
		"settings": {URL: passwordSettingsURL},
	})
	page.Routes[passwordSettingsURL] = "settings"
	out := New(testConfig(), page, model.Account{ID: 1}, Deps{Clock: utils.NewManualClock(time.Now())}).Resume(context.Background())
	if out.Status != model.LoginStatusSuccess {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if len(page.Navigated) != 1 || page.Navigated[0] != passwordSettingsURL {
		t.Fatalf("resume should only open security page, navigated %v", page.Navigated)
	}
}

// 地址带上 Google 实际附带的 continue=/followup= 参数
const (
	identQueryURL    = "https://accounts.google.com/v3/signin/identifier?continue=https%3A%2F%2Fmyaccount.google.com%2F&followup=https%3A%2F%2Fmyaccount.google.com%2F&flowName=GlifWebSignIn&flowEntry=ServiceLogin"
	passwordQueryURL = "https://accounts.google.com/v3/signin/challenge/pwd?TL=AG7eRGB&checkConnection=youtube%3A1&checkedDomains=youtube&cid=2&continue=https%3A%2F%2Fmyaccount.google.com%2F&flowName=GlifWebSignIn"
	reauthQueryURL   = "https://accounts.google.com/v3/signin/challenge/pwd?continue=https%3A%2F%2Fmyaccount.google.com%2Fsigninoptions%2Fpassword&rart=ANgoxc&service=accountsettings"
)

func queryScreens(settings *browsertest.Screen) map[string]*browsertest.Screen {
	return map[string]*browsertest.Screen{
		"ident": {
			URL:     identQueryURL,
			Present: []browser.Locator{locEmailInput, locEmailNext},
			Clicks:  map[string]string{key(locEmailNext): "password"},
		},
		"password": {
			URL:     passwordQueryURL,
			Present: []browser.Locator{locPasswordInput, locPasswordNext},
			Clicks:  map[string]string{key(locPasswordNext): "home"},
		},
		"home":        {URL: homeURL},
		"settings":    settings,
		"settings-ok": {URL: passwordSettingsURL + "?rapt=AEjHL4N"},
	}
}

func TestScenarioPlainLoginWithContinueParams(t *testing.T) {
	page := newPage(queryScreens(&browsertest.Screen{URL: passwordSettingsURL}))
	acc := model.Account{ID: 1, Email: "user@gmail.com", Password: "secret"}
	out := New(testConfig(), page, acc, Deps{Clock: utils.NewManualClock(time.Now())}).Run(context.Background())

	if out.Status != model.LoginStatusSuccess {
		t.Fatalf("expected success, got %+v", out)
	}
	if got := page.TypedInto(locEmailInput); len(got) != 1 || got[0] != "user@gmail.com" {
		t.Fatalf("identifier page must be filled, typed %v", got)
	}
	if got := page.TypedInto(locPasswordInput); len(got) != 1 || got[0] != "secret" {
		t.Fatalf("password page must be filled, typed %v", got)
	}
}

func TestSecurityCheckReauthWithContinueParams(t *testing.T) {
	page := newPage(queryScreens(&browsertest.Screen{
		URL:     reauthQueryURL,
		Present: []browser.Locator{locPasswordInput, locPasswordNext},
		Clicks:  map[string]string{key(locPasswordNext): "settings-ok"},
	}))
	acc := model.Account{ID: 1, Email: "user@gmail.com", Password: "secret"}
	out := New(testConfig(), page, acc, Deps{Clock: utils.NewManualClock(time.Now())}).Run(context.Background())
	if out.Status != model.LoginStatusSuccess {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if got := page.TypedInto(locPasswordInput); len(got) != 2 {
		t.Fatalf("password should be typed again on re-auth, got %v", got)
	}
}

func TestSecurityCheckStuckOnReauthNeedsVerification(t *testing.T) {
	// 重新输入密码后仍停在 accounts.google.com
	page := newPage(queryScreens(&browsertest.Screen{
		URL:     reauthQueryURL,
		Present: []browser.Locator{locPasswordInput, locPasswordNext},
	}))
	acc := model.Account{ID: 1, Email: "user@gmail.com", Password: "secret"}
	out := New(testConfig(), page, acc, Deps{Clock: utils.NewManualClock(time.Now())}).Run(context.Background())
	if out.Status != model.LoginStatusSuccessWithVerification {
		t.Fatalf("unexpected outcome %+v", out)
	}
}

func TestSecurityCheckNavigationFailureIsFailed(t *testing.T) {
	page := newPage(loginScreens("home"))
	page.Fail[passwordSettingsURL] = errors.New("cdp: connection closed")
	journal := &memJournal{}
	acc := model.Account{ID: 1, Email: "user@gmail.com", Password: "secret"}
	out := New(testConfig(), page, acc, Deps{Journal: journal, Clock: utils.NewManualClock(time.Now())}).Run(context.Background())
	if out.Status != model.LoginStatusFailed || !strings.Contains(out.Message, "浏览器连接异常") {
		t.Fatalf("unexpected outcome %+v", out)
	}
	var logged bool
	for _, e := range journal.entries {
		if e.Action == "browser" && e.Status == "failed" {
			logged = true
		}
	}
	if !logged {
		t.Fatalf("navigation failure not journaled: %+v", journal.entries)
	}
}
