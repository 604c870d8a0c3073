package engine

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"google_account/internal/browser"
	"google_account/internal/browser/browsertest"
	"google_account/internal/config"
	"google_account/internal/hubstudio"
	"google_account/internal/logbus"
	"google_account/internal/model"
	"google_account/internal/notify"
	"google_account/internal/pool"
	"google_account/internal/store/sqlite"
	"google_account/internal/utils"
)

// fakeLauncher 每次启动返回一个新的假页面；gate 非空时阻塞到放行。
type fakeLauncher struct {
	mu       sync.Mutex
	launched []string
	closed   []string
	err      error
	panicMsg string
	started  chan string
	gate     chan struct{}
}

func (l *fakeLauncher) Launch(ctx context.Context, code string) (browser.Page, func(context.Context), error) {
	l.mu.Lock()
	l.launched = append(l.launched, code)
	l.mu.Unlock()
	if l.started != nil {
		l.started <- code
	}
	if l.gate != nil {
		<-l.gate
	}
	if l.panicMsg != "" {
		panic(l.panicMsg)
	}
	if l.err != nil {
		return nil, nil, l.err
	}
	page := browsertest.New("blank", map[string]*browsertest.Screen{})
	return page, func(context.Context) {
		l.mu.Lock()
		l.closed = append(l.closed, code)
		l.mu.Unlock()
	}, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.BatchFinishedEvent
}

func (n *recordingNotifier) NotifyBatchFinished(_ context.Context, evt notify.BatchFinishedEvent) {
	n.mu.Lock()
	n.events = append(n.events, evt)
	n.mu.Unlock()
}

type fakeProvisioner struct {
	mu      sync.Mutex
	reqs    []hubstudio.CreateRequest
	failFor string
}

func (p *fakeProvisioner) Groups(context.Context) ([]hubstudio.Group, error) {
	return []hubstudio.Group{{TagCode: "7", TagName: "youtube"}}, nil
}

func (p *fakeProvisioner) CreateEnvironment(_ context.Context, req hubstudio.CreateRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reqs = append(p.reqs, req)
	if req.ProxyServer == p.failFor {
		return "", errors.New("proxy rejected")
	}
	return "code-" + req.ProxyServer, nil
}

type fixture struct {
	store    *sqlite.Store
	engine   *Engine
	launcher *fakeLauncher
	notifier *recordingNotifier
	prov     *fakeProvisioner
}

// newFixture 登录入口直接指向账号主页，假页面无需脚本即可登录成功。
func newFixture(t *testing.T, entry string, workers int) *fixture {
	t.Helper()
	ctx := context.Background()
	store, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "engine.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	clock := utils.NewManualClock(time.Date(2026, 3, 14, 9, 30, 0, 0, time.Local))
	bus := logbus.New(100)
	f := &fixture{
		store:    store,
		launcher: &fakeLauncher{},
		notifier: &recordingNotifier{},
		prov:     &fakeProvisioner{},
	}
	f.engine = New(Options{
		Store:       store,
		Pool:        pool.New(store, nil, clock, bus, 0),
		Browsers:    f.launcher,
		Provisioner: f.prov,
		Bus:         bus,
		Notifier:    f.notifier,
		Clock:       clock,
		Login:       config.LoginConfig{EntryURL: entry},
		Worker:      config.WorkerConfig{Size: workers},
	})
	t.Cleanup(func() {
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = f.engine.Close(cctx)
	})
	return f
}

func (f *fixture) accounts(t *testing.T, n int) []int64 {
	t.Helper()
	var ids []int64
	for i := 0; i < n; i++ {
		acc, err := f.store.UpsertAccount(context.Background(), model.Account{
			Email:    "user" + string(rune('a'+i)) + "@gmail.com",
			Password: "secret",
		})
		if err != nil {
			t.Fatalf("upsert account: %v", err)
		}
		ids = append(ids, acc.ID)
	}
	return ids
}

func (f *fixture) envs(t *testing.T, codes ...string) {
	t.Helper()
	var envs []model.BrowserEnv
	for _, c := range codes {
		envs = append(envs, model.BrowserEnv{ContainerCode: c, ContainerName: c})
	}
	if _, err := f.store.InsertMissingBrowserEnvs(context.Background(), envs); err != nil {
		t.Fatalf("insert envs: %v", err)
	}
}

func (f *fixture) wait(t *testing.T, batchID string) model.BatchState {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		for _, b := range f.engine.State().Batches {
			if b.ID == batchID && !b.Running {
				return b
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("batch %s did not finish", batchID)
	return model.BatchState{}
}

func TestBatchLoginBindsEnvironments(t *testing.T) {
	f := newFixture(t, "https://myaccount.google.com/", 3)
	ids := f.accounts(t, 3)
	f.envs(t, "env-1", "env-2", "env-3")

	batchID, err := f.engine.StartBatchLogin(append(ids, ids[0]))
	if err != nil {
		t.Fatal(err)
	}
	st := f.wait(t, batchID)
	if st.Total != 3 || st.Done != 3 || st.Results[string(model.LoginStatusSuccess)] != 3 {
		t.Fatalf("unexpected batch state %+v", st)
	}

	seen := map[string]bool{}
	for _, id := range ids {
		acc, err := f.store.GetAccount(context.Background(), id)
		if err != nil {
			t.Fatal(err)
		}
		if acc.LoginStatus != model.LoginStatusSuccess {
			t.Fatalf("account %d status %s", id, acc.LoginStatus)
		}
		if acc.BrowserEnvID == "" || seen[acc.BrowserEnvID] {
			t.Fatalf("account %d env %q reused or missing", id, acc.BrowserEnvID)
		}
		seen[acc.BrowserEnvID] = true
	}
	if n, _ := f.store.CountAvailableBrowserEnvs(context.Background()); n != 0 {
		t.Fatalf("expected all environments bound, %d free", n)
	}
	f.launcher.mu.Lock()
	if len(f.launcher.closed) != 3 {
		t.Fatalf("browsers closed %v", f.launcher.closed)
	}
	f.launcher.mu.Unlock()

	f.notifier.mu.Lock()
	defer f.notifier.mu.Unlock()
	if len(f.notifier.events) != 1 || f.notifier.events[0].BatchID != batchID || f.notifier.events[0].Stopped {
		t.Fatalf("notifier events %+v", f.notifier.events)
	}
}

func TestLoginWithoutEnvironmentFails(t *testing.T) {
	f := newFixture(t, "https://myaccount.google.com/", 1)
	ids := f.accounts(t, 1)

	batchID, err := f.engine.StartAutoLogin(ids[0])
	if err != nil {
		t.Fatal(err)
	}
	st := f.wait(t, batchID)
	if st.Results[string(model.LoginStatusFailed)] != 1 {
		t.Fatalf("unexpected results %+v", st.Results)
	}
	logs, err := f.store.ListLoginLogs(context.Background(), ids[0], 10)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, l := range logs {
		if l.Action == "browser_env" && l.Message == "没有可用的浏览器环境" {
			found = true
		}
	}
	if !found {
		t.Fatalf("missing environment log: %+v", logs)
	}
	acc, _ := f.store.GetAccount(context.Background(), ids[0])
	if acc.LoginStatus != model.LoginStatusFailed {
		t.Fatalf("status %s", acc.LoginStatus)
	}
}

func TestLoginPanicOutsideMachinePersistsFailed(t *testing.T) {
	f := newFixture(t, "https://myaccount.google.com/", 1)
	ids := f.accounts(t, 1)
	f.envs(t, "env-1")
	f.launcher.panicMsg = "launcher exploded"

	batchID, err := f.engine.StartAutoLogin(ids[0])
	if err != nil {
		t.Fatal(err)
	}
	st := f.wait(t, batchID)
	if st.Results[resultFailed] != 1 {
		t.Fatalf("unexpected results %+v", st.Results)
	}
	acc, err := f.store.GetAccount(context.Background(), ids[0])
	if err != nil {
		t.Fatal(err)
	}
	if acc.LoginStatus != model.LoginStatusFailed {
		t.Fatalf("account left at %s after panic", acc.LoginStatus)
	}
	// 状态已落库，下一次登录不会被当成正在登录而跳过
	if ok, err := f.store.TryMarkLogging(context.Background(), ids[0]); err != nil || !ok {
		t.Fatalf("account should be claimable again: %v %v", ok, err)
	}
}

func TestLoginSkipsAccountAlreadyLogging(t *testing.T) {
	f := newFixture(t, "https://myaccount.google.com/", 1)
	ids := f.accounts(t, 1)
	f.envs(t, "env-1")
	if ok, err := f.store.TryMarkLogging(context.Background(), ids[0]); err != nil || !ok {
		t.Fatalf("mark logging: %v %v", ok, err)
	}

	batchID, err := f.engine.StartBatchLogin(ids)
	if err != nil {
		t.Fatal(err)
	}
	st := f.wait(t, batchID)
	if st.Results[resultSkipped] != 1 {
		t.Fatalf("unexpected results %+v", st.Results)
	}
	if len(f.launcher.launched) != 0 {
		t.Fatalf("browser launched for skipped account: %v", f.launcher.launched)
	}
}

func TestLoginFailureStatusPersisted(t *testing.T) {
	f := newFixture(t, "https://accounts.google.com/v3/signin/rejected", 1)
	ids := f.accounts(t, 1)
	f.envs(t, "env-1")

	batchID, err := f.engine.StartBatchLogin(ids)
	if err != nil {
		t.Fatal(err)
	}
	st := f.wait(t, batchID)
	if st.Results[string(model.LoginStatusIdentityVerificationFailed)] != 1 {
		t.Fatalf("unexpected results %+v", st.Results)
	}
	acc, _ := f.store.GetAccount(context.Background(), ids[0])
	if acc.LoginStatus != model.LoginStatusIdentityVerificationFailed {
		t.Fatalf("status %s", acc.LoginStatus)
	}
}

func TestStopAllTasksFinishesCurrentAccount(t *testing.T) {
	f := newFixture(t, "https://myaccount.google.com/", 1)
	ids := f.accounts(t, 3)
	f.envs(t, "env-1", "env-2", "env-3")
	f.launcher.started = make(chan string, 3)
	f.launcher.gate = make(chan struct{})

	batchID, err := f.engine.StartBatchLogin(ids)
	if err != nil {
		t.Fatal(err)
	}
	select {
	case <-f.launcher.started:
	case <-time.After(5 * time.Second):
		t.Fatal("first account never started")
	}
	if n := f.engine.StopAllTasks(); n != 1 {
		t.Fatalf("stopped %d batches", n)
	}
	close(f.launcher.gate)

	st := f.wait(t, batchID)
	if st.Done != 1 || !st.Stopped {
		t.Fatalf("unexpected batch state %+v", st)
	}
	if st.Results[string(model.LoginStatusSuccess)] != 1 {
		t.Fatalf("in-flight account was interrupted: %+v", st.Results)
	}
	f.notifier.mu.Lock()
	defer f.notifier.mu.Unlock()
	if len(f.notifier.events) != 1 || !f.notifier.events[0].Stopped {
		t.Fatalf("notifier events %+v", f.notifier.events)
	}
}

func TestStartBatchRejectsEmptySelection(t *testing.T) {
	f := newFixture(t, "https://myaccount.google.com/", 1)
	if _, err := f.engine.StartBatchLogin([]int64{0, -1}); err == nil {
		t.Fatal("expected error for empty selection")
	}
}

func TestChannelBatchChecksPreconditions(t *testing.T) {
	f := newFixture(t, "https://myaccount.google.com/", 2)
	ctx := context.Background()
	ids := f.accounts(t, 2)
	f.envs(t, "env-1")

	// 第二个账号已登录并绑定环境，但头像池为空
	if err := f.store.SetLoginStatus(ctx, ids[1], model.LoginStatusSuccess); err != nil {
		t.Fatal(err)
	}
	if err := f.store.SetAccountBrowserEnv(ctx, ids[1], "env-1"); err != nil {
		t.Fatal(err)
	}

	batchID, err := f.engine.StartBatchChannelCreation(ids)
	if err != nil {
		t.Fatal(err)
	}
	st := f.wait(t, batchID)
	if st.Results[resultNotLogged] != 1 || st.Results[resultNoAvatar] != 1 {
		t.Fatalf("unexpected results %+v", st.Results)
	}
	acc, _ := f.store.GetAccount(ctx, ids[1])
	if acc.ChannelStatus != model.ChannelStatusFailed {
		t.Fatalf("channel status %s", acc.ChannelStatus)
	}
	if len(f.launcher.launched) != 0 {
		t.Fatalf("browser launched without avatar: %v", f.launcher.launched)
	}
}

func TestCreateEnvironmentsClaimsNodes(t *testing.T) {
	f := newFixture(t, "https://myaccount.google.com/", 1)
	ctx := context.Background()
	for _, ip := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"} {
		if _, err := f.store.UpsertNode(ctx, model.Node{IP: ip, Port: 1080, Username: "u", Password: "p"}); err != nil {
			t.Fatal(err)
		}
	}
	f.prov.failFor = "10.0.0.2"

	res, err := f.engine.CreateEnvironments(ctx, 0, "7", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Created) != 2 || res.Failed != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Created[0].ContainerName != "03140930_1" {
		t.Fatalf("environment name %q", res.Created[0].ContainerName)
	}
	for _, req := range f.prov.reqs {
		if req.Group != "youtube" || req.CoreVersion == 0 || req.ProxyPort != 1080 {
			t.Fatalf("unexpected request %+v", req)
		}
	}
	unused, err := f.store.ListNodes(ctx, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(unused) != 1 || unused[0].IP != "10.0.0.2" {
		t.Fatalf("failed node should be released, unused=%+v", unused)
	}
	if _, err := f.store.GetBrowserEnvByCode(ctx, "code-10.0.0.3"); err != nil {
		t.Fatalf("environment not stored: %v", err)
	}
}

func TestCreateEnvironmentsUnknownGroup(t *testing.T) {
	f := newFixture(t, "https://myaccount.google.com/", 1)
	if _, err := f.store.UpsertNode(context.Background(), model.Node{IP: "10.0.0.1", Port: 1080}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.engine.CreateEnvironments(context.Background(), 1, "missing", 0); err == nil {
		t.Fatal("expected error for unknown group")
	}
}

func TestResetLoginStatusReleasesEnvironment(t *testing.T) {
	f := newFixture(t, "https://myaccount.google.com/", 1)
	ids := f.accounts(t, 1)
	f.envs(t, "env-1")

	batchID, err := f.engine.StartAutoLogin(ids[0])
	if err != nil {
		t.Fatal(err)
	}
	f.wait(t, batchID)

	acc, err := f.engine.ResetLoginStatus(context.Background(), ids[0])
	if err != nil {
		t.Fatal(err)
	}
	if acc.LoginStatus != model.LoginStatusNotLogged || acc.BrowserEnvID != "" {
		t.Fatalf("unexpected account %+v", acc)
	}
	if n, _ := f.store.CountAvailableBrowserEnvs(context.Background()); n != 1 {
		t.Fatalf("environment not released, free=%d", n)
	}
}

func TestSyncSchedule(t *testing.T) {
	f := newFixture(t, "https://myaccount.google.com/", 1)
	stop, err := f.engine.StartSyncSchedule("")
	if err != nil {
		t.Fatal(err)
	}
	stop()

	if _, err := f.engine.StartSyncSchedule("not a cron"); err == nil {
		t.Fatal("expected error for invalid cron spec")
	}
	stop, err = f.engine.StartSyncSchedule("@every 1h")
	if err != nil {
		t.Fatal(err)
	}
	stop()
}
