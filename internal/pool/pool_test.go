package pool

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"google_account/internal/hubstudio"
	"google_account/internal/model"
	"google_account/internal/store/sqlite"
	"google_account/internal/utils"
)

type fakeRemote struct {
	envs  []hubstudio.Environment
	calls int
}

func (f *fakeRemote) List(_ context.Context, page, pageSize int, _ hubstudio.ListFilter) ([]hubstudio.Environment, int, error) {
	f.calls++
	start := (page - 1) * pageSize
	if start >= len(f.envs) {
		return nil, len(f.envs), nil
	}
	end := start + pageSize
	if end > len(f.envs) {
		end = len(f.envs)
	}
	return f.envs[start:end], len(f.envs), nil
}

func openStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "pool.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAcquirePhonePrefersBoundPhone(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	now := time.Now()
	p := New(s, nil, utils.NewManualClock(now), nil, 0)

	acc, _ := s.UpsertAccount(ctx, model.Account{Email: "a@gmail.com", Password: "pw"})
	first, _ := s.UpsertPhone(ctx, model.Phone{Number: "1001", SMSURL: "http://sms/1"})
	second, _ := s.UpsertPhone(ctx, model.Phone{Number: "1002", SMSURL: "http://sms/2"})

	got, ok, err := p.AcquirePhone(ctx, acc.ID)
	if err != nil || !ok || got.ID != first.ID {
		t.Fatalf("expected oldest phone, got %+v ok=%v err=%v", got, ok, err)
	}
	if err := p.BindPhone(ctx, acc.ID, second.ID); err != nil {
		t.Fatal(err)
	}
	got, ok, err = p.AcquirePhone(ctx, acc.ID)
	if err != nil || !ok || got.ID != second.ID {
		t.Fatalf("expected bound phone, got %+v ok=%v err=%v", got, ok, err)
	}
}

func TestAcquirePhoneSkipsExpiredBoundPhone(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	now := time.Now()
	p := New(s, nil, utils.NewManualClock(now), nil, 0)

	acc, _ := s.UpsertAccount(ctx, model.Account{Email: "a@gmail.com", Password: "pw"})
	bound, _ := s.UpsertPhone(ctx, model.Phone{Number: "1001", SMSURL: "http://sms/1", ExpireAt: now.Add(-time.Hour)})
	if err := s.BindPhone(ctx, acc.ID, bound.ID); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := p.AcquirePhone(ctx, acc.ID); ok {
		t.Fatalf("expired bound phone and no free phone should yield none")
	}

	free, _ := s.UpsertPhone(ctx, model.Phone{Number: "1002", SMSURL: "http://sms/2"})
	got, ok, err := p.AcquirePhone(ctx, acc.ID)
	if err != nil || !ok || got.ID != free.ID {
		t.Fatalf("expected free phone, got %+v ok=%v err=%v", got, ok, err)
	}
}

func TestReleasePhoneMakesItAvailableAgain(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	p := New(s, nil, utils.NewManualClock(time.Now()), nil, 0)

	one, _ := s.UpsertPhone(ctx, model.Phone{Number: "1001", SMSURL: "http://sms/1"})
	if _, ok, _ := p.AcquirePhone(ctx, 0); !ok {
		t.Fatal("expected a phone")
	}
	if _, ok, _ := p.AcquirePhone(ctx, 0); ok {
		t.Fatal("leased phone must not be handed out twice")
	}
	if err := p.ReleasePhone(ctx, one.ID); err != nil {
		t.Fatal(err)
	}
	if got, ok, _ := p.AcquirePhone(ctx, 0); !ok || got.ID != one.ID {
		t.Fatalf("expected released phone back, got %+v", got)
	}
}

func TestAcquireBrowserEnvironmentSyncsWhenEmpty(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	remote := &fakeRemote{envs: []hubstudio.Environment{
		{ContainerCode: "c1", ContainerName: "one"},
		{ContainerCode: "c2", ContainerName: "two"},
		{ContainerCode: "c3", ContainerName: "three"},
	}}
	p := New(s, remote, nil, nil, 2)

	acc, _ := s.UpsertAccount(ctx, model.Account{Email: "a@gmail.com", Password: "pw"})
	env, ok, err := p.AcquireBrowserEnvironment(ctx, acc.ID)
	if err != nil || !ok || env.ContainerCode != "c1" || env.AccountID != acc.ID {
		t.Fatalf("unexpected env %+v ok=%v err=%v", env, ok, err)
	}
	if remote.calls != 2 {
		t.Fatalf("expected 2 pages fetched, got %d", remote.calls)
	}

	// 本地还有空闲环境时不再访问远程
	remote.calls = 0
	other, _ := s.UpsertAccount(ctx, model.Account{Email: "b@gmail.com", Password: "pw"})
	env2, ok, err := p.AcquireBrowserEnvironment(ctx, other.ID)
	if err != nil || !ok || env2.ContainerCode != "c2" {
		t.Fatalf("unexpected env %+v ok=%v err=%v", env2, ok, err)
	}
	if remote.calls != 0 {
		t.Fatalf("remote should not be consulted, calls=%d", remote.calls)
	}

	if err := p.ReleaseBrowserEnvironment(ctx, "c1"); err != nil {
		t.Fatal(err)
	}
	env3, ok, _ := p.AcquireBrowserEnvironment(ctx, other.ID+100)
	if !ok || env3.ContainerCode != "c1" {
		t.Fatalf("released env should be reused first, got %+v", env3)
	}
}

func TestAcquireBrowserEnvironmentReusesAccountEnv(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	p := New(s, nil, nil, nil, 0)

	if _, err := s.InsertMissingBrowserEnvs(ctx, []model.BrowserEnv{{ContainerCode: "c1"}, {ContainerCode: "c2"}}); err != nil {
		t.Fatal(err)
	}
	acc, _ := s.UpsertAccount(ctx, model.Account{Email: "a@gmail.com", Password: "pw"})
	if err := s.SetAccountBrowserEnv(ctx, acc.ID, "c2"); err != nil {
		t.Fatal(err)
	}
	env, ok, err := p.AcquireBrowserEnvironment(ctx, acc.ID)
	if err != nil || !ok || env.ContainerCode != "c2" {
		t.Fatalf("expected account env c2, got %+v ok=%v err=%v", env, ok, err)
	}
}

func TestAcquireBrowserEnvironmentNone(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	p := New(s, &fakeRemote{}, nil, nil, 0)
	if _, ok, err := p.AcquireBrowserEnvironment(ctx, 0); ok || err != nil {
		t.Fatalf("expected none, ok=%v err=%v", ok, err)
	}
}
