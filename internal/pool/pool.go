// Package pool 手机号与浏览器环境的分配。抢占全部走存储层的条件更新。
package pool

import (
	"context"
	"errors"
	"strings"
	"time"

	"google_account/internal/hubstudio"
	"google_account/internal/logbus"
	"google_account/internal/model"
	"google_account/internal/store/sqlite"
	"google_account/internal/utils"
)

// phoneLease 一次手机验证最长占用时间：短信 12×10s 加页面操作。
const phoneLease = 10 * time.Minute

// EnvLister 远程环境列表，由 HubStudio 网关实现。
type EnvLister interface {
	List(ctx context.Context, page, pageSize int, filter hubstudio.ListFilter) ([]hubstudio.Environment, int, error)
}

type Pool struct {
	store    *sqlite.Store
	remote   EnvLister
	clock    utils.Clock
	bus      *logbus.Bus
	pageSize int
}

func New(store *sqlite.Store, remote EnvLister, clock utils.Clock, bus *logbus.Bus, pageSize int) *Pool {
	if clock == nil {
		clock = utils.RealClock{}
	}
	if pageSize <= 0 {
		pageSize = 500
	}
	return &Pool{store: store, remote: remote, clock: clock, bus: bus, pageSize: pageSize}
}

// BoundPhone 账号已绑定、未过期、有接码地址的号码。
func (p *Pool) BoundPhone(ctx context.Context, accountID int64) (model.Phone, bool, error) {
	acc, err := p.store.GetAccount(ctx, accountID)
	if err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			return model.Phone{}, false, nil
		}
		return model.Phone{}, false, err
	}
	if acc.PhoneID == 0 {
		return model.Phone{}, false, nil
	}
	phone, err := p.store.GetPhone(ctx, acc.PhoneID)
	if err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			return model.Phone{}, false, nil
		}
		return model.Phone{}, false, err
	}
	if phone.Expired(p.clock.Now()) || strings.TrimSpace(phone.SMSURL) == "" {
		return model.Phone{}, false, nil
	}
	return phone, true, nil
}

// AcquirePhone 先用账号已绑定的号码，否则按插入顺序租用一个可用号码。
func (p *Pool) AcquirePhone(ctx context.Context, accountID int64) (model.Phone, bool, error) {
	if accountID != 0 {
		phone, ok, err := p.BoundPhone(ctx, accountID)
		if err != nil {
			return model.Phone{}, false, err
		}
		if ok {
			return phone, true, nil
		}
	}
	return p.store.ClaimPhone(ctx, accountID, p.clock.Now(), phoneLease)
}

func (p *Pool) BindPhone(ctx context.Context, accountID, phoneID int64) error {
	return p.store.BindPhone(ctx, accountID, phoneID)
}

func (p *Pool) ReleasePhone(ctx context.Context, phoneID int64) error {
	return p.store.ReleasePhoneLease(ctx, phoneID)
}

// AcquireBrowserEnvironment 账号已绑定环境时继续使用；否则抢占本地空闲环境，
// 本地没有时从远程同步后再抢占。
func (p *Pool) AcquireBrowserEnvironment(ctx context.Context, accountID int64) (model.BrowserEnv, bool, error) {
	if accountID != 0 {
		acc, err := p.store.GetAccount(ctx, accountID)
		if err != nil && !errors.Is(err, sqlite.ErrNotFound) {
			return model.BrowserEnv{}, false, err
		}
		if err == nil && acc.BrowserEnvID != "" {
			env, ok, err := p.store.ClaimBrowserEnvByCode(ctx, acc.BrowserEnvID, accountID)
			if err == nil && ok {
				return env, true, nil
			}
			if err != nil && !errors.Is(err, sqlite.ErrNotFound) {
				return model.BrowserEnv{}, false, err
			}
		}
	}

	env, ok, err := p.store.ClaimBrowserEnv(ctx, accountID)
	if err != nil || ok {
		return env, ok, err
	}
	if p.remote == nil {
		return model.BrowserEnv{}, false, nil
	}

	inserted, _, err := p.SyncBrowserEnvironments(ctx)
	if err != nil {
		return model.BrowserEnv{}, false, err
	}
	for _, e := range inserted {
		got, ok, err := p.store.ClaimBrowserEnvByCode(ctx, e.ContainerCode, accountID)
		if err != nil {
			return model.BrowserEnv{}, false, err
		}
		if ok {
			return got, true, nil
		}
	}
	return p.store.ClaimBrowserEnv(ctx, accountID)
}

func (p *Pool) ReleaseBrowserEnvironment(ctx context.Context, containerCode string) error {
	return p.store.ReleaseBrowserEnv(ctx, containerCode)
}

// SyncBrowserEnvironments 拉取远程全部环境，插入本地缺少的，返回新插入的记录与远程总数。
func (p *Pool) SyncBrowserEnvironments(ctx context.Context) ([]model.BrowserEnv, int, error) {
	if p.remote == nil {
		return nil, 0, errors.New("remote environment list is not configured")
	}
	var all []model.BrowserEnv
	total := 0
	for page := 1; ; page++ {
		items, n, err := p.remote.List(ctx, page, p.pageSize, hubstudio.ListFilter{})
		if err != nil {
			return nil, 0, err
		}
		total = n
		for _, it := range items {
			all = append(all, model.BrowserEnv{
				ContainerCode: string(it.ContainerCode),
				ContainerName: it.ContainerName,
			})
		}
		if len(items) == 0 || len(all) >= total {
			break
		}
	}

	inserted, err := p.store.InsertMissingBrowserEnvs(ctx, all)
	if err != nil {
		return inserted, total, err
	}
	p.bus.Log("info", "浏览器环境同步完成", map[string]any{
		"remote":   total,
		"inserted": len(inserted),
	})
	return inserted, total, nil
}
