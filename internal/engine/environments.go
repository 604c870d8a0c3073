package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"google_account/internal/hubstudio"
	"google_account/internal/logbus"
	"google_account/internal/model"
	"google_account/internal/utils"
)

var coreVersions = []int{112, 113, 117, 122, 124, 126, 128, 130, 131}

// CreateResult 一次批量创建环境的结果。
type CreateResult struct {
	Created []model.BrowserEnv `json:"created"`
	Failed  int                `json:"failed"`
	Errors  []string           `json:"errors,omitempty"`
}

// CreateEnvironments 每个空闲节点创建一个浏览器环境，最多 count 个。
func (e *Engine) CreateEnvironments(ctx context.Context, count int, group string, coreVersion int) (CreateResult, error) {
	if e.provisioner == nil {
		return CreateResult{}, errors.New("browser gateway is not configured")
	}
	nodes, err := e.store.ListNodes(ctx, true)
	if err != nil {
		return CreateResult{}, err
	}
	if len(nodes) == 0 {
		return CreateResult{}, errors.New("no unused nodes")
	}
	if count <= 0 || count > len(nodes) {
		count = len(nodes)
	}
	tag, err := e.resolveGroup(ctx, group)
	if err != nil {
		return CreateResult{}, err
	}

	var res CreateResult
	prefix := e.clock.Now().Format("01021504")
	for i, node := range nodes[:count] {
		if i > 0 && !e.clock.Sleep(ctx, utils.Between(time.Second, 2*time.Second)) {
			break
		}
		env, err := e.createOne(ctx, node, fmt.Sprintf("%s_%d", prefix, i+1), tag, coreVersion)
		if err != nil {
			res.Failed++
			res.Errors = append(res.Errors, fmt.Sprintf("%s:%d %v", node.IP, node.Port, err))
			e.bus.Log("warn", "创建浏览器环境失败", map[string]any{"nodeId": node.ID, "error": err.Error()})
		} else {
			res.Created = append(res.Created, env)
		}
		e.bus.Publish("env_create", map[string]any{
			"done":    i + 1,
			"total":   count,
			"created": len(res.Created),
			"failed":  res.Failed,
		})
	}
	e.bus.Log("info", "批量创建浏览器环境完成", map[string]any{"created": len(res.Created), "failed": res.Failed})
	return res, nil
}

func (e *Engine) createOne(ctx context.Context, node model.Node, name, group string, coreVersion int) (model.BrowserEnv, error) {
	ok, err := e.store.ClaimNode(ctx, node.ID)
	if err != nil {
		return model.BrowserEnv{}, err
	}
	if !ok {
		return model.BrowserEnv{}, errors.New("node already used")
	}
	if coreVersion <= 0 {
		coreVersion = coreVersions[utils.Intn(len(coreVersions))]
	}
	code, err := e.provisioner.CreateEnvironment(ctx, hubstudio.CreateRequest{
		Name:          name,
		Group:         group,
		ProxyServer:   node.IP,
		ProxyPort:     node.Port,
		ProxyAccount:  node.Username,
		ProxyPassword: node.Password,
		CoreVersion:   coreVersion,
	})
	if err != nil {
		_ = e.store.ReleaseNode(context.WithoutCancel(ctx), node.ID)
		return model.BrowserEnv{}, err
	}
	inserted, err := e.store.InsertMissingBrowserEnvs(ctx, []model.BrowserEnv{{ContainerCode: code, ContainerName: name}})
	if err != nil {
		return model.BrowserEnv{}, err
	}
	if len(inserted) == 1 {
		return inserted[0], nil
	}
	return e.store.GetBrowserEnvByCode(ctx, code)
}

// resolveGroup 接受分组名或分组编码，返回分组名；为空时不指定分组。
func (e *Engine) resolveGroup(ctx context.Context, group string) (string, error) {
	group = strings.TrimSpace(group)
	if group == "" {
		return "", nil
	}
	groups, err := e.provisioner.Groups(ctx)
	if err != nil {
		return "", err
	}
	for _, g := range groups {
		if string(g.TagCode) == group || g.TagName == group {
			return g.TagName, nil
		}
	}
	return "", fmt.Errorf("group %q not found", group)
}

// SyncBrowserEnvironments 同步执行，返回新插入数量与远程总数。
func (e *Engine) SyncBrowserEnvironments(ctx context.Context) (int, int, error) {
	if e.pool == nil {
		return 0, 0, errors.New("browser environment pool is not configured")
	}
	inserted, total, err := e.pool.SyncBrowserEnvironments(ctx)
	return len(inserted), total, err
}

// ResetLoginStatus 释放浏览器环境并回到未登录。
func (e *Engine) ResetLoginStatus(ctx context.Context, accountID int64) (model.Account, error) {
	before, err := e.store.GetAccount(ctx, accountID)
	if err != nil {
		return model.Account{}, err
	}
	acc, err := e.store.ResetLoginStatus(ctx, accountID)
	if err != nil {
		return model.Account{}, err
	}
	e.journal(before).Record(ctx, "reset", "info", "登录状态已重置")
	e.bus.Batch(logbus.BatchData{Kind: string(model.BatchKindLogin), Phase: "reset", AccountID: accountID, Status: string(acc.LoginStatus)})
	return acc, nil
}
