package hubstudio

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"google_account/internal/config"
	"google_account/internal/logbus"
	"google_account/internal/model"
)

type SettingsSource interface {
	GetHubStudioSettings(ctx context.Context) (model.HubStudioSettings, bool, error)
}

type timeouts struct {
	status time.Duration
	groups time.Duration
	list   time.Duration
	start  time.Duration
	stop   time.Duration
	create time.Duration
}

var defaultTimeouts = timeouts{
	status: 5 * time.Second,
	groups: 10 * time.Second,
	list:   10 * time.Second,
	start:  30 * time.Second,
	stop:   10 * time.Second,
	create: 30 * time.Second,
}

type Client struct {
	cfg      config.HubStudioConfig
	settings SettingsSource
	bus      *logbus.Bus
	limiter  *rate.Limiter
	timeouts timeouts
}

func New(cfg config.HubStudioConfig, settings SettingsSource, bus *logbus.Bus) *Client {
	qps := cfg.QPS
	if qps <= 0 {
		qps = 5
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 5
	}
	return &Client{
		cfg:      cfg,
		settings: settings,
		bus:      bus,
		limiter:  rate.NewLimiter(rate.Limit(qps), burst),
		timeouts: defaultTimeouts,
	}
}

// Code HubStudio 的 containerCode 有时是数字有时是字符串。
type Code string

func (c *Code) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*c = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*c = Code(s)
		return nil
	}
	*c = Code(string(b))
	return nil
}

type envelope[T any] struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data T      `json:"data"`
}

type Group struct {
	TagCode Code   `json:"tagCode"`
	TagName string `json:"tagName"`
}

type Environment struct {
	ContainerCode Code   `json:"containerCode"`
	ContainerName string `json:"containerName"`
	TagName       string `json:"tagName,omitempty"`
	ProxyTypeName string `json:"proxyTypeName,omitempty"`
	LastUsedIP    string `json:"lastUsedIp,omitempty"`
}

type ListFilter struct {
	ContainerName string
	TagCode       string
}

type listReq struct {
	Page          int    `json:"page"`
	Limit         int    `json:"limit"`
	ContainerName string `json:"containerName,omitempty"`
	TagCode       string `json:"tagCode,omitempty"`
}

type listData struct {
	List  []Environment `json:"list"`
	Total int           `json:"total"`
}

type startReq struct {
	ContainerCode           string `json:"containerCode"`
	IsHeadless              bool   `json:"isHeadless"`
	IsWebDriverReadOnlyMode bool   `json:"isWebDriverReadOnlyMode"`
}

type StartResult struct {
	DebuggingPort int
	WebDriver     string
}

type startData struct {
	DebuggingPort Code   `json:"debuggingPort"`
	WebDriver     string `json:"webdriver"`
}

type stopReq struct {
	ContainerCode string `json:"containerCode"`
}

type CreateRequest struct {
	Name          string
	Group         string
	ProxyServer   string
	ProxyPort     int
	ProxyAccount  string
	ProxyPassword string
	CoreVersion   int
}

type createReq struct {
	ContainerName string `json:"containerName"`
	TagName       string `json:"tagName"`
	AsDynamicType int    `json:"asDynamicType"`
	ProxyTypeName string `json:"proxyTypeName"`
	ProxyServer   string `json:"proxyServer"`
	ProxyPort     int    `json:"proxyPort"`
	ProxyAccount  string `json:"proxyAccount"`
	ProxyPassword string `json:"proxyPassword"`
	CoreVersion   int    `json:"coreVersion"`
}

type createData struct {
	ContainerCode Code `json:"containerCode"`
}

// CheckStatus 只关心能否连通且 code == 0。
func (c *Client) CheckStatus(ctx context.Context) bool {
	var env envelope[json.RawMessage]
	return c.post(ctx, "group/list", "/api/v1/group/list", c.timeouts.status, nil, &env) == nil
}

func (c *Client) Groups(ctx context.Context) ([]Group, error) {
	var env envelope[[]Group]
	if err := c.post(ctx, "group/list", "/api/v1/group/list", c.timeouts.groups, nil, &env); err != nil {
		return nil, err
	}
	return env.Data, nil
}

func (c *Client) List(ctx context.Context, page, pageSize int, filter ListFilter) ([]Environment, int, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	body := listReq{Page: page, Limit: pageSize, ContainerName: filter.ContainerName, TagCode: filter.TagCode}
	var env envelope[listData]
	if err := c.post(ctx, "env/list", "/api/v1/env/list", c.timeouts.list, body, &env); err != nil {
		return nil, 0, err
	}
	return env.Data.List, env.Data.Total, nil
}

func (c *Client) StartBrowser(ctx context.Context, containerCode string) (StartResult, error) {
	body := startReq{ContainerCode: containerCode, IsHeadless: c.cfg.Headless}
	var env envelope[startData]
	if err := c.post(ctx, "browser/start", "/api/v1/browser/start", c.timeouts.start, body, &env); err != nil {
		return StartResult{}, err
	}
	port, err := strconv.Atoi(strings.TrimSpace(string(env.Data.DebuggingPort)))
	if err != nil || port <= 0 {
		return StartResult{}, protocolError("browser/start", 0, "响应缺少 debuggingPort")
	}
	if strings.TrimSpace(env.Data.WebDriver) == "" {
		return StartResult{}, protocolError("browser/start", 0, "响应缺少 webdriver")
	}
	return StartResult{DebuggingPort: port, WebDriver: env.Data.WebDriver}, nil
}

func (c *Client) StopBrowser(ctx context.Context, containerCode string) error {
	var env envelope[json.RawMessage]
	return c.post(ctx, "browser/stop", "/api/v1/browser/stop", c.timeouts.stop, stopReq{ContainerCode: containerCode}, &env)
}

func (c *Client) CreateEnvironment(ctx context.Context, req CreateRequest) (string, error) {
	body := createReq{
		ContainerName: req.Name,
		TagName:       req.Group,
		AsDynamicType: 1,
		ProxyTypeName: "Socks5",
		ProxyServer:   req.ProxyServer,
		ProxyPort:     req.ProxyPort,
		ProxyAccount:  req.ProxyAccount,
		ProxyPassword: req.ProxyPassword,
		CoreVersion:   req.CoreVersion,
	}
	var env envelope[createData]
	if err := c.post(ctx, "env/create", "/api/v1/env/create", c.timeouts.create, body, &env); err != nil {
		return "", err
	}
	code := strings.TrimSpace(string(env.Data.ContainerCode))
	if code == "" {
		return "", protocolError("env/create", 0, "响应缺少 containerCode")
	}
	return code, nil
}

func (c *Client) post(ctx context.Context, op, path string, timeout time.Duration, body any, env any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return transportError(op, err)
	}
	client := c.newClient(ctx, timeout)

	req := client.R().SetContext(ctx).SetResult(env)
	if body != nil {
		req.SetBody(body)
	} else {
		req.SetBody(map[string]any{})
	}
	resp, err := req.Post(path)
	if err != nil {
		return transportError(op, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return protocolError(op, resp.StatusCode(), "HTTP "+strconv.Itoa(resp.StatusCode()))
	}
	code, msg := envelopeStatus(env)
	if code != 0 {
		if msg == "" {
			msg = "未知错误"
		}
		return protocolError(op, code, msg)
	}
	return nil
}

func envelopeStatus(env any) (int, string) {
	switch v := env.(type) {
	case *envelope[json.RawMessage]:
		return v.Code, v.Msg
	case *envelope[[]Group]:
		return v.Code, v.Msg
	case *envelope[listData]:
		return v.Code, v.Msg
	case *envelope[startData]:
		return v.Code, v.Msg
	case *envelope[createData]:
		return v.Code, v.Msg
	default:
		return 0, ""
	}
}

func (c *Client) credentials(ctx context.Context) (baseURL, appID, appSecret string) {
	baseURL, appID, appSecret = c.cfg.BaseURL, c.cfg.AppID, c.cfg.AppSecret
	if c.settings == nil {
		return
	}
	s, ok, err := c.settings.GetHubStudioSettings(ctx)
	if err != nil || !ok {
		return
	}
	if strings.TrimSpace(s.BaseURL) != "" {
		baseURL = s.BaseURL
	}
	if strings.TrimSpace(s.AppID) != "" {
		appID = s.AppID
	}
	if strings.TrimSpace(s.AppSecret) != "" {
		appSecret = s.AppSecret
	}
	return
}

func (c *Client) newClient(ctx context.Context, timeout time.Duration) *resty.Client {
	baseURL, appID, appSecret := c.credentials(ctx)

	// 网关失败对当前操作是致命的，不在同一次调用里重试
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("Content-Type", "application/json").
		SetHeader("app-id", appID).
		SetHeader("app-secret", appSecret)

	client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		if c.bus != nil {
			c.bus.Log("debug", "hubstudio request", map[string]any{
				"method": req.Method,
				"url":    req.URL,
			})
		}
		return nil
	})
	return client
}
