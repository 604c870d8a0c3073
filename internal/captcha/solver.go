// Package captcha 把页面上的 reCAPTCHA 交给 2captcha 求解，再把令牌回填到页面回调。
package captcha

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"google_account/internal/browser"
	"google_account/internal/config"
	"google_account/internal/logbus"
	"google_account/internal/model"
	"google_account/internal/utils"
)

type Result string

const (
	Solved           Result = "solved"
	NotEnabled       Result = "not_enabled"
	NoAPIKey         Result = "no_api_key"
	CallbackNotFound Result = "callback_not_found"
	TokenFailed      Result = "token_failed"
	CallbackFailed   Result = "callback_failed"
)

type SettingsSource interface {
	GetCaptchaSettings(ctx context.Context) (model.CaptchaSettings, bool, error)
}

// Registry 从 ___grecaptcha_cfg 中找到的客户端信息。
type Registry struct {
	ClientID     string `json:"clientId"`
	Sitekey      string `json:"sitekey"`
	PageURL      string `json:"pageUrl"`
	CallbackPath string `json:"callbackPath"`
}

type Status struct {
	SolveCount    int64  `json:"solveCount"`
	FailCount     int64  `json:"failCount"`
	TotalSolveMs  int64  `json:"totalSolveMs"`
	LastSolveAtMs int64  `json:"lastSolveAtMs"`
	LastSolveMs   int64  `json:"lastSolveMs"`
	LastResult    Result `json:"lastResult,omitempty"`
	Running       int64  `json:"running"`
}

type Solver struct {
	cfg      config.CaptchaConfig
	settings SettingsSource
	api      *twoCaptcha
	clock    utils.Clock
	bus      *logbus.Bus

	// sem 限制同时向 2captcha 提交的任务数
	sem chan struct{}

	solveCount   atomic.Int64
	failCount    atomic.Int64
	totalSolveMs atomic.Int64
	lastSolveAt  atomic.Int64
	lastSolveMs  atomic.Int64
	running      atomic.Int64
	lastMu       sync.Mutex
	lastResult   Result
}

func NewSolver(cfg config.CaptchaConfig, settings SettingsSource, clock utils.Clock, bus *logbus.Bus) *Solver {
	if clock == nil {
		clock = utils.RealClock{}
	}
	base := cfg.BaseURL
	if base == "" {
		base = "https://2captcha.com"
	}
	return &Solver{
		cfg:      cfg,
		settings: settings,
		api:      newTwoCaptcha(base),
		clock:    clock,
		bus:      bus,
		sem:      make(chan struct{}, 3),
	}
}

func (s *Solver) Status() Status {
	s.lastMu.Lock()
	last := s.lastResult
	s.lastMu.Unlock()
	return Status{
		SolveCount:    s.solveCount.Load(),
		FailCount:     s.failCount.Load(),
		TotalSolveMs:  s.totalSolveMs.Load(),
		LastSolveAtMs: s.lastSolveAt.Load(),
		LastSolveMs:   s.lastSolveMs.Load(),
		LastResult:    last,
		Running:       s.running.Load(),
	}
}

// effective 数据库设置优先于配置文件。
func (s *Solver) effective(ctx context.Context) (enabled bool, apiKey string) {
	enabled, apiKey = s.cfg.Enabled, s.cfg.APIKey
	if s.settings == nil {
		return
	}
	st, ok, err := s.settings.GetCaptchaSettings(ctx)
	if err != nil || !ok {
		return
	}
	enabled = st.Enabled
	if strings.TrimSpace(st.APIKey) != "" {
		apiKey = st.APIKey
	}
	return
}

func (s *Solver) Solve(ctx context.Context, page browser.Page) Result {
	start := s.clock.Now()
	res := s.solve(ctx, page)
	s.record(res, s.clock.Now().Sub(start))
	return res
}

func (s *Solver) record(res Result, took time.Duration) {
	s.lastMu.Lock()
	s.lastResult = res
	s.lastMu.Unlock()
	if res != Solved {
		s.failCount.Add(1)
		return
	}
	s.solveCount.Add(1)
	s.totalSolveMs.Add(took.Milliseconds())
	s.lastSolveMs.Store(took.Milliseconds())
	s.lastSolveAt.Store(s.clock.Now().UnixMilli())
}

func (s *Solver) solve(ctx context.Context, page browser.Page) Result {
	enabled, apiKey := s.effective(ctx)
	if !enabled {
		return NotEnabled
	}
	if strings.TrimSpace(apiKey) == "" {
		return NoAPIKey
	}

	reg, ok := s.findRegistry(ctx, page)
	if !ok {
		s.bus.Log("warn", "未找到 reCAPTCHA 回调", map[string]any{"url": page.URL()})
		return CallbackNotFound
	}

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return TokenFailed
	}
	s.running.Add(1)
	token, err := s.fetchToken(ctx, apiKey, reg)
	s.running.Add(-1)
	<-s.sem
	if err != nil {
		s.bus.Log("warn", "验证码令牌获取失败", map[string]any{"error": err.Error()})
		return TokenFailed
	}

	if !s.inject(ctx, page, reg, token) {
		return CallbackFailed
	}
	s.bus.Log("info", "验证码已通过", map[string]any{"clientId": reg.ClientID})
	return Solved
}

func (s *Solver) findRegistry(ctx context.Context, page browser.Page) (Registry, bool) {
	attempts := s.cfg.SearchAttempts
	if attempts <= 0 {
		attempts = 5
	}
	for i := 0; i < attempts; i++ {
		var reg *Registry
		if err := page.Eval(ctx, findRegistryJS, &reg); err == nil && reg != nil &&
			reg.Sitekey != "" && reg.CallbackPath != "" {
			if reg.PageURL == "" {
				reg.PageURL = page.URL()
			}
			return *reg, true
		}
		if i < attempts-1 && !s.clock.Sleep(ctx, s.cfg.SearchInterval()) {
			break
		}
	}
	return Registry{}, false
}

func (s *Solver) fetchToken(ctx context.Context, apiKey string, reg Registry) (string, error) {
	id, err := s.api.submit(ctx, apiKey, reg.Sitekey, reg.PageURL)
	if err != nil {
		return "", err
	}
	polls := s.cfg.PollAttempts
	if polls <= 0 {
		polls = 30
	}
	for i := 0; i < polls; i++ {
		if !s.clock.Sleep(ctx, s.cfg.PollInterval()) {
			return "", ctx.Err()
		}
		token, err := s.api.poll(ctx, apiKey, id)
		if err != nil {
			return "", err
		}
		if token != "" {
			return token, nil
		}
	}
	return "", errTimeout
}

type injectResult struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

func (s *Solver) inject(ctx context.Context, page browser.Page, reg Registry, token string) bool {
	attempts := s.cfg.InjectAttempts
	if attempts <= 0 {
		attempts = 3
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		var out injectResult
		err := page.Eval(ctx, injectTokenJS, &out, reg.CallbackPath, token)
		if err == nil && out.OK {
			return true
		}
		if err == nil {
			err = errors.New(out.Error)
		}
		lastErr = err
		if i < attempts-1 && !s.clock.Sleep(ctx, s.cfg.InjectBackoff()) {
			break
		}
	}
	s.bus.Log("warn", "验证码回调执行失败", map[string]any{"error": errString(lastErr)})
	return false
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

const findRegistryJS = `() => {
  const cfg = window.___grecaptcha_cfg;
  if (!cfg || !cfg.clients) return null;
  for (const cid of Object.keys(cfg.clients)) {
    const seen = new Set();
    const walk = (obj, path, depth) => {
      if (!obj || typeof obj !== 'object' || depth > 6 || seen.has(obj)) return null;
      seen.add(obj);
      if (typeof obj.sitekey === 'string') {
        let cb = '';
        if (typeof obj.callback === 'function') cb = path.concat('callback').join('.');
        else if (typeof obj.callback === 'string') cb = obj.callback;
        return { sitekey: obj.sitekey, callbackPath: cb };
      }
      for (const k of Object.keys(obj)) {
        const r = walk(obj[k], path.concat(k), depth + 1);
        if (r) return r;
      }
      return null;
    };
    const r = walk(cfg.clients[cid], ['___grecaptcha_cfg', 'clients', cid], 0);
    if (r) return { clientId: String(cid), sitekey: r.sitekey, pageUrl: location.href, callbackPath: r.callbackPath };
  }
  return null;
}`

const injectTokenJS = `(path, token) => {
  document.querySelectorAll('textarea[name="g-recaptcha-response"], #g-recaptcha-response').forEach(t => {
    t.value = token;
    t.innerHTML = token;
  });
  let fn = window;
  for (const part of String(path).split('.')) {
    if (fn == null) break;
    fn = fn[part];
  }
  if (typeof fn !== 'function') return { ok: false, error: 'callback is not a function' };
  try {
    fn(token);
    return { ok: true };
  } catch (e) {
    return { ok: false, error: String(e) };
  }
}`
