// Package browsertest 提供脚本化的假页面：每个 Screen 描述一个 URL 上可见的元素，
// 点击/回车/上传按脚本切换到下一个 Screen。
package browsertest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"google_account/internal/browser"
)

type Screen struct {
	URL     string
	Present []browser.Locator
	Texts   map[string][]string
	// Clicks 定位 -> 点击后的 Screen 名。
	Clicks map[string]string
	// Enter 回车后的 Screen 名；为空则不变。
	Enter string
	// Upload 上传文件后的 Screen 名。
	Upload string
	// Eval 按脚本片段返回结果。
	Eval func(js string, args []any) (any, error)
	// Frames 定位 -> 同源 iframe 的假页面。
	Frames map[string]*Page
	// CrossFrames URL 片段 -> 跨域 iframe 的假页面。
	CrossFrames map[string]*Page
	// Dialog 允许 ChooseFile 拦截文件框。
	Dialog bool
}

type Typed struct {
	Locator string
	Text    string
}

type Page struct {
	mu      sync.Mutex
	screens map[string]*Screen
	current string

	// Routes 导航 URL 前缀 -> Screen 名。
	Routes map[string]string
	// Fail 导航 URL 前缀 -> 返回的错误，页面不变。
	Fail map[string]error

	Navigated []string
	Clicked   []string
	Typed     []Typed
	Uploaded  [][]string
	Visited   []string
}

func New(start string, screens map[string]*Screen) *Page {
	p := &Page{screens: screens, current: start, Routes: map[string]string{}, Fail: map[string]error{}}
	p.Visited = append(p.Visited, start)
	return p
}

func (p *Page) Key(l browser.Locator) string { return l.String() }

func (p *Page) screen() *Screen {
	if s, ok := p.screens[p.current]; ok {
		return s
	}
	return &Screen{URL: p.current}
}

func (p *Page) goTo(name string) {
	if name == "" {
		return
	}
	p.current = name
	p.Visited = append(p.Visited, name)
}

// Current 当前 Screen 名。
func (p *Page) Current() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.screen().URL
}

func (p *Page) Navigate(_ context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Navigated = append(p.Navigated, url)
	for prefix, err := range p.Fail {
		if strings.HasPrefix(url, prefix) {
			return err
		}
	}
	best := ""
	for prefix, name := range p.Routes {
		if strings.HasPrefix(url, prefix) && len(prefix) > len(best) {
			best = prefix
			p.current = name
		}
	}
	if best == "" {
		if _, ok := p.screens[url]; !ok {
			p.screens[url] = &Screen{URL: url}
		}
		p.current = url
	}
	p.Visited = append(p.Visited, p.current)
	return nil
}

func (p *Page) has(key string) bool {
	for _, l := range p.screen().Present {
		if l.String() == key {
			return true
		}
	}
	return false
}

func (p *Page) Exists(_ context.Context, loc browser.Locator) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.has(loc.String())
}

func (p *Page) Click(_ context.Context, loc browser.Locator) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := loc.String()
	if !p.has(key) {
		return fmt.Errorf("%w: %s", browser.ErrElementNotFound, key)
	}
	p.Clicked = append(p.Clicked, key)
	p.goTo(p.screen().Clicks[key])
	return nil
}

func (p *Page) Input(_ context.Context, loc browser.Locator, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := loc.String()
	if !p.has(key) {
		return fmt.Errorf("%w: %s", browser.ErrElementNotFound, key)
	}
	p.Typed = append(p.Typed, Typed{Locator: key, Text: text})
	return nil
}

func (p *Page) PressEnter(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.goTo(p.screen().Enter)
	return nil
}

func (p *Page) Text(_ context.Context, loc browser.Locator) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	texts := p.screen().Texts[loc.String()]
	if len(texts) == 0 {
		return "", fmt.Errorf("%w: %s", browser.ErrElementNotFound, loc)
	}
	return texts[0], nil
}

func (p *Page) Texts(_ context.Context, loc browser.Locator) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.screen().Texts[loc.String()]...), nil
}

func (p *Page) Eval(_ context.Context, js string, out any, args ...any) error {
	p.mu.Lock()
	fn := p.screen().Eval
	p.mu.Unlock()
	if fn == nil {
		return fmt.Errorf("eval not scripted on %s", p.Current())
	}
	v, err := fn(js, args)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

func (p *Page) Frame(_ context.Context, loc browser.Locator) (browser.Page, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if f, ok := p.screen().Frames[loc.String()]; ok && p.has(loc.String()) {
		return f, nil
	}
	return nil, fmt.Errorf("%w: frame %s", browser.ErrElementNotFound, loc)
}

func (p *Page) CrossOriginFrame(_ context.Context, urlPart string) (browser.Page, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if f, ok := p.screen().CrossFrames[urlPart]; ok {
		return f, nil
	}
	return nil, fmt.Errorf("%w: iframe target %s", browser.ErrElementNotFound, urlPart)
}

func (p *Page) SetFiles(_ context.Context, loc browser.Locator, paths []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.has(loc.String()) {
		return fmt.Errorf("%w: %s", browser.ErrElementNotFound, loc)
	}
	p.Uploaded = append(p.Uploaded, paths)
	p.goTo(p.screen().Upload)
	return nil
}

func (p *Page) ChooseFile(_ context.Context, trigger browser.Locator, paths []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.screen()
	if !s.Dialog || !p.has(trigger.String()) {
		return fmt.Errorf("%w: file dialog %s", browser.ErrElementNotFound, trigger)
	}
	p.Clicked = append(p.Clicked, trigger.String())
	p.Uploaded = append(p.Uploaded, paths)
	p.goTo(s.Upload)
	return nil
}

// TypedInto 返回输入到某定位的所有文本。
func (p *Page) TypedInto(loc browser.Locator) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, t := range p.Typed {
		if t.Locator == loc.String() {
			out = append(out, t.Text)
		}
	}
	return out
}

var _ browser.Page = (*Page)(nil)
