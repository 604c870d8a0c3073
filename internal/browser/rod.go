package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

const (
	defaultWaitTimeout  = 10 * time.Second
	defaultProbeTimeout = 800 * time.Millisecond
	defaultNavTimeout   = 45 * time.Second
)

type RodPage struct {
	browser *rod.Browser
	page    *rod.Page

	wait  time.Duration
	probe time.Duration
	nav   time.Duration
}

func NewRodPage(b *rod.Browser, p *rod.Page) *RodPage {
	return &RodPage{
		browser: b,
		page:    p,
		wait:    defaultWaitTimeout,
		probe:   defaultProbeTimeout,
		nav:     defaultNavTimeout,
	}
}

func (p *RodPage) child(pg *rod.Page) *RodPage {
	return &RodPage{browser: p.browser, page: pg, wait: p.wait, probe: p.probe, nav: p.nav}
}

// Attach 连接远程浏览器的调试端口，优先复用已打开的标签页。
func Attach(ctx context.Context, debugPort int) (*rod.Browser, *RodPage, error) {
	u, err := launcher.ResolveURL(fmt.Sprintf("127.0.0.1:%d", debugPort))
	if err != nil {
		return nil, nil, fmt.Errorf("resolve devtools url: %w", err)
	}
	b := rod.New().ControlURL(u).Context(ctx)
	if err := b.Connect(); err != nil {
		return nil, nil, fmt.Errorf("connect devtools: %w", err)
	}

	var page *rod.Page
	if pages, err := b.Pages(); err == nil && len(pages) > 0 {
		page = pages.First()
	} else {
		page, err = stealth.Page(b)
		if err != nil {
			return nil, nil, fmt.Errorf("open page: %w", err)
		}
	}
	return b, NewRodPage(b, page), nil
}

func (p *RodPage) URL() string {
	res, err := p.page.Timeout(p.probe).Eval(`() => location.href`)
	if err == nil {
		if s := res.Value.Str(); s != "" {
			return s
		}
	}
	info, err := p.page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

func (p *RodPage) Navigate(ctx context.Context, url string) error {
	pg := p.page.Context(ctx).Timeout(p.nav)
	waitDom := pg.WaitNavigation(proto.PageLifecycleEventNameDOMContentLoaded)
	if err := pg.Navigate(url); err != nil {
		return err
	}
	waitDom()
	return nil
}

func (p *RodPage) find(ctx context.Context, loc Locator, timeout time.Duration) (*rod.Element, error) {
	pg := p.page.Context(ctx).Timeout(timeout)
	var (
		el  *rod.Element
		err error
	)
	switch loc.kind {
	case kindXPath:
		el, err = pg.ElementX(loc.query)
	case kindText:
		el, err = pg.ElementR(loc.query, loc.pattern)
	default:
		el, err = pg.Element(loc.query)
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s", ErrElementNotFound, loc)
		}
		return nil, err
	}
	return el.CancelTimeout(), nil
}

func (p *RodPage) Exists(ctx context.Context, loc Locator) bool {
	pg := p.page.Context(ctx).Timeout(p.probe)
	var (
		has bool
		el  *rod.Element
		err error
	)
	switch loc.kind {
	case kindXPath:
		has, el, err = pg.HasX(loc.query)
	case kindText:
		has, el, err = pg.HasR(loc.query, loc.pattern)
	default:
		has, el, err = pg.Has(loc.query)
	}
	if err != nil || !has || el == nil {
		return false
	}
	visible, err := el.Visible()
	return err == nil && visible
}

func (p *RodPage) Click(ctx context.Context, loc Locator) error {
	el, err := p.find(ctx, loc, p.wait)
	if err != nil {
		return err
	}
	_ = el.ScrollIntoView()
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		// 被遮挡时退回 JS 点击
		if _, jsErr := el.Eval(`() => this.click()`); jsErr != nil {
			return fmt.Errorf("click %s: %w", loc, err)
		}
	}
	return nil
}

func (p *RodPage) Input(ctx context.Context, loc Locator, text string) error {
	el, err := p.find(ctx, loc, p.wait)
	if err != nil {
		return err
	}
	_ = el.SelectAllText()
	if err := el.Input(text); err != nil {
		return fmt.Errorf("input %s: %w", loc, err)
	}
	return nil
}

func (p *RodPage) PressEnter(ctx context.Context) error {
	return p.page.Context(ctx).Keyboard.Press(input.Enter)
}

func (p *RodPage) Text(ctx context.Context, loc Locator) (string, error) {
	el, err := p.find(ctx, loc, p.wait)
	if err != nil {
		return "", err
	}
	return el.Text()
}

func (p *RodPage) Texts(ctx context.Context, loc Locator) ([]string, error) {
	pg := p.page.Context(ctx).Timeout(p.wait)
	var (
		els rod.Elements
		err error
	)
	var re *regexp.Regexp
	switch loc.kind {
	case kindXPath:
		els, err = pg.ElementsX(loc.query)
	case kindText:
		re, err = regexp.Compile(loc.pattern)
		if err != nil {
			return nil, err
		}
		els, err = pg.Elements(loc.query)
	default:
		els, err = pg.Elements(loc.query)
	}
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(els))
	for _, el := range els {
		txt, err := el.Text()
		if err != nil {
			continue
		}
		txt = strings.TrimSpace(txt)
		if re != nil && !re.MatchString(txt) {
			continue
		}
		out = append(out, txt)
	}
	return out, nil
}

func (p *RodPage) Eval(ctx context.Context, js string, out any, args ...any) error {
	res, err := p.page.Context(ctx).Timeout(p.wait).Eval(js, args...)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal([]byte(res.Value.JSON("", "")), out)
}

func (p *RodPage) Frame(ctx context.Context, loc Locator) (Page, error) {
	el, err := p.find(ctx, loc, p.wait)
	if err != nil {
		return nil, err
	}
	fp, err := el.Frame()
	if err != nil {
		return nil, err
	}
	return p.child(fp), nil
}

func (p *RodPage) CrossOriginFrame(ctx context.Context, urlPart string) (Page, error) {
	res, err := proto.TargetGetTargets{}.Call(p.browser.Context(ctx))
	if err != nil {
		return nil, err
	}
	for _, info := range res.TargetInfos {
		if string(info.Type) != "iframe" || !strings.Contains(info.URL, urlPart) {
			continue
		}
		fp, err := p.browser.PageFromTarget(info.TargetID)
		if err != nil {
			return nil, err
		}
		return p.child(fp), nil
	}
	return nil, fmt.Errorf("%w: iframe target %s", ErrElementNotFound, urlPart)
}

func (p *RodPage) SetFiles(ctx context.Context, loc Locator, paths []string) error {
	el, err := p.find(ctx, loc, p.wait)
	if err != nil {
		return err
	}
	return el.SetFiles(paths)
}

func (p *RodPage) ChooseFile(ctx context.Context, trigger Locator, paths []string) error {
	wait, err := p.page.Context(ctx).HandleFileDialog()
	if err != nil {
		return fmt.Errorf("intercept file dialog: %w", err)
	}
	if err := p.Click(ctx, trigger); err != nil {
		return err
	}
	return wait(paths)
}
