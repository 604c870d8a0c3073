package browser

import (
	"context"
	"errors"
)

var ErrElementNotFound = errors.New("element not found")

type locatorKind uint8

const (
	kindCSS locatorKind = iota
	kindXPath
	kindText
)

// Locator 页面元素定位：CSS、XPath 或 CSS+文本正则。
type Locator struct {
	kind    locatorKind
	query   string
	pattern string
}

func CSS(selector string) Locator { return Locator{kind: kindCSS, query: selector} }

func XPath(expr string) Locator { return Locator{kind: kindXPath, query: expr} }

// Text 在 selector 命中的元素里找文本匹配 pattern（JS 正则）的第一个。
func Text(selector, pattern string) Locator {
	return Locator{kind: kindText, query: selector, pattern: pattern}
}

func (l Locator) String() string {
	switch l.kind {
	case kindXPath:
		return "xpath:" + l.query
	case kindText:
		return "text:" + l.query + "/" + l.pattern
	default:
		return "css:" + l.query
	}
}

// Page 状态机、申诉、频道流程只依赖这个接口，测试里用脚本化的假页面替换。
type Page interface {
	URL() string
	Navigate(ctx context.Context, url string) error
	// Exists 立即探测，不等待；只认可见元素。
	Exists(ctx context.Context, loc Locator) bool
	Click(ctx context.Context, loc Locator) error
	Input(ctx context.Context, loc Locator, text string) error
	PressEnter(ctx context.Context) error
	Text(ctx context.Context, loc Locator) (string, error)
	Texts(ctx context.Context, loc Locator) ([]string, error)
	// Eval 执行 JS 函数，结果按 JSON 解到 out（out 可为 nil）。
	Eval(ctx context.Context, js string, out any, args ...any) error
	// Frame 同源 iframe。
	Frame(ctx context.Context, loc Locator) (Page, error)
	// CrossOriginFrame 按 URL 片段查找跨域 iframe 对应的 target。
	CrossOriginFrame(ctx context.Context, urlPart string) (Page, error)
	SetFiles(ctx context.Context, loc Locator, paths []string) error
	// ChooseFile 拦截系统文件选择框：点击 trigger 后把 paths 交给浏览器。
	ChooseFile(ctx context.Context, trigger Locator, paths []string) error
}

// FirstExisting 返回第一个存在的定位。
func FirstExisting(ctx context.Context, p Page, locs ...Locator) (Locator, bool) {
	for _, l := range locs {
		if p.Exists(ctx, l) {
			return l, true
		}
	}
	return Locator{}, false
}

// ClickFirst 依次尝试点击，全部失败返回最后一个错误。
func ClickFirst(ctx context.Context, p Page, locs ...Locator) error {
	err := ErrElementNotFound
	for _, l := range locs {
		if !p.Exists(ctx, l) {
			continue
		}
		if err = p.Click(ctx, l); err == nil {
			return nil
		}
	}
	return err
}
