package channel

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"google_account/internal/browser"
	"google_account/internal/login"
	"google_account/internal/model"
)

var (
	// 先判 10m，避免 "10M" 之类的文本里的数字被误判。
	tenMillion   = regexp.MustCompile(`(^|\D)(10M|10000000(\D|$)|1000万|10MILLION|10TRIỆU)`)
	threeMillion = regexp.MustCompile(`(^|\D)(3M|3000000(\D|$)|300万|3MILLION|3TRIỆU)`)

	channelIDPattern = regexp.MustCompile(`/channel/([^/?#]+)`)
)

var (
	locThreshold       = browser.XPath("//span[contains(@class, 'threshold')]")
	locShortsThreshold = browser.XPath("//div[contains(@class, 'shorts-progress')]//span[contains(@class, 'threshold')]")
	locShortsCount     = browser.XPath("//*[@id='shorts-count']/ancestor::div[contains(@class, 'shorts-progress')]//span[contains(@class, 'threshold')]")
	locContinue        = browser.XPath("//button[contains(text(), 'Continue') or contains(text(), '继续') or @aria-label='Continue' or @aria-label='继续']")
)

var errThresholdNotFound = errors.New("monetization threshold not found")

// ClassifyThreshold 去掉分隔符后匹配；其他数值返回 false。
func ClassifyThreshold(raw string) (model.Monetization, bool) {
	clean := strings.ToUpper(raw)
	clean = strings.NewReplacer(",", "", ".", "", " ", "", "\u00a0", "").Replace(clean)
	switch {
	case tenMillion.MatchString(clean):
		return model.Monetization10M, true
	case threeMillion.MatchString(clean):
		return model.Monetization3M, true
	}
	return model.MonetizationUnset, false
}

// ChannelID 从 /channel/<id> 或 studio 地址里的 UC 段提取频道 ID。
func ChannelID(rawURL string) string {
	if m := channelIDPattern.FindStringSubmatch(rawURL); m != nil {
		return m[1]
	}
	if login.ParseURL(rawURL).OnHost("studio.youtube.com") {
		for _, part := range strings.Split(rawURL, "/") {
			if strings.HasPrefix(part, "UC") {
				return strings.SplitN(part, "?", 2)[0]
			}
		}
	}
	return ""
}

func channelURL(id string) string { return "https://www.youtube.com/channel/" + id }

// DetectMonetization 读取创收概览页第三个 threshold 元素。
func (f *Flow) DetectMonetization(ctx context.Context, page browser.Page, rawURL string) (model.Monetization, string, error) {
	id := ChannelID(rawURL)
	if id == "" {
		return model.MonetizationUnset, "", errors.New("无法从频道地址提取频道ID")
	}
	if err := page.Navigate(ctx, "https://studio.youtube.com/channel/"+id+"/monetization/overview"); err != nil {
		return model.MonetizationUnset, "", err
	}
	f.clock.Sleep(ctx, 8*time.Second)

	if page.Exists(ctx, locContinue) {
		if err := page.Click(ctx, locContinue); err == nil {
			f.clock.Sleep(ctx, 2*time.Second)
		}
	}
	// 进度组件在页面中部以下才渲染
	_ = page.Eval(ctx, `() => window.scrollTo(0, document.body.scrollHeight / 2)`, nil)
	f.clock.Sleep(ctx, 2*time.Second)
	_ = page.Eval(ctx, `() => window.scrollBy(0, 300)`, nil)
	f.clock.Sleep(ctx, time.Second)

	raw := ""
	if texts, err := page.Texts(ctx, locThreshold); err == nil && len(texts) >= 3 {
		raw = strings.TrimSpace(texts[2])
	}
	for _, loc := range []browser.Locator{locShortsThreshold, locShortsCount} {
		if raw != "" {
			break
		}
		if t, err := page.Text(ctx, loc); err == nil {
			raw = strings.TrimSpace(t)
		}
	}
	if raw == "" {
		return model.MonetizationUnset, "", errThresholdNotFound
	}
	m, ok := ClassifyThreshold(raw)
	if !ok {
		return model.MonetizationUnset, raw, errors.New("无法识别创收门槛: " + raw)
	}
	return m, raw, nil
}
