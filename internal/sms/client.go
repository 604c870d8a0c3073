// Package sms 轮询短信转发地址，提取 Google 验证码。
package sms

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"google_account/internal/config"
	"google_account/internal/logbus"
	"google_account/internal/utils"
)

var ErrCodeNotReceived = errors.New("sms: verification code not received")

var codePattern = regexp.MustCompile(`G-(\d{5,6})`)

var timeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006/01/02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
}

type Message struct {
	Text       string
	ReceivedAt time.Time
	// HasTime 为 false 表示时间缺失或无法解析。
	HasTime bool
}

type Client struct {
	http  *resty.Client
	cfg   config.SMSConfig
	clock utils.Clock
	bus   *logbus.Bus
}

func New(cfg config.SMSConfig, clock utils.Clock, bus *logbus.Bus) *Client {
	if clock == nil {
		clock = utils.RealClock{}
	}
	return &Client{
		http:  resty.New().SetTimeout(cfg.Timeout()).SetRetryCount(0),
		cfg:   cfg,
		clock: clock,
		bus:   bus,
	}
}

// GetCode 按配置的次数和间隔轮询，notBefore 非零时忽略更早收到的短信。
func (c *Client) GetCode(ctx context.Context, smsURL string, notBefore time.Time) (string, error) {
	retries := c.cfg.MaxRetries
	if retries <= 0 {
		retries = 12
	}
	for attempt := 1; attempt <= retries; attempt++ {
		code, err := c.fetch(ctx, smsURL, notBefore)
		if err == nil && code != "" {
			c.bus.Log("info", "已获取短信验证码", map[string]any{"attempt": attempt})
			return code, nil
		}
		if err != nil {
			c.bus.Log("debug", "短信接口请求失败", map[string]any{"attempt": attempt, "error": err.Error()})
		}
		if attempt == retries {
			break
		}
		if !c.clock.Sleep(ctx, c.cfg.Interval()) {
			return "", ctx.Err()
		}
	}
	return "", ErrCodeNotReceived
}

func (c *Client) fetch(ctx context.Context, smsURL string, notBefore time.Time) (string, error) {
	resp, err := c.http.R().SetContext(ctx).Get(smsURL)
	if err != nil {
		return "", err
	}
	if resp.IsError() {
		return "", errors.New("sms: HTTP " + strconv.Itoa(resp.StatusCode()))
	}
	return Extract(resp.Body(), notBefore), nil
}

// Extract 先按 JSON 消息列表解析，失败时把整个正文当作文本。
func Extract(body []byte, notBefore time.Time) string {
	if msgs, ok := parseMessages(body); ok {
		return pickCode(msgs, notBefore)
	}
	// 纯文本没有时间戳，只能直接匹配
	if m := codePattern.FindSubmatch(body); m != nil {
		return string(m[1])
	}
	return ""
}

func pickCode(msgs []Message, notBefore time.Time) string {
	// 最新的在前；无时间的排最后
	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].HasTime != msgs[j].HasTime {
			return msgs[i].HasTime
		}
		return msgs[i].ReceivedAt.After(msgs[j].ReceivedAt)
	})
	for _, m := range msgs {
		if !notBefore.IsZero() && m.HasTime && m.ReceivedAt.Before(notBefore) {
			continue
		}
		if sm := codePattern.FindStringSubmatch(m.Text); sm != nil {
			return sm[1]
		}
	}
	return ""
}

type rawMessage struct {
	Msg     string          `json:"msg"`
	Message string          `json:"message"`
	RecTime json.RawMessage `json:"rec_time"`
	Recv    json.RawMessage `json:"received_at"`
}

func parseMessages(body []byte) ([]Message, bool) {
	var wrapper struct {
		Messages []rawMessage `json:"messages"`
		Data     []rawMessage `json:"data"`
	}
	trimmed := strings.TrimSpace(string(body))
	var raws []rawMessage
	switch {
	case strings.HasPrefix(trimmed, "{"):
		if err := json.Unmarshal([]byte(trimmed), &wrapper); err != nil {
			return nil, false
		}
		raws = wrapper.Messages
		if raws == nil {
			raws = wrapper.Data
		}
		if raws == nil {
			return nil, false
		}
	case strings.HasPrefix(trimmed, "["):
		if err := json.Unmarshal([]byte(trimmed), &raws); err != nil {
			return nil, false
		}
	default:
		return nil, false
	}

	out := make([]Message, 0, len(raws))
	for _, r := range raws {
		text := r.Msg
		if text == "" {
			text = r.Message
		}
		ts := r.RecTime
		if len(ts) == 0 {
			ts = r.Recv
		}
		t, ok := parseTime(ts)
		out = append(out, Message{Text: text, ReceivedAt: t, HasTime: ok})
	}
	return out, true
}

func parseTime(raw json.RawMessage) (time.Time, bool) {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if s == "" || s == "null" {
		return time.Time{}, false
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		// 超过 1e12 视为毫秒
		if n > 1e12 {
			return time.UnixMilli(int64(n)), true
		}
		return time.Unix(int64(n), 0), true
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
