package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/mail"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/gomail.v2"

	"google_account/internal/logbus"
	"google_account/internal/model"
)

type SettingsSource interface {
	GetEmailSettings(ctx context.Context) (model.EmailSettings, bool, error)
}

// EmailNotifier 异步发送批次汇总邮件，队列满时丢弃。
type EmailNotifier struct {
	settings SettingsSource
	bus      *logbus.Bus
	send     func(ctx context.Context, s model.EmailSettings, evt BatchFinishedEvent) error

	mu     sync.Mutex
	queue  chan BatchFinishedEvent
	ctx    context.Context
	cancel func()
	wg     sync.WaitGroup
}

func NewEmailNotifier(settings SettingsSource, bus *logbus.Bus) *EmailNotifier {
	ctx, cancel := context.WithCancel(context.Background())
	n := &EmailNotifier{
		settings: settings,
		bus:      bus,
		send:     SendBatchSummaryEmail,
		queue:    make(chan BatchFinishedEvent, 50),
		ctx:      ctx,
		cancel:   cancel,
	}
	n.wg.Add(1)
	go n.loop()
	return n
}

func (n *EmailNotifier) Close(ctx context.Context) error {
	n.mu.Lock()
	cancel := n.cancel
	n.cancel = nil
	n.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *EmailNotifier) NotifyBatchFinished(_ context.Context, evt BatchFinishedEvent) {
	select {
	case n.queue <- evt:
	default:
		n.bus.Log("warn", "邮件通知丢弃：队列已满", map[string]any{"batchId": evt.BatchID})
	}
}

func (n *EmailNotifier) loop() {
	defer n.wg.Done()
	for {
		select {
		case <-n.ctx.Done():
			// 退出前把已排队的发完
			for {
				select {
				case evt := <-n.queue:
					n.handle(context.WithoutCancel(n.ctx), evt)
				default:
					return
				}
			}
		case evt := <-n.queue:
			n.handle(n.ctx, evt)
		}
	}
}

func (n *EmailNotifier) handle(ctx context.Context, evt BatchFinishedEvent) {
	if n.settings == nil {
		return
	}
	settings, ok, err := n.settings.GetEmailSettings(ctx)
	if err != nil {
		n.bus.Log("warn", "读取邮件配置失败", map[string]any{"error": err.Error()})
		return
	}
	if !ok || !settings.Enabled {
		n.bus.Log("info", "邮件通知未启用", map[string]any{"batchId": evt.BatchID})
		return
	}
	if err := validateEmailSettings(settings); err != nil {
		n.bus.Log("warn", "邮件配置无效", map[string]any{"error": err.Error()})
		return
	}
	if err := n.send(ctx, settings, evt); err != nil {
		n.bus.Log("warn", "邮件发送失败", map[string]any{"error": err.Error(), "batchId": evt.BatchID})
		return
	}
	n.bus.Log("info", "通知邮件已发送", map[string]any{
		"batchId": evt.BatchID,
		"to":      strings.TrimSpace(settings.Email),
	})
}

func validateEmailSettings(s model.EmailSettings) error {
	email := strings.TrimSpace(s.Email)
	if email == "" {
		return errors.New("email is required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return errors.New("invalid email")
	}
	if strings.TrimSpace(s.AuthCode) == "" {
		return errors.New("authCode is required")
	}
	return nil
}

func SendBatchSummaryEmail(ctx context.Context, settings model.EmailSettings, evt BatchFinishedEvent) error {
	subject := buildSubject(evt)
	htmlBody, textBody, err := buildBody(evt)
	if err != nil {
		return err
	}
	return sendMail(ctx, settings, subject, textBody, htmlBody)
}

// SendTestEmail 设置页验证邮箱配置。
func SendTestEmail(ctx context.Context, settings model.EmailSettings) error {
	text := "这是一封测试邮件，收到说明邮件通知配置正确。"
	return sendMail(ctx, settings, "测试邮件", text, "<p>"+template.HTMLEscapeString(text)+"</p>")
}

func sendMail(ctx context.Context, settings model.EmailSettings, subject, textBody, htmlBody string) error {
	if err := validateEmailSettings(settings); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	email := strings.TrimSpace(settings.Email)
	host, port, useSSL, err := smtpConfigForEmail(email)
	if err != nil {
		return err
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", msg.FormatAddress(email, "账号助手"))
	msg.SetHeader("To", email)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", textBody)
	msg.AddAlternative("text/html", htmlBody)

	d := gomail.NewDialer(host, port, email, strings.TrimSpace(settings.AuthCode))
	d.SSL = useSSL
	return d.DialAndSend(msg)
}

func smtpConfigForEmail(email string) (host string, port int, useSSL bool, err error) {
	parts := strings.Split(strings.TrimSpace(email), "@")
	if len(parts) != 2 || strings.TrimSpace(parts[1]) == "" {
		return "", 0, false, errors.New("invalid email format")
	}
	domain := strings.ToLower(strings.TrimSpace(parts[1]))

	switch {
	case domain == "qq.com" || strings.HasSuffix(domain, ".qq.com") || domain == "foxmail.com" || strings.HasSuffix(domain, ".foxmail.com"):
		return "smtp.qq.com", 465, true, nil
	case domain == "163.com" || strings.HasSuffix(domain, ".163.com") ||
		domain == "126.com" || strings.HasSuffix(domain, ".126.com") ||
		domain == "yeah.net" || strings.HasSuffix(domain, ".yeah.net"):
		return "smtp.163.com", 465, true, nil
	case domain == "gmail.com" || strings.HasSuffix(domain, ".gmail.com"):
		return "smtp.gmail.com", 587, false, nil
	case domain == "outlook.com" || strings.HasSuffix(domain, ".outlook.com") ||
		domain == "hotmail.com" || strings.HasSuffix(domain, ".hotmail.com") ||
		domain == "live.com" || strings.HasSuffix(domain, ".live.com"):
		return "smtp.office365.com", 587, false, nil
	default:
		return "smtp." + domain, 465, true, nil
	}
}

func kindLabel(kind string) string {
	switch kind {
	case string(model.BatchKindLogin):
		return "批量登录"
	case string(model.BatchKindChannel):
		return "批量创建频道"
	default:
		return "批量任务"
	}
}

func buildSubject(evt BatchFinishedEvent) string {
	state := "已完成"
	if evt.Stopped {
		state = "已停止"
	}
	return fmt.Sprintf("%s%s（%d/%d）", kindLabel(evt.Kind), state, evt.Done, evt.Total)
}

var summaryHTMLTpl = template.Must(template.New("batch-summary").Parse(`
<!doctype html>
<html lang="zh-CN">
  <head>
    <meta charset="utf-8" />
    <title>{{ .Title }}</title>
  </head>
  <body style="margin:0;padding:0;background:#f6f8fb;font-family:-apple-system,BlinkMacSystemFont,'Segoe UI',Roboto,'PingFang SC','Microsoft YaHei',sans-serif;">
    <div style="max-width:720px;margin:0 auto;padding:24px;">
      <div style="background:#ffffff;border:1px solid #e6e8ef;border-radius:14px;overflow:hidden;">
        <div style="padding:18px 22px;background:linear-gradient(135deg,#0ea5e9,#6366f1);color:#ffffff;">
          <div style="font-size:16px;font-weight:700;">{{ .Title }}</div>
          <div style="margin-top:6px;font-size:12px;opacity:.95;">{{ .Start }} ~ {{ .End }}</div>
        </div>
        <div style="padding:22px;">
          <table role="presentation" cellspacing="0" cellpadding="0" border="0" style="width:100%;border-collapse:collapse;">
            <tbody>
              {{ range .Rows }}
              <tr>
                <td style="width:200px;padding:10px 12px;background:#fafbff;border-bottom:1px solid #eef0f6;color:#6b7280;font-size:12px;">{{ .K }}</td>
                <td style="padding:10px 12px;border-bottom:1px solid #eef0f6;color:#111827;font-size:12px;font-weight:600;">{{ .V }}</td>
              </tr>
              {{ end }}
            </tbody>
          </table>
          <div style="margin-top:14px;color:#9ca3af;font-size:12px;">此邮件由系统自动发送</div>
        </div>
      </div>
    </div>
  </body>
</html>
`))

type rowKV struct {
	K string
	V string
}

func resultLabel(key string) string {
	switch key {
	case string(model.ChannelStatusCreated):
		return "频道已创建"
	case "skipped":
		return "已跳过"
	}
	if s := model.LoginStatus(key); s.Valid() {
		return s.Label()
	}
	return key
}

func buildBody(evt BatchFinishedEvent) (htmlBody string, textBody string, err error) {
	start := time.UnixMilli(evt.StartedMs)
	end := time.UnixMilli(evt.EndedMs)
	if evt.EndedMs <= 0 {
		end = time.Now()
	}

	rows := []rowKV{
		{K: "批次", V: evt.BatchID},
		{K: "账号总数", V: strconv.Itoa(evt.Total)},
		{K: "已处理", V: strconv.Itoa(evt.Done)},
	}
	keys := make([]string, 0, len(evt.Results))
	for k := range evt.Results {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		rows = append(rows, rowKV{K: resultLabel(k), V: strconv.Itoa(evt.Results[k])})
	}

	data := struct {
		Title string
		Start string
		End   string
		Rows  []rowKV
	}{
		Title: buildSubject(evt),
		Start: start.Format("2006-01-02 15:04:05"),
		End:   end.Format("2006-01-02 15:04:05"),
		Rows:  rows,
	}
	var buf bytes.Buffer
	if err := summaryHTMLTpl.Execute(&buf, data); err != nil {
		return "", "", err
	}

	text := new(strings.Builder)
	text.WriteString(data.Title + "\n")
	text.WriteString("时间：" + data.Start + " ~ " + data.End + "\n")
	for _, r := range rows {
		text.WriteString(r.K + "：" + r.V + "\n")
	}
	return buf.String(), text.String(), nil
}
