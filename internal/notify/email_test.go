package notify

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"google_account/internal/model"
)

func TestSMTPConfigForEmail(t *testing.T) {
	cases := []struct {
		email string
		host  string
		port  int
		ssl   bool
	}{
		{"a@qq.com", "smtp.qq.com", 465, true},
		{"a@126.com", "smtp.163.com", 465, true},
		{"a@gmail.com", "smtp.gmail.com", 587, false},
		{"a@hotmail.com", "smtp.office365.com", 587, false},
		{"a@example.org", "smtp.example.org", 465, true},
	}
	for _, tc := range cases {
		host, port, ssl, err := smtpConfigForEmail(tc.email)
		if err != nil || host != tc.host || port != tc.port || ssl != tc.ssl {
			t.Errorf("%s: got %s:%d ssl=%v err=%v", tc.email, host, port, ssl, err)
		}
	}
	if _, _, _, err := smtpConfigForEmail("broken"); err == nil {
		t.Fatal("expected error for invalid email")
	}
}

func TestBuildBodyListsResults(t *testing.T) {
	evt := BatchFinishedEvent{
		BatchID: "b1",
		Kind:    string(model.BatchKindLogin),
		Total:   3,
		Done:    3,
		Results: map[string]int{"success": 2, "need_phone": 1},
	}
	if got := buildSubject(evt); got != "批量登录已完成（3/3）" {
		t.Fatalf("subject %q", got)
	}
	_, text, err := buildBody(evt)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"登录成功：2", "需要绑定手机号：1", "账号总数：3"} {
		if !strings.Contains(text, want) {
			t.Errorf("body missing %q:\n%s", want, text)
		}
	}
	evt.Stopped = true
	if !strings.Contains(buildSubject(evt), "已停止") {
		t.Fatalf("stopped batch subject %q", buildSubject(evt))
	}
}

type staticSettings struct{ s model.EmailSettings }

func (s staticSettings) GetEmailSettings(context.Context) (model.EmailSettings, bool, error) {
	return s.s, true, nil
}

func TestNotifierSendsOnlyWhenEnabled(t *testing.T) {
	var (
		mu   sync.Mutex
		sent []string
	)
	record := func(_ context.Context, _ model.EmailSettings, evt BatchFinishedEvent) error {
		mu.Lock()
		sent = append(sent, evt.BatchID)
		mu.Unlock()
		return nil
	}

	disabled := NewEmailNotifier(staticSettings{model.EmailSettings{Email: "a@qq.com", AuthCode: "x"}}, nil)
	disabled.send = record
	disabled.NotifyBatchFinished(context.Background(), BatchFinishedEvent{BatchID: "off"})

	enabled := NewEmailNotifier(staticSettings{model.EmailSettings{Enabled: true, Email: "a@qq.com", AuthCode: "x"}}, nil)
	enabled.send = record
	enabled.NotifyBatchFinished(context.Background(), BatchFinishedEvent{BatchID: "on"})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := disabled.Close(ctx); err != nil {
		t.Fatal(err)
	}
	if err := enabled.Close(ctx); err != nil {
		t.Fatal(err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(sent) != 1 || sent[0] != "on" {
		t.Fatalf("sent %v", sent)
	}
}
