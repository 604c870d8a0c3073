package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "server:\n  addr: \":9000\"\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Addr != ":9000" {
		t.Fatalf("addr %q", cfg.Server.Addr)
	}
	if cfg.Worker.Size != 3 || cfg.Worker.DelayMin() != time.Second || cfg.Worker.DelayMax() != 2*time.Second {
		t.Fatalf("worker defaults %+v", cfg.Worker)
	}
	if cfg.SMS.MaxRetries != 12 || cfg.SMS.Interval() != 10*time.Second {
		t.Fatalf("sms defaults %+v", cfg.SMS)
	}
	if cfg.Login.MaxDetections != 8 || cfg.Login.Budget() != 600*time.Second || cfg.Login.UnknownWait() != 3*time.Second {
		t.Fatalf("login defaults %+v", cfg.Login)
	}
	if cfg.Captcha.PollAttempts != 30 || cfg.Captcha.PollInterval() != 5*time.Second || cfg.Captcha.InjectAttempts != 3 {
		t.Fatalf("captcha defaults %+v", cfg.Captcha)
	}
	if cfg.HubStudio.BaseURL != "http://localhost:6873" || cfg.Sync.PageSize != 500 {
		t.Fatalf("hubstudio/sync defaults %+v %+v", cfg.HubStudio, cfg.Sync)
	}
}

func TestEnvOverridesSecrets(t *testing.T) {
	t.Setenv("HUBSTUDIO_APP_ID", "env-app")
	t.Setenv("HUBSTUDIO_APP_SECRET", "env-secret")
	t.Setenv("TWOCAPTCHA_API_KEY", "env-key")

	cfg, err := Load(writeConfig(t, "hubstudio:\n  appID: yaml-app\ncaptcha:\n  apiKey: yaml-key\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.HubStudio.AppID != "env-app" || cfg.HubStudio.AppSecret != "env-secret" || cfg.Captcha.APIKey != "env-key" {
		t.Fatalf("env not applied: %+v %+v", cfg.HubStudio, cfg.Captcha)
	}
}

func TestValidateDelayRange(t *testing.T) {
	_, err := Load(writeConfig(t, "worker:\n  delayMinMs: 3000\n  delayMaxMs: 1000\n"))
	if err == nil {
		t.Fatal("expected error for inverted delay range")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error")
	}
}
