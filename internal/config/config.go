package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	HubStudio HubStudioConfig `yaml:"hubstudio"`
	SMS       SMSConfig       `yaml:"sms"`
	Captcha   CaptchaConfig   `yaml:"captcha"`
	Login     LoginConfig     `yaml:"login"`
	Worker    WorkerConfig    `yaml:"worker"`
	Channel   ChannelConfig   `yaml:"channel"`
	Appeal    AppealConfig    `yaml:"appeal"`
	Sync      SyncConfig      `yaml:"sync"`
}

type ServerConfig struct {
	Addr string     `yaml:"addr"`
	Cors CorsConfig `yaml:"cors"`
}

type CorsConfig struct {
	AllowOrigins     []string `yaml:"allowOrigins"`
	AllowCredentials bool     `yaml:"allowCredentials"`
}

type StorageConfig struct {
	SQLitePath string `yaml:"sqlitePath"`
}

type HubStudioConfig struct {
	BaseURL   string `yaml:"baseURL"`
	AppID     string `yaml:"appID"`
	AppSecret string `yaml:"appSecret"`
	Headless  bool   `yaml:"headless"`
	// QPS 本地 API 调用限速，0 表示默认 5。
	QPS   float64 `yaml:"qps"`
	Burst int     `yaml:"burst"`
}

type SMSConfig struct {
	MaxRetries int `yaml:"maxRetries"`
	IntervalMs int `yaml:"intervalMs"`
	TimeoutMs  int `yaml:"timeoutMs"`
}

func (c SMSConfig) Interval() time.Duration {
	if c.IntervalMs <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.IntervalMs) * time.Millisecond
}

func (c SMSConfig) Timeout() time.Duration {
	if c.TimeoutMs <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

type CaptchaConfig struct {
	Enabled          bool   `yaml:"enabled"`
	APIKey           string `yaml:"apiKey"`
	BaseURL          string `yaml:"baseURL"`
	SearchAttempts   int    `yaml:"searchAttempts"`
	SearchIntervalMs int    `yaml:"searchIntervalMs"`
	PollAttempts     int    `yaml:"pollAttempts"`
	PollIntervalMs   int    `yaml:"pollIntervalMs"`
	InjectAttempts   int    `yaml:"injectAttempts"`
	InjectBackoffMs  int    `yaml:"injectBackoffMs"`
}

func (c CaptchaConfig) SearchInterval() time.Duration {
	return msOr(c.SearchIntervalMs, 5*time.Second)
}

func (c CaptchaConfig) PollInterval() time.Duration {
	return msOr(c.PollIntervalMs, 5*time.Second)
}

func (c CaptchaConfig) InjectBackoff() time.Duration {
	return msOr(c.InjectBackoffMs, 3*time.Second)
}

type LoginConfig struct {
	EntryURL      string `yaml:"entryURL"`
	MaxDetections int    `yaml:"maxDetections"`
	BudgetSeconds int    `yaml:"budgetSeconds"`
	UnknownWaitMs int    `yaml:"unknownWaitMs"`
	// SettleMs 每次提交后等待页面跳转的时间。
	SettleMs int `yaml:"settleMs"`
}

func (c LoginConfig) Budget() time.Duration {
	if c.BudgetSeconds <= 0 {
		return 600 * time.Second
	}
	return time.Duration(c.BudgetSeconds) * time.Second
}

func (c LoginConfig) UnknownWait() time.Duration {
	return msOr(c.UnknownWaitMs, 3*time.Second)
}

func (c LoginConfig) Settle() time.Duration {
	return msOr(c.SettleMs, 3*time.Second)
}

type WorkerConfig struct {
	Size       int `yaml:"size"`
	DelayMinMs int `yaml:"delayMinMs"`
	DelayMaxMs int `yaml:"delayMaxMs"`
}

func (c WorkerConfig) DelayMin() time.Duration {
	return msOr(c.DelayMinMs, time.Second)
}

func (c WorkerConfig) DelayMax() time.Duration {
	return msOr(c.DelayMaxMs, 2*time.Second)
}

type ChannelConfig struct {
	AvatarDir string `yaml:"avatarDir"`
	// WaitMs 频道创建提交后的等待时间。
	WaitMs int `yaml:"waitMs"`
}

func (c ChannelConfig) Wait() time.Duration {
	return msOr(c.WaitMs, 10*time.Second)
}

type AppealConfig struct {
	File      string `yaml:"file"`
	Sheet     string `yaml:"sheet"`
	HeaderRow bool   `yaml:"headerRow"`
}

type SyncConfig struct {
	// Cron 定时同步浏览器环境，留空关闭，例如 "@every 30m"。
	Cron     string `yaml:"cron"`
	PageSize int    `yaml:"pageSize"`
}

func msOr(ms int, def time.Duration) time.Duration {
	if ms <= 0 {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv 环境变量覆盖密钥类配置（.env 由 main 预先加载）。
func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv("HUBSTUDIO_APP_ID")); v != "" {
		c.HubStudio.AppID = v
	}
	if v := strings.TrimSpace(os.Getenv("HUBSTUDIO_APP_SECRET")); v != "" {
		c.HubStudio.AppSecret = v
	}
	if v := strings.TrimSpace(os.Getenv("TWOCAPTCHA_API_KEY")); v != "" {
		c.Captcha.APIKey = v
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8090"
	}
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = "./data/google_account.db"
	}
	if c.HubStudio.BaseURL == "" {
		c.HubStudio.BaseURL = "http://localhost:6873"
	}
	if c.HubStudio.QPS <= 0 {
		c.HubStudio.QPS = 5
	}
	if c.HubStudio.Burst <= 0 {
		c.HubStudio.Burst = 5
	}
	if c.SMS.MaxRetries <= 0 {
		c.SMS.MaxRetries = 12
	}
	if c.Captcha.BaseURL == "" {
		c.Captcha.BaseURL = "https://2captcha.com"
	}
	if c.Captcha.SearchAttempts <= 0 {
		c.Captcha.SearchAttempts = 5
	}
	if c.Captcha.PollAttempts <= 0 {
		c.Captcha.PollAttempts = 30
	}
	if c.Captcha.InjectAttempts <= 0 {
		c.Captcha.InjectAttempts = 3
	}
	if c.Login.EntryURL == "" {
		c.Login.EntryURL = "https://accounts.google.com/"
	}
	if c.Login.MaxDetections <= 0 {
		c.Login.MaxDetections = 8
	}
	if c.Worker.Size <= 0 {
		c.Worker.Size = 3
	}
	if c.Channel.AvatarDir == "" {
		c.Channel.AvatarDir = "./data/avatars"
	}
	if c.Sync.PageSize <= 0 {
		c.Sync.PageSize = 500
	}
}

func (c Config) validate() error {
	if c.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	if c.HubStudio.BaseURL == "" {
		return errors.New("hubstudio.baseURL is required")
	}
	if c.Worker.DelayMax() < c.Worker.DelayMin() {
		return errors.New("worker.delayMaxMs must be >= worker.delayMinMs")
	}
	return nil
}
