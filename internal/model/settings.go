package model

type EmailSettings struct {
	Enabled  bool   `json:"enabled"`
	Email    string `json:"email"`
	AuthCode string `json:"authCode,omitempty"`
}

type CaptchaSettings struct {
	Enabled bool   `json:"enabled"`
	APIKey  string `json:"apiKey,omitempty"`
}

type HubStudioSettings struct {
	BaseURL   string `json:"baseURL"`
	AppID     string `json:"appId"`
	AppSecret string `json:"appSecret,omitempty"`
}

type ChannelSettings struct {
	// AvatarDir 头像目录，使用后的图片会被删除。
	AvatarDir string `json:"avatarDir"`
}
