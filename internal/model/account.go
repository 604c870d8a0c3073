package model

import "time"

type LoginStatus string

const (
	LoginStatusNotLogged                  LoginStatus = "not_logged"
	LoginStatusLogging                    LoginStatus = "logging"
	LoginStatusSuccess                    LoginStatus = "success"
	LoginStatusSuccessWithVerification    LoginStatus = "success_with_verification"
	LoginStatusPasswordError              LoginStatus = "password_error"
	LoginStatusNeedPhone                  LoginStatus = "need_phone"
	LoginStatusNeed2FA                    LoginStatus = "need_2fa"
	LoginStatusDisabled                   LoginStatus = "disabled"
	LoginStatusNeedAppeal                 LoginStatus = "need_appeal"
	LoginStatusAppealSuccess              LoginStatus = "appeal_success"
	LoginStatusAppealFailed               LoginStatus = "appeal_failed"
	LoginStatusIdentityVerificationFailed LoginStatus = "identity_verification_failed"
	LoginStatusFailed                     LoginStatus = "failed"
)

var loginStatusLabels = map[LoginStatus]string{
	LoginStatusNotLogged:                  "未登录",
	LoginStatusLogging:                    "登录中",
	LoginStatusSuccess:                    "登录成功",
	LoginStatusSuccessWithVerification:    "登录成功（需验证）",
	LoginStatusPasswordError:              "密码错误",
	LoginStatusNeedPhone:                  "需要绑定手机号",
	LoginStatusNeed2FA:                    "需要2FA验证",
	LoginStatusDisabled:                   "账号被禁用",
	LoginStatusNeedAppeal:                 "需要申诉",
	LoginStatusAppealSuccess:              "已申诉成功",
	LoginStatusAppealFailed:               "申诉失败",
	LoginStatusIdentityVerificationFailed: "身份验证失败",
	LoginStatusFailed:                     "登录失败",
}

func (s LoginStatus) Label() string {
	if v, ok := loginStatusLabels[s]; ok {
		return v
	}
	return "未知"
}

func (s LoginStatus) Valid() bool {
	_, ok := loginStatusLabels[s]
	return ok
}

// LoggedIn 登录成功（含需验证）的账号才能创建频道。
func (s LoginStatus) LoggedIn() bool {
	return s == LoginStatusSuccess || s == LoginStatusSuccessWithVerification
}

type ChannelStatus string

const (
	ChannelStatusNotCreated ChannelStatus = "not_created"
	ChannelStatusCreated    ChannelStatus = "created"
	ChannelStatusFailed     ChannelStatus = "failed"
)

type Monetization string

const (
	MonetizationUnset Monetization = ""
	Monetization3M    Monetization = "3m"
	Monetization10M   Monetization = "10m"
)

type Account struct {
	ID            int64         `json:"id"`
	Email         string        `json:"email"`
	Password      string        `json:"password,omitempty"`
	BackupEmail   string        `json:"backupEmail,omitempty"`
	PhoneID       int64         `json:"phoneId,omitempty"`
	InUse         bool          `json:"inUse"`
	LoginStatus   LoginStatus   `json:"loginStatus"`
	BrowserEnvID  string        `json:"browserEnvId,omitempty"`
	ChannelStatus ChannelStatus `json:"channelStatus"`
	ChannelURL    string        `json:"channelUrl,omitempty"`
	Monetization  Monetization  `json:"monetizationRequirement,omitempty"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

// ChannelReady 已创建且记录了频道地址，重复执行时只做门槛检测。
func (a Account) ChannelReady() bool {
	return a.ChannelStatus == ChannelStatusCreated && a.ChannelURL != ""
}
