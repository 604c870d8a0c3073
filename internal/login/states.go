// Package login 驱动远程浏览器完成 Google 登录：识别页面状态，按状态分派处理，直到终态或预算耗尽。
package login

import "google_account/internal/model"

// State 页面状态，封闭集合。新增状态必须同时补 stateNames 和 stateHandlers，否则编译失败。
type State uint8

const (
	StateUnknown State = iota
	StateLoggedIn
	StateNeedEmail
	StateNeedPassword
	StatePasswordError
	StateVerifyIdentity
	StateVerifyClickNext
	StateNeedCaptcha
	StateNeedPhone
	StateNeedPhoneConsent
	StateNeed2FA
	StatePasskeyEnrollment
	StateDisabled
	StateNeedAppeal
	StateChooseAccount
	StateRecoveryOptions
	StateHomeAddress
	StateIdentityVerificationFailed
	StateNeedSecurityVerification

	stateCount
)

var stateNames = [...]string{
	StateUnknown:                    "unknown",
	StateLoggedIn:                   "logged_in",
	StateNeedEmail:                  "need_email",
	StateNeedPassword:               "need_password",
	StatePasswordError:              "password_error",
	StateVerifyIdentity:             "verify_identity",
	StateVerifyClickNext:            "verify_click_next",
	StateNeedCaptcha:                "need_captcha",
	StateNeedPhone:                  "need_phone",
	StateNeedPhoneConsent:           "need_phone_consent",
	StateNeed2FA:                    "need_2fa",
	StatePasskeyEnrollment:          "passkey_enrollment",
	StateDisabled:                   "disabled",
	StateNeedAppeal:                 "need_appeal",
	StateChooseAccount:              "choose_account",
	StateRecoveryOptions:            "recovery_options",
	StateHomeAddress:                "home_address",
	StateIdentityVerificationFailed: "identity_verification_failed",
	StateNeedSecurityVerification:   "need_security_verification",
}

var (
	_ [int(stateCount) - len(stateNames)]struct{}
	_ [len(stateNames) - int(stateCount)]struct{}
)

func (s State) String() string {
	if s >= stateCount {
		return "invalid"
	}
	return stateNames[s]
}

// Outcome 状态机的最终返回。
type Outcome struct {
	Status  model.LoginStatus `json:"status"`
	Message string            `json:"message"`
}

func outcome(status model.LoginStatus, msg string) Outcome {
	return Outcome{Status: status, Message: msg}
}

func failed(msg string) Outcome {
	return Outcome{Status: model.LoginStatusFailed, Message: msg}
}
