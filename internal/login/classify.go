package login

import (
	"context"
	"strings"

	"google_account/internal/browser"
)

// Prober 分类时唯一需要的页面能力。
type Prober interface {
	Exists(ctx context.Context, loc browser.Locator) bool
}

var (
	locEmailInput    = browser.CSS("#identifierId")
	locEmailNext     = browser.CSS("#identifierNext")
	locPasswordInput = browser.CSS("input[name='Passwd']")
	locPasswordNext  = browser.CSS("#passwordNext")
	locWrongPassword = browser.XPath("//*[contains(text(), 'Wrong password') or contains(text(), '密码不正确') or contains(text(), '密码错误')]")

	locPhoneInput = browser.XPath("//input[@type='tel' or @id='phoneNumberId']")
	locCodeInput  = browser.XPath("//input[@id='idvAnyPhonePin' or @id='code' or contains(@name, 'code') or contains(@aria-label, 'code') or @autocomplete='one-time-code']")
	locPhoneText  = browser.XPath("//*[contains(text(), 'Verify your phone number') or contains(text(), '验证您的电话号码') or contains(text(), '验证您的手机号码')]")

	locRecoveryEmailOption = browser.XPath("//*[contains(text(), 'Confirm your recovery email') or contains(text(), '确认您的辅助邮箱')]")
	locRecoveryEmailInput  = browser.XPath("//input[@type='email' or @id='knowledge-preregistered-email-response']")
	locPhoneOption         = browser.XPath("//*[contains(text(), 'Get a verification code at') or contains(text(), '获取验证码') or contains(text(), 'Verify your phone number')]")

	locNextButton   = browser.XPath("//button[.//span[contains(text(), 'Next') or contains(text(), '下一步')]] | //button[contains(., 'Next') or contains(., '下一步')]")
	locSendButton   = browser.XPath("//button[.//span[contains(text(), 'Send') or contains(text(), '发送')]]")
	locNotNowButton = browser.XPath("//button[.//span[contains(text(), 'Not now') or contains(text(), 'Skip') or contains(text(), 'Cancel') or contains(text(), '以后再说') or contains(text(), '跳过') or contains(text(), '取消')]]")
	locSaveButton   = browser.XPath("//button[.//span[contains(text(), 'Save') or contains(text(), 'Confirm') or contains(text(), 'Done') or contains(text(), '保存') or contains(text(), '确认') or contains(text(), '完成')]]")
	locTextInputs   = browser.XPath("//input[not(@type='hidden') and not(@type='checkbox') and not(@type='radio')]")

	locUseAnother = browser.XPath("//*[contains(text(), 'Use another account') or contains(text(), '使用其他账号') or contains(text(), '使用其他帐号')]")

	locAppealButton = browser.XPath("//*[self::button or self::a][contains(., 'Start appeal') or contains(., '开始申诉') or contains(., 'Request a review')]")
	locDisabledText = browser.XPath("//*[contains(text(), 'has been disabled') or contains(text(), 'Account disabled') or contains(text(), '已停用') or contains(text(), '已被停用')]")
	locRejectedText = browser.XPath("//*[contains(text(), \"Couldn't sign you in\") or contains(text(), \"couldn't verify\") or contains(text(), \"Couldn't verify\") or contains(text(), '无法验证')]")

	locCaptchaFrame = browser.CSS("iframe[src*='recaptcha']")
)

func accountEntry(email string) browser.Locator {
	return browser.XPath("//*[@data-identifier='" + strings.ToLower(email) + "' or @data-email='" + strings.ToLower(email) + "']")
}

type urlRule struct {
	part  string
	state State
}

// 按顺序匹配，先命中先生效。
var challengeRules = []urlRule{
	{"challenge/recaptcha", StateNeedCaptcha},
	{"challenge/ipp", StateNeedPhoneConsent},
	{"challenge/iap", StateNeedPhone},
	{"challenge/totp", StateNeed2FA},
	{"challenge/az", StateNeed2FA},
	{"challenge/sk", StateNeed2FA},
	{"challenge/ootp", StateNeed2FA},
	{"challenge/bc", StateNeed2FA},
	{"challenge/dp", StateNeed2FA},
	{"challenge/kpe", StateVerifyIdentity},
	{"challenge/selection", StateVerifyIdentity},
	{"uplevelingstep/selection", StateVerifyIdentity},
	{"2step", StateNeed2FA},
}

// Classify 只看 URL 的 host/path 和少量 DOM 探测，不修改页面。
func Classify(ctx context.Context, rawURL string, p Prober) State {
	u := ParseURL(rawURL)

	switch {
	case u.OnHost("myaccount.google.com"):
		return StateLoggedIn
	case u.PathHas("signin/rejected"):
		return StateIdentityVerificationFailed
	case u.PathHas("/disabled"):
		if p.Exists(ctx, locAppealButton) {
			return StateNeedAppeal
		}
		return StateDisabled
	case u.PathHas("accountchooser", "signinchooser"):
		return StateChooseAccount
	case u.PathHas("passkeyenrollment", "speedbump/passkey"):
		return StatePasskeyEnrollment
	case u.PathHas("recoveryoptions", "recovery/options"):
		return StateRecoveryOptions
	case u.PathHas("homeaddress"):
		return StateHomeAddress
	}

	// 密码页会保留 Passwd 输入框，错误提示优先
	if p.Exists(ctx, locPasswordInput) {
		if p.Exists(ctx, locWrongPassword) {
			return StatePasswordError
		}
		return StateNeedPassword
	}
	if p.Exists(ctx, locEmailInput) {
		return StateNeedEmail
	}

	for _, r := range challengeRules {
		if u.PathHas(r.part) {
			return r.state
		}
	}

	if p.Exists(ctx, locRejectedText) {
		return StateIdentityVerificationFailed
	}
	if p.Exists(ctx, locDisabledText) {
		if p.Exists(ctx, locAppealButton) {
			return StateNeedAppeal
		}
		return StateDisabled
	}
	if p.Exists(ctx, locCaptchaFrame) && u.OnHost("accounts.google.com") {
		return StateNeedCaptcha
	}
	if p.Exists(ctx, locPhoneInput) || p.Exists(ctx, locPhoneText) {
		return StateNeedPhone
	}

	if u.PathHas("challenge", "speedbump") {
		if p.Exists(ctx, locNextButton) && !p.Exists(ctx, locTextInputs) {
			return StateVerifyClickNext
		}
		return StateNeedSecurityVerification
	}
	return StateUnknown
}
