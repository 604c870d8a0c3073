package login

import (
	"context"
	"strings"

	"google_account/internal/captcha"
	"google_account/internal/model"
)

// handlerFunc 返回 done=true 表示到达终态。
// 处理函数不能引用 loop，否则 stateHandlers 会形成初始化环。
type handlerFunc func(m *Machine, ctx context.Context) (Outcome, bool)

var stateHandlers = [...]handlerFunc{
	StateUnknown:                    (*Machine).onUnknown,
	StateLoggedIn:                   (*Machine).onLoggedIn,
	StateNeedEmail:                  (*Machine).onNeedEmail,
	StateNeedPassword:               (*Machine).onNeedPassword,
	StatePasswordError:              (*Machine).onPasswordError,
	StateVerifyIdentity:             (*Machine).onVerifyIdentity,
	StateVerifyClickNext:            (*Machine).onVerifyClickNext,
	StateNeedCaptcha:                (*Machine).onNeedCaptcha,
	StateNeedPhone:                  (*Machine).onNeedPhone,
	StateNeedPhoneConsent:           (*Machine).onNeedPhoneConsent,
	StateNeed2FA:                    (*Machine).onNeed2FA,
	StatePasskeyEnrollment:          (*Machine).onPasskeyEnrollment,
	StateDisabled:                   (*Machine).onDisabled,
	StateNeedAppeal:                 (*Machine).onNeedAppeal,
	StateChooseAccount:              (*Machine).onChooseAccount,
	StateRecoveryOptions:            (*Machine).onRecoveryOptions,
	StateHomeAddress:                (*Machine).onHomeAddress,
	StateIdentityVerificationFailed: (*Machine).onIdentityVerificationFailed,
	StateNeedSecurityVerification:   (*Machine).onNeedSecurityVerification,
}

var (
	_ [int(stateCount) - len(stateHandlers)]struct{}
	_ [len(stateHandlers) - int(stateCount)]struct{}
)

func next() (Outcome, bool) { return Outcome{}, false }

func done(o Outcome) (Outcome, bool) { return o, true }

func (m *Machine) onUnknown(ctx context.Context) (Outcome, bool) {
	m.log(ctx, "wait", "info", "页面状态未知，等待后重新检测")
	m.clock.Sleep(ctx, m.cfg.UnknownWait())
	return next()
}

func (m *Machine) onLoggedIn(ctx context.Context) (Outcome, bool) {
	return done(m.securityCheck(ctx))
}

func (m *Machine) onNeedEmail(ctx context.Context) (Outcome, bool) {
	if err := m.page.Input(ctx, locEmailInput, m.account.Email); err != nil {
		return done(failed("输入邮箱失败: " + err.Error()))
	}
	m.log(ctx, "email", "info", "已输入邮箱")
	m.submit(ctx, locEmailNext, locNextButton)
	return next()
}

func (m *Machine) onNeedPassword(ctx context.Context) (Outcome, bool) {
	if err := m.page.Input(ctx, locPasswordInput, m.account.Password); err != nil {
		return done(failed("输入密码失败: " + err.Error()))
	}
	m.log(ctx, "password", "info", "已输入密码")
	m.submit(ctx, locPasswordNext, locNextButton)

	// 提交后立即看结果页，终态直接返回
	switch st := Classify(ctx, m.page.URL(), m.page); st {
	case StateLoggedIn:
		return done(m.securityCheck(ctx))
	case StatePasswordError:
		return m.onPasswordError(ctx)
	case StateDisabled:
		return m.onDisabled(ctx)
	case StateNeed2FA:
		return m.onNeed2FA(ctx)
	case StateIdentityVerificationFailed:
		return m.onIdentityVerificationFailed(ctx)
	default:
		m.log(ctx, "password", "info", "密码已提交，下一步: "+st.String())
		return next()
	}
}

func (m *Machine) onPasswordError(ctx context.Context) (Outcome, bool) {
	return done(outcome(model.LoginStatusPasswordError, "密码错误"))
}

func (m *Machine) onVerifyIdentity(ctx context.Context) (Outcome, bool) {
	if strings.TrimSpace(m.account.BackupEmail) == "" {
		return done(failed("需要验证辅助邮箱，但账号未配置辅助邮箱 (no backup email configured)"))
	}
	if m.page.Exists(ctx, locRecoveryEmailOption) {
		if err := m.page.Click(ctx, locRecoveryEmailOption); err != nil {
			return done(failed("点击辅助邮箱验证选项失败: " + err.Error()))
		}
		m.settle(ctx)
	} else if !m.page.Exists(ctx, locRecoveryEmailInput) {
		// 没有邮箱选项时尝试手机验证
		if m.page.Exists(ctx, locPhoneOption) {
			m.log(ctx, "verify_identity", "info", "没有辅助邮箱选项，改用手机验证")
			if err := m.page.Click(ctx, locPhoneOption); err != nil {
				return done(failed("点击手机验证选项失败: " + err.Error()))
			}
			m.settle(ctx)
			return next()
		}
		return done(failed("未找到辅助邮箱验证选项"))
	}
	if err := m.page.Input(ctx, locRecoveryEmailInput, m.account.BackupEmail); err != nil {
		return done(failed("输入辅助邮箱失败: " + err.Error()))
	}
	m.log(ctx, "verify_identity", "info", "已输入辅助邮箱")
	m.submit(ctx, locNextButton)
	return next()
}

func (m *Machine) onVerifyClickNext(ctx context.Context) (Outcome, bool) {
	if err := m.page.Click(ctx, locNextButton); err != nil {
		return done(failed("点击下一步失败: " + err.Error()))
	}
	m.log(ctx, "verify_click_next", "info", "已点击下一步")
	m.settle(ctx)
	if Classify(ctx, m.page.URL(), m.page) == StateNeedCaptcha {
		return m.onNeedCaptcha(ctx)
	}
	return next()
}

func (m *Machine) onNeedCaptcha(ctx context.Context) (Outcome, bool) {
	if m.deps.Captcha == nil {
		return done(failed("需要人机验证，但验证码服务未启用"))
	}
	res := m.deps.Captcha.Solve(ctx, m.page)
	switch res {
	case captcha.NotEnabled:
		return done(failed("需要人机验证，但验证码服务未启用"))
	case captcha.NoAPIKey:
		return done(failed("需要人机验证，但未配置 2captcha API Key"))
	case captcha.Solved:
		m.log(ctx, "captcha", "success", "人机验证已通过")
		m.settle(ctx)
	default:
		m.log(ctx, "captcha", "failed", "人机验证失败: "+string(res))
	}
	return next()
}

func (m *Machine) onNeedPhone(ctx context.Context) (Outcome, bool) {
	return m.verifyPhone(ctx, false)
}

func (m *Machine) onNeedPhoneConsent(ctx context.Context) (Outcome, bool) {
	return m.verifyPhone(ctx, true)
}

func (m *Machine) onNeed2FA(ctx context.Context) (Outcome, bool) {
	return done(outcome(model.LoginStatusNeed2FA, "需要2FA验证"))
}

func (m *Machine) onPasskeyEnrollment(ctx context.Context) (Outcome, bool) {
	if err := m.page.Click(ctx, locNotNowButton); err != nil {
		m.log(ctx, "passkey", "warning", "未找到跳过通行密钥按钮")
	} else {
		m.log(ctx, "passkey", "info", "已跳过通行密钥")
	}
	m.settle(ctx)
	return next()
}

func (m *Machine) onDisabled(ctx context.Context) (Outcome, bool) {
	return done(outcome(model.LoginStatusDisabled, "账号被禁用"))
}

func (m *Machine) onNeedAppeal(ctx context.Context) (Outcome, bool) {
	if m.deps.Appeal == nil {
		return done(outcome(model.LoginStatusAppealFailed, "账号被禁用，申诉流程未配置"))
	}
	m.log(ctx, "appeal", "info", "账号被禁用，开始申诉")
	status, msg := m.deps.Appeal.Submit(ctx, m.page, m.account)
	return done(outcome(status, msg))
}

func (m *Machine) onChooseAccount(ctx context.Context) (Outcome, bool) {
	entry := accountEntry(m.account.Email)
	if m.page.Exists(ctx, entry) {
		if err := m.page.Click(ctx, entry); err == nil {
			m.log(ctx, "choose_account", "info", "已选择账号")
			m.settle(ctx)
			return next()
		}
	}
	if err := m.page.Click(ctx, locUseAnother); err != nil {
		return done(failed("账号选择页未找到目标账号: " + err.Error()))
	}
	m.log(ctx, "choose_account", "info", "列表中没有该账号，使用其他账号")
	m.settle(ctx)
	return next()
}

func (m *Machine) onRecoveryOptions(ctx context.Context) (Outcome, bool) {
	if m.page.Exists(ctx, locPhoneInput) && m.deps.Phones != nil {
		if phone, ok, err := m.deps.Phones.BoundPhone(ctx, m.account.ID); err == nil && ok {
			if err := m.page.Input(ctx, locPhoneInput, "+"+phone.Number); err == nil {
				m.log(ctx, "recovery_options", "info", "已填写辅助手机号")
				m.submit(ctx, locSaveButton, locNextButton)
				return next()
			}
		}
	}
	m.skip(ctx, "recovery_options")
	return next()
}

func (m *Machine) onHomeAddress(ctx context.Context) (Outcome, bool) {
	m.skip(ctx, "home_address")
	return next()
}

func (m *Machine) onIdentityVerificationFailed(ctx context.Context) (Outcome, bool) {
	return done(outcome(model.LoginStatusIdentityVerificationFailed, "无法验证身份"))
}

// onNeedSecurityVerification 能跳过就跳过，否则按“登录成功但需要验证”结束。
func (m *Machine) onNeedSecurityVerification(ctx context.Context) (Outcome, bool) {
	if m.page.Exists(ctx, locNotNowButton) {
		m.skip(ctx, "security_verification")
		return next()
	}
	return done(outcome(model.LoginStatusSuccessWithVerification, "登录后需要额外安全验证"))
}

func (m *Machine) skip(ctx context.Context, action string) {
	if err := m.page.Click(ctx, locNotNowButton); err != nil {
		m.log(ctx, action, "warning", "未找到跳过按钮")
	} else {
		m.log(ctx, action, "info", "已跳过")
	}
	m.settle(ctx)
}
