package login

import (
	"context"

	"google_account/internal/model"
)

// securityCheck 登录后打开改密页：直接进入算成功，被要求额外验证算 success_with_verification。
// 要求重新输入密码时只输入一次。
func (m *Machine) securityCheck(ctx context.Context) Outcome {
	m.log(ctx, "security_check", "info", "登录成功，检查账号安全状态")
	if err := m.page.Navigate(ctx, passwordSettingsURL); err != nil {
		// 浏览器或网关故障，不能据此判断账号是否需要额外验证
		m.log(ctx, "browser", "failed", "打开安全检查页面失败: "+err.Error())
		return failed("浏览器连接异常，安全检查页面打开失败: " + err.Error())
	}
	m.settle(ctx)

	reentered := false
	for {
		u := ParseURL(m.page.URL())
		switch {
		case u.PathHas("signin/rejected") || m.page.Exists(ctx, locRejectedText):
			return outcome(model.LoginStatusIdentityVerificationFailed, "登录后安全检查：无法验证身份")
		case u.OnHost("myaccount.google.com"):
			return outcome(model.LoginStatusSuccess, "登录成功")
		case m.page.Exists(ctx, locPasswordInput) && !reentered:
			reentered = true
			if err := m.page.Input(ctx, locPasswordInput, m.account.Password); err != nil {
				return outcome(model.LoginStatusSuccessWithVerification, "登录成功，但安全检查要求重新验证")
			}
			m.log(ctx, "security_check", "info", "安全检查要求重新输入密码")
			m.submit(ctx, locPasswordNext, locNextButton)
		case u.OnHost("accounts.google.com"):
			return outcome(model.LoginStatusSuccessWithVerification, "登录成功，但需要额外安全验证")
		default:
			return outcome(model.LoginStatusSuccess, "登录成功")
		}
	}
}
