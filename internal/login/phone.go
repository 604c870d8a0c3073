package login

import (
	"context"
	"fmt"
	"strings"

	"google_account/internal/model"
)

// verifyPhone consent=true 时页面已显示号码，只需点发送。
func (m *Machine) verifyPhone(ctx context.Context, consent bool) (Outcome, bool) {
	if m.deps.Phones == nil || m.deps.SMS == nil {
		return done(outcome(model.LoginStatusNeedPhone, "需要手机验证，但手机号池未配置"))
	}
	phone, ok, err := m.deps.Phones.AcquirePhone(ctx, m.account.ID)
	if err != nil {
		return done(failed("获取手机号失败: " + err.Error()))
	}
	if !ok {
		return done(outcome(model.LoginStatusNeedPhone, "需要手机验证，但没有可用的手机号"))
	}
	if strings.TrimSpace(phone.SMSURL) == "" {
		m.releasePhone(ctx, phone)
		return done(failed(fmt.Sprintf("手机号 +%s 没有配置接码URL", phone.Number)))
	}
	m.log(ctx, "phone", "info", fmt.Sprintf("已获取手机号 +%s", phone.Number))

	if !consent && m.page.Exists(ctx, locPhoneOption) && !m.page.Exists(ctx, locPhoneInput) {
		_ = m.page.Click(ctx, locPhoneOption)
		m.settle(ctx)
	}
	if m.page.Exists(ctx, locPhoneInput) {
		if err := m.page.Input(ctx, locPhoneInput, "+"+phone.Number); err != nil {
			m.releasePhone(ctx, phone)
			return done(failed("输入手机号失败: " + err.Error()))
		}
		m.log(ctx, "phone", "info", "已输入手机号")
	} else {
		m.log(ctx, "phone", "info", "页面已保存手机号，直接发送验证码")
	}

	// 以点击发送的时刻为界，过滤之前残留的验证码
	requestedAt := m.clock.Now()
	m.submit(ctx, locSendButton, locNextButton)

	m.log(ctx, "sms", "info", "开始获取验证码")
	code, err := m.deps.SMS.GetCode(ctx, phone.SMSURL, requestedAt)
	if err != nil || code == "" {
		m.releasePhone(ctx, phone)
		return done(failed("获取验证码失败（超过最大重试次数）"))
	}
	m.log(ctx, "sms", "success", "已获取验证码")

	if err := m.page.Input(ctx, locCodeInput, code); err != nil {
		m.releasePhone(ctx, phone)
		return done(failed("输入验证码失败: " + err.Error()))
	}
	m.submit(ctx, locNextButton)

	if err := m.deps.Phones.BindPhone(ctx, m.account.ID, phone.ID); err != nil {
		m.log(ctx, "phone", "warning", "绑定手机号失败: "+err.Error())
	} else {
		m.account.PhoneID = phone.ID
		m.log(ctx, "phone", "success", fmt.Sprintf("手机验证完成，已绑定 +%s", phone.Number))
	}
	return next()
}

func (m *Machine) releasePhone(ctx context.Context, phone model.Phone) {
	if phone.Used {
		return
	}
	if err := m.deps.Phones.ReleasePhone(context.WithoutCancel(ctx), phone.ID); err != nil {
		m.log(ctx, "phone", "warning", "释放手机号失败: "+err.Error())
	}
}
