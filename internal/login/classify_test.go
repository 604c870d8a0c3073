package login

import (
	"context"
	"testing"

	"google_account/internal/browser"
)

type probe map[string]bool

func (p probe) Exists(_ context.Context, loc browser.Locator) bool { return p[loc.String()] }

func with(locs ...browser.Locator) probe {
	p := probe{}
	for _, l := range locs {
		p[l.String()] = true
	}
	return p
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		url  string
		dom  probe
		want State
	}{
		{"myaccount", "https://myaccount.google.com/?pli=1", with(), StateLoggedIn},
		{"password settings", "https://myaccount.google.com/signinoptions/password", with(), StateLoggedIn},
		{"identifier", "https://accounts.google.com/v3/signin/identifier?hl=en", with(locEmailInput), StateNeedEmail},
		{"password", "https://accounts.google.com/v3/signin/challenge/pwd", with(locPasswordInput), StateNeedPassword},
		{"wrong password", "https://accounts.google.com/v3/signin/challenge/pwd", with(locPasswordInput, locWrongPassword), StatePasswordError},
		{"recaptcha", "https://accounts.google.com/v3/signin/challenge/recaptcha", with(), StateNeedCaptcha},
		{"iap", "https://accounts.google.com/v3/signin/challenge/iap", with(locPhoneInput), StateNeedPhone},
		{"ipp", "https://accounts.google.com/v3/signin/challenge/ipp/consent", with(), StateNeedPhoneConsent},
		{"totp", "https://accounts.google.com/v3/signin/challenge/totp", with(), StateNeed2FA},
		{"2step", "https://accounts.google.com/signin/v2/2step", with(), StateNeed2FA},
		{"kpe", "https://accounts.google.com/v3/signin/challenge/kpe", with(locRecoveryEmailInput), StateVerifyIdentity},
		{"selection", "https://accounts.google.com/v3/signin/challenge/selection", with(locRecoveryEmailOption), StateVerifyIdentity},
		{"chooser", "https://accounts.google.com/v3/signin/accountchooser", with(), StateChooseAccount},
		{"passkey", "https://accounts.google.com/signin/speedbump/passkeyenrollment", with(), StatePasskeyEnrollment},
		{"recovery", "https://gds.google.com/web/recoveryoptions", with(), StateRecoveryOptions},
		{"home address", "https://gds.google.com/web/homeaddress", with(), StateHomeAddress},
		{"rejected", "https://accounts.google.com/v3/signin/rejected", with(), StateIdentityVerificationFailed},
		{"disabled", "https://accounts.google.com/v3/signin/disabled/explanation", with(), StateDisabled},
		{"disabled appeal", "https://accounts.google.com/v3/signin/disabled/explanation", with(locAppealButton), StateNeedAppeal},
		{"lone next", "https://accounts.google.com/v3/signin/challenge/dummy", with(locNextButton), StateVerifyClickNext},
		{"next with input", "https://accounts.google.com/v3/signin/challenge/dummy", with(locNextButton, locTextInputs), StateNeedSecurityVerification},
		{"speedbump", "https://accounts.google.com/speedbump/idvreenable", with(), StateNeedSecurityVerification},
		{"phone by text", "https://accounts.google.com/v3/signin/something", with(locPhoneText), StateNeedPhone},
		{"blank", "about:blank", with(), StateUnknown},
		// continue= 里的地址不参与分类
		{"identifier with continue", "https://accounts.google.com/v3/signin/identifier?continue=https%3A%2F%2Fmyaccount.google.com%2F&flowName=GlifWebSignIn&flowEntry=ServiceLogin", with(locEmailInput), StateNeedEmail},
		{"password with continue", "https://accounts.google.com/v3/signin/challenge/pwd?TL=AG7eRGB&cid=2&continue=https%3A%2F%2Fmyaccount.google.com%2Fsigninoptions%2Fpassword&flowName=GlifWebSignIn", with(locPasswordInput), StateNeedPassword},
		{"plain continue", "https://accounts.google.com/ServiceLogin?continue=https://myaccount.google.com/&followup=https://myaccount.google.com/", with(), StateUnknown},
		{"challenge named in query", "https://accounts.google.com/v3/signin/identifier?continue=https%3A%2F%2Faccounts.google.com%2Fsignin%2Frejected%2Fchallenge%2Frecaptcha", with(locEmailInput), StateNeedEmail},
		{"myaccount with followup", "https://myaccount.google.com/?utm_source=sign_in_no_continue&pli=1", with(), StateLoggedIn},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(context.Background(), tc.url, tc.dom); got != tc.want {
				t.Fatalf("Classify(%s) = %s, want %s", tc.url, got, tc.want)
			}
		})
	}
}

func TestEveryStateHasHandlerAndName(t *testing.T) {
	for s := State(0); s < stateCount; s++ {
		if stateHandlers[s] == nil {
			t.Errorf("state %d has no handler", s)
		}
		if stateNames[s] == "" {
			t.Errorf("state %d has no name", s)
		}
	}
	if State(stateCount).String() != "invalid" {
		t.Fatalf("out of range state should be invalid")
	}
}

func TestPageURL(t *testing.T) {
	u := ParseURL("https://Accounts.Google.com/v3/signin/Challenge/PWD?continue=https%3A%2F%2Fmyaccount.google.com%2F")
	if u.Host != "accounts.google.com" || u.Path != "/v3/signin/challenge/pwd" {
		t.Fatalf("unexpected parse %+v", u)
	}
	if u.OnHost("myaccount.google.com") || u.PathHas("myaccount") {
		t.Fatalf("query leaked into host/path: %+v", u)
	}
	if !u.OnHost("google.com") || !u.OnHost("accounts.google.com") {
		t.Fatalf("subdomain match failed: %+v", u)
	}
	if ParseURL("https://myaccount.google.com.example.net/").OnHost("myaccount.google.com") {
		t.Fatalf("suffix host should not match")
	}
	if got := ParseURL("::not a url"); got != (PageURL{}) {
		t.Fatalf("bad url should parse empty, got %+v", got)
	}
}
