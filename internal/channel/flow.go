// Package channel 在已登录的浏览器里创建 YouTube 频道并检测创收门槛。
package channel

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"google_account/internal/browser"
	"google_account/internal/config"
	"google_account/internal/login"
	"google_account/internal/model"
	"google_account/internal/utils"
)

const (
	youtubeHome  = "https://www.youtube.com/"
	studioHome   = "https://studio.youtube.com"
	profileFrame = "profilewidgets.youtube.com"
	nameLength   = 10
)

var (
	locRejected = browser.XPath("//*[contains(text(), \"Couldn't sign you in\") or contains(text(), '无法登录')]")
	locTryAgain = browser.XPath("//button[contains(., 'Try again') or contains(., '重试')]")
	locSignIn   = browser.XPath("//ytd-button-renderer[@id='sign-in-button'] | //a[@aria-label='Sign in' or @aria-label='登录']")

	locCreateButtons = []browser.Locator{
		browser.XPath("//button[@aria-label='Create' or @aria-label='创建']"),
		browser.XPath("//button[@title='Create' or @title='创建']"),
		browser.XPath("//ytd-topbar-menu-button-renderer//button[contains(@aria-label, 'reate')]"),
	}
	locUploadVideo = browser.XPath("//*[contains(text(), 'Upload video') or contains(text(), '上传视频')]")

	locAppearDialog  = browser.XPath("//*[contains(text(), \"How you'll appear\") or contains(text(), '您的显示方式')]")
	locSelectPicture = browser.XPath("//button[@aria-label='Select picture' or contains(., 'Select picture') or contains(., '选择照片')]")
	locProfileFrame  = browser.CSS("iframe[src*='profilewidgets.youtube.com']")
	locFromComputer  = browser.XPath("//*[contains(text(), 'Upload from computer') or contains(text(), 'From computer') or contains(text(), '从计算机上传')]")
	locFileInput     = browser.CSS("input[type='file']")
	locCropDone      = browser.CSS("button[jsname='yTKzd']")
	locSavePicture   = browser.CSS("button[jsname='WCwAu']")

	locNameInputs = []browser.Locator{
		browser.XPath("//input[@maxlength='50' and @required]"),
		browser.XPath("//input[@aria-labelledby='paper-input-label-1']"),
	}
	locCreateChannel = []browser.Locator{
		browser.XPath("//button[@aria-label='Create channel' or @aria-label='创建频道']"),
		browser.XPath("//ytd-button-renderer[@id='create-channel-button']//button"),
	}
	locCreateError = browser.XPath("//*[contains(@class, 'error-message') or @role='alert']")
)

// Verifier 在当前页面上继续登录状态机，频道流程被重定向到验证页时调用。
type Verifier func(ctx context.Context) login.Outcome

type Result struct {
	Status       model.ChannelStatus
	ChannelURL   string
	Monetization model.Monetization
	Message      string
}

type Flow struct {
	cfg     config.ChannelConfig
	avatars *AvatarPool
	clock   utils.Clock
	journal login.Journal
	verify  Verifier
}

func New(cfg config.ChannelConfig, avatars *AvatarPool, clock utils.Clock, journal login.Journal, verify Verifier) *Flow {
	if clock == nil {
		clock = utils.RealClock{}
	}
	return &Flow{cfg: cfg, avatars: avatars, clock: clock, journal: journal, verify: verify}
}

func (f *Flow) log(ctx context.Context, status, msg string) {
	if f.journal != nil {
		f.journal.Record(ctx, "create_channel", status, msg)
	}
}

func (f *Flow) failed(ctx context.Context, msg string) Result {
	f.log(ctx, "failed", msg)
	return Result{Status: model.ChannelStatusFailed, Message: msg}
}

func (f *Flow) sleep(ctx context.Context, d time.Duration) { f.clock.Sleep(ctx, d) }

// Run 已有频道记录时只重新检测门槛，不会重复创建。
func (f *Flow) Run(ctx context.Context, page browser.Page, acc model.Account) Result {
	if acc.ChannelReady() {
		return f.redetect(ctx, page, acc)
	}
	return f.create(ctx, page)
}

func (f *Flow) redetect(ctx context.Context, page browser.Page, acc model.Account) Result {
	f.log(ctx, "info", "账号已有频道，重新检测创收要求")
	if err := page.Navigate(ctx, studioHome); err != nil {
		return f.failed(ctx, "打开 YouTube Studio 失败: "+err.Error())
	}
	f.sleep(ctx, 5*time.Second)
	if login.ParseURL(page.URL()).OnHost("accounts.google.com") {
		if res, ok := f.passVerification(ctx); !ok {
			return res
		}
	}
	return f.withMonetization(ctx, page, acc.ChannelURL, "频道已存在")
}

func (f *Flow) create(ctx context.Context, page browser.Page) Result {
	if f.avatars == nil {
		return f.failed(ctx, "没有可用的头像文件 (no avatar)")
	}
	avatar, err := f.avatars.Pick(ctx)
	if err != nil {
		return f.failed(ctx, "没有可用的头像文件，请在设置中配置头像文件夹路径 (no avatar)")
	}
	consumed := false
	defer func() {
		if !consumed {
			f.avatars.Release(avatar)
		}
	}()

	if res, ok := f.openYouTube(ctx, page); !ok {
		return res
	}

	if err := browser.ClickFirst(ctx, page, locCreateButtons...); err != nil {
		return f.failed(ctx, "未找到Create按钮，可能页面结构已改变")
	}
	f.sleep(ctx, time.Second)
	if err := page.Click(ctx, locUploadVideo); err != nil {
		return f.failed(ctx, "未找到Upload video选项，菜单结构可能已改变")
	}
	f.sleep(ctx, 5*time.Second)

	// 直接进入上传页说明已经有频道
	if cur := page.URL(); login.ParseURL(cur).PathHas("upload") {
		id := ChannelID(cur)
		if id == "" {
			return f.failed(ctx, "检测到已有频道但无法提取频道ID")
		}
		return f.withMonetization(ctx, page, channelURL(id), "账号已有频道")
	}

	if !page.Exists(ctx, locAppearDialog) {
		if onChannelPage(page.URL()) {
			return f.withMonetization(ctx, page, page.URL(), "账号已有频道")
		}
		return f.failed(ctx, "未检测到创建频道弹窗，请手动检查账号状态")
	}
	f.log(ctx, "info", "已打开创建频道弹窗")

	if err := page.Click(ctx, locSelectPicture); err != nil {
		return f.failed(ctx, "无法点击Select picture按钮")
	}
	f.sleep(ctx, 3*time.Second)

	widget, err := f.uploadAvatar(ctx, page, avatar)
	if err != nil {
		return f.failed(ctx, "上传头像失败: "+err.Error())
	}
	f.log(ctx, "info", "头像已上传")
	if err := f.confirmCrop(ctx, widget, page); err != nil {
		return f.failed(ctx, err.Error())
	}

	name := utils.RandomName(nameLength)
	nameInput, ok := browser.FirstExisting(ctx, page, locNameInputs...)
	if !ok {
		return f.failed(ctx, "未找到频道名称输入框")
	}
	if err := page.Input(ctx, nameInput, name); err != nil {
		return f.failed(ctx, "输入频道名称失败: "+err.Error())
	}
	if err := browser.ClickFirst(ctx, page, locCreateChannel...); err != nil {
		return f.failed(ctx, "未找到创建频道按钮")
	}
	f.log(ctx, "info", "已提交创建频道: "+name)
	f.sleep(ctx, f.cfg.Wait())

	cur := page.URL()
	if !onChannelPage(cur) {
		msg := "频道创建失败"
		if t, err := page.Text(ctx, locCreateError); err == nil && strings.TrimSpace(t) != "" {
			msg += ": " + strings.TrimSpace(t)
		}
		return f.failed(ctx, msg)
	}

	consumed = true
	if err := f.avatars.Consume(avatar); err != nil {
		f.log(ctx, "warning", "删除已使用头像失败: "+err.Error())
	}
	url := cur
	if id := ChannelID(cur); id != "" {
		url = channelURL(id)
	}
	return f.withMonetization(ctx, page, url, "频道创建成功")
}

// openYouTube 打开首页，处理登录被拒与重定向到验证页的情况。
func (f *Flow) openYouTube(ctx context.Context, page browser.Page) (Result, bool) {
	if err := page.Navigate(ctx, youtubeHome); err != nil {
		return f.failed(ctx, "浏览器连接失败: "+err.Error()), false
	}
	f.sleep(ctx, 5*time.Second)

	if login.ParseURL(page.URL()).PathHas("signin/rejected") || page.Exists(ctx, locRejected) {
		f.log(ctx, "warning", "登录被拒绝，尝试点击Try again")
		if err := page.Click(ctx, locTryAgain); err != nil {
			return f.failed(ctx, "登录被拒绝且无法点击Try again按钮"), false
		}
		f.sleep(ctx, 5*time.Second)
	}

	if login.ParseURL(page.URL()).OnHost("accounts.google.com") {
		if res, ok := f.passVerification(ctx); !ok {
			return res, false
		}
		if !login.ParseURL(page.URL()).OnHost("youtube.com") {
			if err := page.Navigate(ctx, youtubeHome); err != nil {
				return f.failed(ctx, "浏览器连接失败: "+err.Error()), false
			}
			f.sleep(ctx, 5*time.Second)
		}
	}

	if page.Exists(ctx, locSignIn) {
		return f.failed(ctx, "账号未登录，请先完成登录"), false
	}
	return Result{}, true
}

func (f *Flow) passVerification(ctx context.Context) (Result, bool) {
	if f.verify == nil {
		return f.failed(ctx, "无法通过验证，请手动检查"), false
	}
	f.log(ctx, "info", "检测到账号验证页，继续登录流程")
	out := f.verify(ctx)
	if !out.Status.LoggedIn() {
		return f.failed(ctx, fmt.Sprintf("账号验证失败: %s %s", out.Status, out.Message)), false
	}
	return Result{}, true
}

// uploadAvatar 依次尝试同源 iframe、跨域 iframe、系统文件框，返回裁剪界面所在的页面。
func (f *Flow) uploadAvatar(ctx context.Context, page browser.Page, path string) (browser.Page, error) {
	paths := []string{path}
	var frames []browser.Page
	if fr, err := page.Frame(ctx, locProfileFrame); err == nil {
		frames = append(frames, fr)
	}
	if fr, err := page.CrossOriginFrame(ctx, profileFrame); err == nil {
		frames = append(frames, fr)
	}

	for _, fr := range frames {
		if fr.Exists(ctx, locFromComputer) {
			_ = fr.Click(ctx, locFromComputer)
			f.sleep(ctx, 2*time.Second)
		}
		if err := fr.SetFiles(ctx, locFileInput, paths); err == nil {
			return fr, nil
		}
	}

	for _, target := range append(frames, page) {
		trigger, ok := browser.FirstExisting(ctx, target, locFromComputer, locFileInput)
		if !ok {
			continue
		}
		if err := target.ChooseFile(ctx, trigger, paths); err == nil {
			return target, nil
		}
	}
	return nil, errors.New("未找到文件上传入口")
}

// confirmCrop 裁剪框出现较慢，Done 按钮最多等 6 次。
func (f *Flow) confirmCrop(ctx context.Context, widget, page browser.Page) error {
	clicked := false
	for i := 0; i < 6 && !clicked; i++ {
		if i > 0 {
			f.sleep(ctx, 3*time.Second)
		}
		for _, p := range []browser.Page{widget, page} {
			if p.Exists(ctx, locCropDone) && p.Click(ctx, locCropDone) == nil {
				clicked = true
				break
			}
		}
	}
	if !clicked {
		return errors.New("头像裁剪确认失败")
	}
	f.sleep(ctx, 2*time.Second)

	for _, p := range []browser.Page{widget, page} {
		if p.Exists(ctx, locSavePicture) && p.Click(ctx, locSavePicture) == nil {
			f.sleep(ctx, 3*time.Second)
			return nil
		}
	}
	return errors.New("保存头像失败")
}

// withMonetization 门槛检测失败不影响频道已创建的结果。
func (f *Flow) withMonetization(ctx context.Context, page browser.Page, url, prefix string) Result {
	res := Result{Status: model.ChannelStatusCreated, ChannelURL: url}
	m, raw, err := f.DetectMonetization(ctx, page, url)
	if err != nil {
		res.Message = fmt.Sprintf("%s: %s，创收要求检测失败: %v", prefix, url, err)
		f.log(ctx, "warning", res.Message)
		return res
	}
	res.Monetization = m
	res.Message = fmt.Sprintf("%s: %s，创收要求: %s (%s)", prefix, url, m, raw)
	f.log(ctx, "success", res.Message)
	return res
}

// onChannelPage Studio 或 /channel/ 页面，只看 host 和 path。
func onChannelPage(raw string) bool {
	u := login.ParseURL(raw)
	return u.OnHost("studio.youtube.com") || u.PathHas("/channel")
}
