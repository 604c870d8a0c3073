package hubstudio

import (
	"context"
	"fmt"
	"sync"
	"time"

	"google_account/internal/browser"
)

// Session 一次启动的远程浏览器。Close 幂等。
type Session struct {
	ContainerCode string
	DebugPort     int
	DriverPath    string
	Page          browser.Page

	client *Client
	cancel context.CancelFunc
	once   sync.Once
}

// Open 启动环境并通过调试端口接管第一个标签页。
func (c *Client) Open(ctx context.Context, containerCode string) (*Session, error) {
	res, err := c.StartBrowser(ctx, containerCode)
	if err != nil {
		return nil, err
	}
	// CDP 连接的生命周期跟随 Session，而不是调用方的 ctx
	bctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	_, page, err := browser.Attach(bctx, res.DebuggingPort)
	if err != nil {
		cancel()
		c.Close(context.WithoutCancel(ctx), containerCode)
		return nil, fmt.Errorf("attach %s: %w", containerCode, err)
	}
	c.bus.Log("info", "浏览器已启动", map[string]any{
		"containerCode": containerCode,
		"debugPort":     res.DebuggingPort,
	})
	return &Session{
		ContainerCode: containerCode,
		DebugPort:     res.DebuggingPort,
		DriverPath:    res.WebDriver,
		Page:          page,
		client:        c,
		cancel:        cancel,
	}, nil
}

func (s *Session) Close(ctx context.Context) {
	if s == nil {
		return
	}
	s.once.Do(func() {
		// 只断开 CDP，进程由 HubStudio 负责关闭
		if s.cancel != nil {
			s.cancel()
		}
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
		defer cancel()
		s.client.Close(ctx, s.ContainerCode)
	})
}

// Close 尽力关闭环境，失败只记录日志。
func (c *Client) Close(ctx context.Context, containerCode string) bool {
	if err := c.StopBrowser(ctx, containerCode); err != nil {
		c.bus.Log("warn", "关闭浏览器失败", map[string]any{
			"containerCode": containerCode,
			"error":         err.Error(),
		})
		return false
	}
	return true
}

// Launch 与 Open 相同，只返回页面和关闭函数。
func (c *Client) Launch(ctx context.Context, containerCode string) (browser.Page, func(context.Context), error) {
	s, err := c.Open(ctx, containerCode)
	if err != nil {
		return nil, nil, err
	}
	return s.Page, s.Close, nil
}
