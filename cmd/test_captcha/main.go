// test_captcha 打开一个 HubStudio 环境，导航到带 reCAPTCHA 的页面，跑一次完整的识别注入。
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"google_account/internal/captcha"
	"google_account/internal/config"
	"google_account/internal/hubstudio"
	"google_account/internal/logbus"
	"google_account/internal/utils"
)

func main() {
	configPath := flag.String("config", "./config.yaml", "path to config.yaml")
	code := flag.String("env-code", "", "HubStudio containerCode to open")
	target := flag.String("url", "https://www.google.com/recaptcha/api2/demo", "page with a reCAPTCHA widget")
	flag.Parse()

	_ = godotenv.Load()
	if *code == "" {
		fmt.Println("错误: 需要 -env-code")
		os.Exit(2)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("读取配置失败: %v\n", err)
		os.Exit(1)
	}
	cfg.Captcha.Enabled = true

	bus := logbus.New(200)
	logs, cancelLogs := bus.Subscribe(200)
	defer cancelLogs()
	go func() {
		for msg := range logs {
			if d, ok := msg.Data.(logbus.LogData); ok {
				fmt.Printf("[%s] %s %v\n", d.Level, d.Msg, d.Fields)
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	gateway := hubstudio.New(cfg.HubStudio, nil, bus)
	page, closeFn, err := gateway.Launch(ctx, *code)
	if err != nil {
		fmt.Printf("打开浏览器失败: %v\n", err)
		os.Exit(1)
	}
	defer closeFn(context.Background())

	if err := page.Navigate(ctx, *target); err != nil {
		fmt.Printf("打开页面失败: %v\n", err)
		return
	}
	time.Sleep(3 * time.Second)

	solver := captcha.NewSolver(cfg.Captcha, nil, utils.RealClock{}, bus)
	start := time.Now()
	res := solver.Solve(ctx, page)
	fmt.Printf("结果: %s 用时: %s\n", res, time.Since(start).Round(time.Millisecond))
	if res != captcha.Solved {
		os.Exit(1)
	}
}
