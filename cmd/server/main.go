package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"google_account/internal/appeal"
	"google_account/internal/captcha"
	"google_account/internal/channel"
	"google_account/internal/config"
	"google_account/internal/engine"
	"google_account/internal/httpapi"
	"google_account/internal/hubstudio"
	"google_account/internal/logbus"
	"google_account/internal/notify"
	"google_account/internal/pool"
	"google_account/internal/sms"
	"google_account/internal/store/sqlite"
	"google_account/internal/utils"
)

func main() {
	configPath := flag.String("config", "./config.yaml", "path to config.yaml")
	envPath := flag.String("env", ".env", "optional .env file with secrets")
	flag.Parse()

	if err := godotenv.Load(*envPath); err != nil && !os.IsNotExist(err) {
		log.Fatalf("load %s: %v", *envPath, err)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	bus := logbus.New(500)
	bus.Log("info", "服务启动中", map[string]any{"addr": cfg.Server.Addr})

	ctx := context.Background()
	store, err := sqlite.Open(ctx, cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("open sqlite: %v", err)
	}
	defer store.Close()

	clock := utils.RealClock{}
	gateway := hubstudio.New(cfg.HubStudio, store, bus)
	solver := captcha.NewSolver(cfg.Captcha, store, clock, bus)
	avatars := channel.NewAvatarPool(cfg.Channel, store)
	notifier := notify.NewEmailNotifier(store, bus)

	var texts appeal.TextSource
	if cfg.Appeal.File != "" {
		src := appeal.NewFileTextSource(cfg.Appeal)
		if rows, err := src.Load(); err != nil {
			bus.Log("warn", "读取申诉文案失败", map[string]any{"file": cfg.Appeal.File, "error": err.Error()})
		} else {
			bus.Log("info", "已加载申诉文案", map[string]any{"count": len(rows)})
		}
		texts = src
	}

	eng := engine.New(engine.Options{
		Store:       store,
		Pool:        pool.New(store, gateway, clock, bus, cfg.Sync.PageSize),
		Browsers:    gateway,
		Provisioner: gateway,
		SMS:         sms.New(cfg.SMS, clock, bus),
		Captcha:     solver,
		Appeals:     texts,
		Avatars:     avatars,
		Bus:         bus,
		Notifier:    notifier,
		Clock:       clock,
		Login:       cfg.Login,
		Worker:      cfg.Worker,
		Channel:     cfg.Channel,
	})

	stopSync, err := eng.StartSyncSchedule(cfg.Sync.Cron)
	if err != nil {
		log.Fatalf("sync schedule %q: %v", cfg.Sync.Cron, err)
	}

	api := httpapi.New(httpapi.Options{
		Cfg:     cfg,
		Bus:     bus,
		Store:   store,
		Engine:  eng,
		Gateway: gateway,
		Captcha: solver,
		Avatars: avatars,
	})

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-stop:
		bus.Log("info", "收到退出信号", map[string]any{"signal": sig.String()})
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			bus.Log("error", "HTTP 服务异常", map[string]any{"error": err.Error()})
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	stopSync()
	_ = server.Shutdown(shutdownCtx)
	// 正在处理的账号会跑完当前流程
	_ = eng.Close(shutdownCtx)
	_ = notifier.Close(shutdownCtx)
	bus.Log("info", "服务已停止", nil)
}
