// Package ws 通过 websocket 推送日志总线消息：先发快照，再推实时消息。
package ws

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"google_account/internal/logbus"
)

const (
	writeWait  = 5 * time.Second
	pingPeriod = 30 * time.Second
)

type Handler struct {
	bus          *logbus.Bus
	allowOrigins []string
	upgrader     websocket.Upgrader
}

func NewHandler(bus *logbus.Bus, allowOrigins []string) *Handler {
	h := &Handler{
		bus:          bus,
		allowOrigins: allowOrigins,
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin: h.checkOrigin,
	}
	return h
}

// typeFilter 解析 ?types=log,batch；为空表示全部。
func typeFilter(r *http.Request) map[string]bool {
	raw := strings.TrimSpace(r.URL.Query().Get("types"))
	if raw == "" {
		return nil
	}
	out := map[string]bool{}
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out[t] = true
		}
	}
	return out
}

func wanted(filter map[string]bool, msg logbus.Message) bool {
	return filter == nil || filter[msg.Type]
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	filter := typeFilter(r)
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	// 先订阅再取快照，避免中间的消息丢失；可能重复一两条
	ch, cancel := h.bus.Subscribe(256)
	defer cancel()

	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	for _, msg := range h.bus.Snapshot() {
		if !wanted(filter, msg) {
			continue
		}
		if err := conn.WriteJSON(msg); err != nil {
			return
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-done:
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if !wanted(filter, msg) {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}
	}
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range h.allowOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}
