// mock 本地联调用：模拟 HubStudio 本地 API、短信转发地址和 2captcha 接口。
package main

import (
	crand "crypto/rand"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type env struct {
	ContainerCode string `json:"containerCode"`
	ContainerName string `json:"containerName"`
	TagName       string `json:"tagName,omitempty"`
	ProxyTypeName string `json:"proxyTypeName,omitempty"`
}

type mockState struct {
	mu       sync.Mutex
	envs     []env
	tasks    map[string]int
	debugger int
}

func writeEnvelope(w http.ResponseWriter, code int, msg string, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"code": code, "msg": msg, "data": data})
}

func main() {
	addr := flag.String("addr", ":6873", "listen address")
	envCount := flag.Int("envs", 5, "number of pre-created environments")
	debugPort := flag.Int("debug-port", 9222, "CDP port reported by browser/start")
	flag.Parse()

	st := &mockState{tasks: map[string]int{}, debugger: *debugPort}
	for i := 0; i < *envCount; i++ {
		st.envs = append(st.envs, env{
			ContainerCode: uuid.NewString(),
			ContainerName: fmt.Sprintf("mock_%02d", i+1),
			TagName:       "youtube",
			ProxyTypeName: "Socks5",
		})
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/mock/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	})

	mux.HandleFunc("/api/v1/group/list", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("app-id") == "" {
			writeEnvelope(w, 401, "missing app-id", nil)
			return
		}
		writeEnvelope(w, 0, "success", []map[string]any{
			{"tagCode": 1, "tagName": "youtube"},
			{"tagCode": "2", "tagName": "backup"},
		})
	})

	mux.HandleFunc("/api/v1/env/list", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Page  int `json:"page"`
			Limit int `json:"limit"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.Page <= 0 {
			body.Page = 1
		}
		if body.Limit <= 0 {
			body.Limit = 20
		}
		st.mu.Lock()
		total := len(st.envs)
		from := (body.Page - 1) * body.Limit
		to := from + body.Limit
		if from > total {
			from = total
		}
		if to > total {
			to = total
		}
		items := append([]env(nil), st.envs[from:to]...)
		st.mu.Unlock()
		writeEnvelope(w, 0, "success", map[string]any{"list": items, "total": total})
	})

	mux.HandleFunc("/api/v1/env/create", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			ContainerName string `json:"containerName"`
			TagName       string `json:"tagName"`
			ProxyServer   string `json:"proxyServer"`
			ProxyTypeName string `json:"proxyTypeName"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if strings.TrimSpace(body.ProxyServer) == "" {
			writeEnvelope(w, -10003, "proxyServer is required", nil)
			return
		}
		e := env{
			ContainerCode: uuid.NewString(),
			ContainerName: body.ContainerName,
			TagName:       body.TagName,
			ProxyTypeName: body.ProxyTypeName,
		}
		st.mu.Lock()
		st.envs = append(st.envs, e)
		st.mu.Unlock()
		writeEnvelope(w, 0, "success", map[string]any{"containerCode": e.ContainerCode})
	})

	mux.HandleFunc("/api/v1/browser/start", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			ContainerCode string `json:"containerCode"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if !st.exists(body.ContainerCode) {
			writeEnvelope(w, -10013, "environment not found", nil)
			return
		}
		writeEnvelope(w, 0, "success", map[string]any{
			"debuggingPort": st.debugger,
			"webdriver":     "/usr/local/bin/chromedriver",
		})
	})

	mux.HandleFunc("/api/v1/browser/stop", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, 0, "success", nil)
	})

	// /sms/{phone} 返回最近一条验证码短信
	mux.HandleFunc("/sms/", func(w http.ResponseWriter, r *http.Request) {
		phone := strings.TrimPrefix(r.URL.Path, "/sms/")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"phone": phone,
			"messages": []map[string]any{
				{
					"message":     fmt.Sprintf("G-%06d is your Google verification code.", rand.Intn(900000)+100000),
					"received_at": time.Now().Format("2006-01-02 15:04:05"),
				},
			},
		})
	})

	mux.HandleFunc("/in.php", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.Form.Get("key") == "" || r.Form.Get("googlekey") == "" {
			_ = json.NewEncoder(w).Encode(map[string]any{"status": 0, "request": "ERROR_WRONG_USER_KEY"})
			return
		}
		id := randString(10)
		st.mu.Lock()
		st.tasks[id] = 0
		st.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{"status": 1, "request": id})
	})

	mux.HandleFunc("/res.php", func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("id")
		st.mu.Lock()
		polls, ok := st.tasks[id]
		st.tasks[id] = polls + 1
		st.mu.Unlock()
		switch {
		case !ok:
			_ = json.NewEncoder(w).Encode(map[string]any{"status": 0, "request": "ERROR_WRONG_CAPTCHA_ID"})
		case polls < 2:
			_ = json.NewEncoder(w).Encode(map[string]any{"status": 0, "request": "CAPCHA_NOT_READY"})
		default:
			_ = json.NewEncoder(w).Encode(map[string]any{"status": 1, "request": "03AGdBq2" + randString(40)})
		}
	})

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Printf("mock listening on %s (%d environments)", *addr, *envCount)
	log.Fatal(srv.ListenAndServe())
}

func (s *mockState) exists(code string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.envs {
		if e.ContainerCode == code {
			return true
		}
	}
	return false
}

func randString(n int) string {
	const letters = "abcdefghijklmnopqrstuvwxyz0123456789"
	if n <= 0 {
		return ""
	}
	raw := make([]byte, n)
	_, _ = crand.Read(raw)
	out := make([]byte, n)
	for i := range out {
		out[i] = letters[int(raw[i])%len(letters)]
	}
	return string(out)
}
