package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"google_account/internal/config"
)

var (
	corsAllowHeaders = strings.Join([]string{"Content-Type", "Authorization"}, ", ")
	corsAllowMethods = strings.Join([]string{"GET", "POST", "DELETE", "OPTIONS"}, ", ")
)

const corsMaxAge = 600

// allowedOrigin 返回应回写的 Allow-Origin，空串表示不允许。
func allowedOrigin(cfg config.CorsConfig, origin string) string {
	for _, o := range cfg.AllowOrigins {
		if o == "*" {
			return "*"
		}
		if origin != "" && strings.EqualFold(o, origin) {
			return origin
		}
	}
	return ""
}

func corsMiddleware(cfg config.CorsConfig, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("Vary", "Origin")
		if allowed := allowedOrigin(cfg, r.Header.Get("Origin")); allowed != "" {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", allowed)
			if cfg.AllowCredentials && allowed != "*" {
				h.Set("Access-Control-Allow-Credentials", "true")
			}
			h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
			h.Set("Access-Control-Allow-Methods", corsAllowMethods)
			h.Set("Access-Control-Max-Age", strconv.Itoa(corsMaxAge))
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
