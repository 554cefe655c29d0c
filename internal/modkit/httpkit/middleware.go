package httpkit

import (
	"net/http"
	"time"

	"mquery/internal/platform/config"
	"mquery/internal/platform/net/middleware"
)

// CommonStack is the api wide middleware chain, outermost first
func CommonStack(cfg config.Conf) []func(http.Handler) http.Handler {
	api := cfg.Prefix("API_")
	stack := []func(http.Handler) http.Handler{
		middleware.CORS(middleware.CORSOptions{
			AllowedOrigins: api.MayCSV("CORS_ORIGINS", []string{"*"}),
		}),
		middleware.Heartbeat("/healthz"),
	}
	stack = append(stack, middleware.Defaults(api.MayDuration("REQUEST_TIMEOUT", 30*time.Second))...)
	return append(stack,
		middleware.Metrics,
		middleware.AccessLog(middleware.AccessLogOptions{
			Slow: api.MayDuration("SLOW_REQUEST", time.Second),
			Skip: []string{"/metrics", "/healthz"},
		}),
	)
}
