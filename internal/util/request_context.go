package util

import (
	"net"
	"net/http"
	"strings"

	"pdf-pipeline-server/internal/model"
)

const maxUserAgentLen = 500

// RequestContextFrom извлекает клиентский контекст запроса для audit.
// IP — первый hop из X-Forwarded-For, если заголовок присутствует.
func RequestContextFrom(r *http.Request) *model.RequestContext {
	return &model.RequestContext{
		IPAddress: ClientIP(r),
		UserAgent: truncate(r.UserAgent(), maxUserAgentLen),
	}
}

func ClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
