package logging

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	proxyerrors "github.com/proxypilot/copilot-proxy/internal/errors"
	"github.com/proxypilot/copilot-proxy/internal/util"
	log "github.com/sirupsen/logrus"
)

// RequestIDKey is the gin context key holding the request id.
const RequestIDKey = "request_id"

const skipGinLogKey = "__gin_skip_request_logging__"

// GinLogrusLogger logs one line per direct server flow once it has been
// answered. Streamed completions are logged when the stream ends, so the
// latency covers the whole completion.
func GinLogrusLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := strings.TrimSpace(c.GetHeader("X-Request-Id"))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(RequestIDKey, requestID)

		c.Next()

		if shouldSkipGinRequestLogging(c) {
			return
		}

		target := c.Request.URL.Path
		if q := util.MaskSensitiveQuery(c.Request.URL.RawQuery); q != "" {
			target += "?" + q
		}
		status := c.Writer.Status()
		elapsed := roundLatency(time.Since(start))

		entry := log.WithFields(log.Fields{
			"request_id": requestID,
			"editor":     classifyEditor(c.GetHeader("Editor-Version"), c.Request.UserAgent()),
			"status":     status,
			"latency_ms": elapsed.Milliseconds(),
			"bytes":      c.Writer.Size(),
			"client_ip":  c.ClientIP(),
		})
		if errs := c.Errors.ByType(gin.ErrorTypePrivate).String(); errs != "" {
			entry = entry.WithField("error", errs)
		}
		entry.Log(levelForStatus(status), fmt.Sprintf("direct %s %s -> %d in %v", c.Request.Method, target, status, elapsed))
	}
}

func roundLatency(d time.Duration) time.Duration {
	if d > time.Minute {
		return d.Truncate(time.Second)
	}
	return d.Truncate(time.Millisecond)
}

func levelForStatus(status int) log.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return log.ErrorLevel
	case status >= http.StatusBadRequest:
		return log.WarnLevel
	default:
		return log.InfoLevel
	}
}

// classifyEditor names the editor integration behind a flow. Copilot
// clients send Editor-Version ("vscode/1.90.0"); the user agent is the
// fallback.
func classifyEditor(editorVersion, userAgent string) string {
	if name, _, ok := strings.Cut(strings.TrimSpace(editorVersion), "/"); ok && name != "" {
		return strings.ToLower(name)
	}
	ua := strings.ToLower(userAgent)
	switch {
	case strings.Contains(ua, "githubcopilotchat"):
		return "copilot-chat"
	case strings.Contains(ua, "vscode"):
		return "vscode"
	case strings.Contains(ua, "jetbrains"), strings.Contains(ua, "intellij"):
		return "jetbrains"
	case strings.Contains(ua, "vim"):
		return "vim"
	case strings.Contains(ua, "githubcopilot"):
		return "copilot"
	default:
		return "generic"
	}
}

// GinLogrusRecovery turns a handler panic into a logged stack and a JSON
// 500 error document.
func GinLogrusRecovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		log.WithFields(log.Fields{
			"panic":      recovered,
			"stack":      string(debug.Stack()),
			"path":       c.Request.URL.Path,
			"request_id": c.GetString(RequestIDKey),
		}).Error("direct server recovered from panic")

		appErr := proxyerrors.New(http.StatusInternalServerError, "internal_error", "internal server error", nil)
		c.Data(appErr.HTTPStatusCode, "application/json", appErr.ToJSON())
		c.Abort()
	})
}

// SkipGinRequestLogging marks c so GinLogrusLogger emits nothing for it.
func SkipGinRequestLogging(c *gin.Context) {
	if c != nil {
		c.Set(skipGinLogKey, true)
	}
}

func shouldSkipGinRequestLogging(c *gin.Context) bool {
	if c == nil {
		return false
	}
	skip, _ := c.Get(skipGinLogKey)
	flag, ok := skip.(bool)
	return ok && flag
}
