package httpapi

import (
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// zlog is the structured logger of the HTTP layer. Nop until SetLogger.
var zlog = zerolog.Nop()

// SetLogger installs a structured logger used by the HTTP layer.
func SetLogger(l zerolog.Logger) { zlog = l }

// LogLevel controls per-request logging behavior.
type LogLevel int

const (
	LevelOff LogLevel = iota
	LevelError
	LevelInfo
	LevelDebug
)

func parseLevel(s string) LogLevel {
	switch s {
	case "off", "":
		return LevelOff
	case "error":
		return LevelError
	case "info":
		return LevelInfo
	case "debug":
		return LevelDebug
	default:
		return LevelInfo
	}
}

// global default, read once
var defaultLogLevel = parseLevel(os.Getenv("DIFFSTUDIO_HTTP_LOG_LEVEL"))

// SetDefaultLogLevel overrides the level used when a request does not ask
// for one.
func SetDefaultLogLevel(s string) { defaultLogLevel = parseLevel(s) }

func requestLogLevel(r *http.Request) LogLevel {
	// Per-request overrides
	if v := r.URL.Query().Get("log"); v != "" {
		if v == "1" {
			return LevelDebug
		}
		return parseLevel(v)
	}
	if v := r.Header.Get("X-Log-Level"); v != "" {
		return parseLevel(v)
	}
	return defaultLogLevel
}

// logGenerate writes the start or end line of a /generate request at the
// request's log level. Errors are logged from LevelError up.
func logGenerate(r *http.Request, lvl LogLevel, msg string, status int, start time.Time, err error) {
	var ev *zerolog.Event
	switch {
	case err != nil && lvl >= LevelError:
		ev = zlog.Error().Err(err)
	case lvl >= LevelInfo:
		ev = zlog.Info()
	default:
		return
	}
	ev = ev.Str("path", r.URL.Path).Str("task", chiParam(r, "task"))
	if rid := middleware.GetReqID(r.Context()); rid != "" {
		ev = ev.Str("request_id", rid)
	}
	if status != 0 {
		ev = ev.Int("status", status).Dur("dur", time.Since(start))
	}
	ev.Msg(msg)
}
