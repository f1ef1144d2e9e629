package httpapi

import (
	"context"
	"net/http"
	"time"
)

// serverBaseCtx is cancelled on shutdown; handlers derive from it so that a
// draining server stops queued generations too.
var serverBaseCtx = context.Background()

// SetBaseContext sets the process-level base context used by handlers.
func SetBaseContext(ctx context.Context) {
	if ctx == nil {
		serverBaseCtx = context.Background()
		return
	}
	serverBaseCtx = ctx
}

// requestContext is cancelled when either the client goes away or the
// server shuts down, and carries the optional generation timeout.
func requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(r.Context())
	stop := context.AfterFunc(serverBaseCtx, cancel)
	if inferTimeout > 0 {
		tctx, tcancel := context.WithTimeout(ctx, time.Duration(inferTimeout)*time.Second)
		return tctx, func() { tcancel(); stop(); cancel() }
	}
	return ctx, func() { stop(); cancel() }
}
