// Package httpjoin serves the tiny HTTP adjunct of spec §4.G/§6: a single
// route that returns the SPA shell so invite links open the app.
package httpjoin

import (
	"net/http"

	"github.com/julienschmidt/httprouter"
)

// shellHTML is the minimal SPA shell served for every /join/* request; the
// client router takes over from there once loaded.
const shellHTML = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>sidecar</title></head>
<body><div id="root"></div><script src="/static/app.js"></script></body>
</html>`

// Register attaches the /join/* route to router. Must be called before any
// SPA catch-all route is registered, per spec §4.G.
func Register(router *httprouter.Router) {
	router.GET("/join/*invite", serveShell)
}

func serveShell(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(shellHTML))
}
