package daemon

import (
	_ "embed"
	"net/http"
)

//go:embed index.html
var dashboardHTML []byte

func (s *Server) dashboardHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(dashboardHTML)
}
