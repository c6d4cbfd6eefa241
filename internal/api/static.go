package api

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/voicelink/voicelink/pkg/logger"
)

// StaticFileHandler serves the web frontend. Unknown paths fall back
// to index.html so the single-page app handles its own routing.
type StaticFileHandler struct {
	dir    string
	fs     http.Handler
	logger *logger.Logger
}

// NewStaticFileHandler creates a handler rooted at dir
func NewStaticFileHandler(dir string, log *logger.Logger) *StaticFileHandler {
	return &StaticFileHandler{
		dir:    dir,
		fs:     http.FileServer(http.Dir(dir)),
		logger: log.Named("static"),
	}
}

func (h *StaticFileHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/")
	if path == "" {
		path = "index.html"
	}

	full := filepath.Join(h.dir, filepath.Clean("/"+path))
	if info, err := os.Stat(full); err != nil || info.IsDir() {
		// SPA fallback
		http.ServeFile(w, r, filepath.Join(h.dir, "index.html"))
		return
	}

	h.fs.ServeHTTP(w, r)
}
