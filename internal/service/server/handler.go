package server

import (
	"errors"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dtq1997/steamshelf-updater/internal/domain/release"
	"github.com/dtq1997/steamshelf-updater/internal/host/local"
	"github.com/dtq1997/steamshelf-updater/internal/logger"
)

const assetCacheControl = "public, max-age=3600"

// handler serves a local host root with the hosted release URL layout.
type handler struct {
	root string
}

// NewHandler returns the mirror routes for root, rate limited per client IP.
func NewHandler(root string, requestsPerSecond float64, burst int) http.Handler {
	h := &handler{root: root}
	limiter := newRateLimiter(requestsPerSecond, burst)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})

	r.Group(func(r chi.Router) {
		r.Use(limiter.middleware)
		r.Get("/{owner}/{repo}/releases/download/{tag}/{asset}", h.serveAsset)
		r.Head("/{owner}/{repo}/releases/download/{tag}/{asset}", h.serveAsset)
	})

	return r
}

func (h *handler) serveAsset(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")
	repo := chi.URLParam(r, "repo")
	tag := chi.URLParam(r, "tag")
	asset := chi.URLParam(r, "asset")

	for _, segment := range []string{owner, repo, tag, asset} {
		if !validSegment(segment) {
			http.NotFound(w, r)
			return
		}
	}

	path := filepath.Join(local.DownloadDir(h.root, owner, repo), tag, asset)

	f, err := os.Open(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logger.WarnKV(r.Context(), "Failed to open asset", "path", path, "error", err)
		}

		http.NotFound(w, r)

		return
	}

	defer func() {
		_ = f.Close()
	}()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("X-Content-Type-Options", "nosniff")

	if tag == local.LatestTag && asset == release.ManifestFilename {
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Content-Type", "application/json")
	} else {
		w.Header().Set("Cache-Control", assetCacheControl)
		w.Header().Set("Content-Type", "application/octet-stream")
	}

	http.ServeContent(w, r, asset, info.ModTime(), f)
}

// validSegment rejects empty, dot and hidden names so temp files and parents stay private.
func validSegment(s string) bool {
	return s != "" && !strings.HasPrefix(s, ".") && !strings.ContainsAny(s, `/\`)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		logger.DebugKV(r.Context(), "Request served",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"remote", clientIP(r),
			"duration", time.Since(started))
	})
}
