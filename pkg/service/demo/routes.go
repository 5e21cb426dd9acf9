package demo

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"go.keploy.io/httpengine/pkg/service/nethttp"
	"go.uber.org/zap"
)

type Handlers struct {
	logger *zap.Logger
}

// NewRouter mounts the demo routes on r.
func NewRouter(r chi.Router, logger *zap.Logger) {
	h := &Handlers{logger: logger}

	r.Get("/hello", h.Hello)
	r.Route("/api", func(r chi.Router) {
		r.Get("/info", h.Info)
		r.Post("/json", h.JSON)
		r.Get("/status/{code}", h.Status)
		r.Get("/stream", h.Stream)
	})
}

type InfoResponse struct {
	Method     string    `json:"method"`
	Path       string    `json:"path"`
	Proto      string    `json:"proto"`
	RemoteAddr string    `json:"remoteAddr"`
	TLS        bool      `json:"tls"`
	Conn       *ConnInfo `json:"conn,omitempty"`
}

func (h *Handlers) Hello(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = fmt.Fprintf(w, "hello from %s\n", r.Proto)
}

func (h *Handlers) Info(w http.ResponseWriter, r *http.Request) {
	info := InfoResponse{
		Method:     r.Method,
		Path:       r.URL.Path,
		Proto:      r.Proto,
		RemoteAddr: r.RemoteAddr,
		TLS:        r.TLS != nil,
	}
	if ci, ok := nethttp.Extension(r).(*ConnInfo); ok {
		info.Conn = ci
	}
	render.JSON(w, r, info)
}

func (h *Handlers) JSON(w http.ResponseWriter, r *http.Request) {
	var payload map[string]any
	if err := render.DecodeJSON(r.Body, &payload); err != nil {
		_ = render.Render(w, r, ErrInvalidRequest(err))
		return
	}
	render.JSON(w, r, payload)
}

func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	code, err := strconv.Atoi(chi.URLParam(r, "code"))
	if err != nil || code < 200 || code > 599 {
		_ = render.Render(w, r, ErrInvalidRequest(fmt.Errorf("invalid status code %q", chi.URLParam(r, "code"))))
		return
	}
	w.WriteHeader(code)
}

// Stream writes one JSON line per tick and flushes after each.
func (h *Handlers) Stream(w http.ResponseWriter, r *http.Request) {
	lines := 5
	if v := r.URL.Query().Get("lines"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			_ = render.Render(w, r, ErrInvalidRequest(fmt.Errorf("invalid line count %q", v)))
			return
		}
		lines = n
	}
	interval := 10 * time.Millisecond
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported!", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	for i := 0; i < lines; i++ {
		select {
		case <-r.Context().Done():
			h.logger.Debug("client went away while streaming", zap.Int("sent", i))
			return
		case <-time.After(interval):
		}
		_, _ = fmt.Fprintf(w, "{\"line\":%d}\n", i)
		flusher.Flush()
	}
}

type ErrResponse struct {
	Err            error `json:"-"`
	HTTPStatusCode int   `json:"-"`

	StatusText string `json:"status"`
	ErrorText  string `json:"error,omitempty"`
}

func ErrInvalidRequest(err error) render.Renderer {
	return &ErrResponse{
		Err:            err,
		HTTPStatusCode: http.StatusBadRequest,
		StatusText:     "Invalid request.",
		ErrorText:      err.Error(),
	}
}

func (e *ErrResponse) Render(_ http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.HTTPStatusCode)
	return nil
}
