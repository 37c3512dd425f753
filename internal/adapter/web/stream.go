package web

import (
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"tg-filestream/internal/domain"
	"tg-filestream/internal/usecase"
)

// Handler serves the download and stream endpoints.
type Handler struct {
	svc *usecase.Service
	log *zap.Logger
}

// NewHandler creates the streaming HTTP handler.
func NewHandler(svc *usecase.Service, log *zap.Logger) *Handler {
	return &Handler{svc: svc, log: log.Named("web")}
}

// Download serves GET /dl/{ref} with a Content-Disposition attachment.
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, true)
}

// Stream serves GET /stream/{ref} for inline playback.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, false)
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request, attachment bool) {
	ref := chi.URLParam(r, "ref")

	msgID, err := h.svc.Decode(ref)
	if err != nil {
		httpError(w, http.StatusNotFound, "Invalid or malformed link.")
		return
	}

	log := h.log.With(zap.Int64("msg_id", msgID), zap.String("ip", clientIP(r)))

	dl, err := h.svc.Open(r.Context(), msgID)
	if err != nil {
		h.writeOpenError(w, log, err)
		return
	}

	loc := dl.Locator
	size := loc.Size

	from, until := int64(0), size-1
	status := http.StatusOK
	if rangeHeader := r.Header.Get("Range"); rangeHeader != "" {
		from, until, err = parseRange(rangeHeader, size)
		if err != nil {
			dl.Close()
			w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
			w.Header().Set("Cache-Control", "no-store")
			w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
			return
		}
		status = http.StatusPartialContent
	}

	header := w.Header()
	header.Set("Accept-Ranges", "bytes")
	header.Set("Content-Type", contentType(loc))
	if attachment {
		header.Set("Content-Disposition",
			fmt.Sprintf("attachment; filename=%q", sanitizeFilename(loc.Filename)))
	}

	if size == 0 {
		// Empty file, no Range: a 200 with an empty body.
		dl.Close()
		header.Set("Content-Length", "0")
		w.WriteHeader(http.StatusOK)
		return
	}

	header.Set("Content-Length", strconv.FormatInt(until-from+1, 10))
	if status == http.StatusPartialContent {
		header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", from, until, size))
	}
	w.WriteHeader(status)

	written, err := dl.Serve(r.Context(), &flushWriter{w: w}, from, until)
	if err != nil {
		// Headers are out; the only remedy is closing the connection, which
		// happens when the handler returns.
		log.Debug("stream ended early",
			zap.Int64("written", written),
			zap.Int64("expected", until-from+1),
			zap.Error(err))
		return
	}
	log.Info("stream complete",
		zap.Int64("bytes", written),
		zap.String("file", loc.Filename))
}

// writeOpenError maps admission errors onto HTTP statuses.
func (h *Handler) writeOpenError(w http.ResponseWriter, log *zap.Logger, err error) {
	switch {
	case errors.Is(err, domain.ErrReferenceNotFound):
		httpError(w, http.StatusNotFound, "File not found or has been deleted.")
	case errors.Is(err, domain.ErrReferenceExpired):
		httpError(w, http.StatusGone, "Download link has expired.")
	case errors.Is(err, domain.ErrBandwidthExceeded):
		httpError(w, http.StatusServiceUnavailable,
			"Service temporarily unavailable due to bandwidth limits.")
	case errors.Is(err, domain.ErrNoClientAvailable):
		httpError(w, http.StatusServiceUnavailable, "All streaming capacity is in use. Please retry.")
	default:
		log.Warn("request admission failed", zap.Error(err))
		httpError(w, http.StatusServiceUnavailable, "Service temporarily unavailable.")
	}
}

// httpError writes a short plain-text error with conservative caching.
func httpError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprintln(w, msg)
}

func contentType(loc *domain.FileLocator) string {
	if loc.MimeType != "" {
		return loc.MimeType
	}
	return "application/octet-stream"
}

// flushWriter flushes after every chunk so range responses reach video
// players promptly and back-pressure reflects the client's real read rate.
type flushWriter struct {
	w http.ResponseWriter
}

func (f *flushWriter) Write(p []byte) (int, error) {
	n, err := f.w.Write(p)
	if err != nil {
		return n, err
	}
	if fl, ok := f.w.(http.Flusher); ok {
		fl.Flush()
	}
	return n, nil
}

var unsafeFilenameChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)

// sanitizeFilename replaces path separators, reserved characters and control
// characters with underscores and trims leading and trailing dots and spaces,
// so the name is safe inside a Content-Disposition header.
func sanitizeFilename(name string) string {
	clean := unsafeFilenameChars.ReplaceAllString(name, "_")
	clean = strings.Trim(clean, ". ")
	if len(clean) > 255 {
		clean = clean[:255]
	}
	if clean == "" {
		return "download"
	}
	return clean
}
