package audit

import (
	"bufio"
	"errors"
	"net"
	"net/http"
)

// recordStatus wraps a response writer so the status code written by the
// handler chain lands on the audit entry. A writer that supports hijacking
// keeps that ability, since the reverse proxy may need it for upgraded
// connections.
func recordStatus(w http.ResponseWriter, e *Entry) http.ResponseWriter {
	rec := &statusRecorder{ResponseWriter: w, entry: e}
	if _, ok := w.(http.Hijacker); ok {
		return &hijackRecorder{*rec}
	}
	return rec
}

// statusRecorder passes writes through, noting the status on the entry.
type statusRecorder struct {
	http.ResponseWriter
	entry *Entry
}

func (r *statusRecorder) WriteHeader(code int) {
	r.entry.Status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

type hijackRecorder struct {
	statusRecorder
}

func (r *hijackRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return hijacker.Hijack()
}
