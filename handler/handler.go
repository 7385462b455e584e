// Package handler provides the HTTP handlers for the list server.
package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/elnormous/contenttype"

	"github.com/stevemurr/list-sync-server/auth"
	"github.com/stevemurr/list-sync-server/lists"
	"github.com/stevemurr/list-sync-server/schema"
	"github.com/stevemurr/list-sync-server/store"
)

// DefaultMaxBodyBytes caps request bodies unless WithMaxBodyBytes says
// otherwise.
const DefaultMaxBodyBytes = 1 << 20

// Handler holds the server dependencies and registers routes.
type Handler struct {
	lists   *lists.Service
	schema  *schema.Schema
	maxBody int64
	checker auth.Checker
	mux     *http.ServeMux
}

// Option configures a Handler.
type Option func(*Handler)

// WithSchema validates posted lists against s.
func WithSchema(s *schema.Schema) Option {
	return func(h *Handler) { h.schema = s }
}

// WithMaxBodyBytes caps request bodies at n bytes.
func WithMaxBodyBytes(n int64) Option {
	return func(h *Handler) { h.maxBody = n }
}

// WithAuth requires Basic credentials accepted by c on every route except
// the health check.
func WithAuth(c auth.Checker) Option {
	return func(h *Handler) { h.checker = c }
}

// New creates a Handler and wires up all routes.
func New(svc *lists.Service, opts ...Option) *Handler {
	h := &Handler{lists: svc, maxBody: DefaultMaxBodyBytes, mux: http.NewServeMux()}
	for _, opt := range opts {
		opt(h)
	}
	h.routes()
	return h
}

// ServeHTTP makes Handler an http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) routes() {
	h.mux.HandleFunc("GET /health", h.health)

	h.handle("GET /{$}", h.root)
	h.handle("GET /lists", h.getLists)
	h.handle("POST /lists", h.postLists)
	h.handle("PUT /lists", h.putList)
	h.handle("DELETE /lists", h.deleteList)
}

func (h *Handler) handle(pattern string, fn http.HandlerFunc) {
	if h.checker == nil {
		h.mux.Handle(pattern, fn)
		return
	}
	h.mux.Handle(pattern, auth.Middleware(h.checker, fn))
}

// ---------- helpers ----------

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}

func writeStatus(w http.ResponseWriter, status int) {
	writeError(w, status, http.StatusText(status))
}

func setLastModified(w http.ResponseWriter, t time.Time) {
	if !t.IsZero() {
		w.Header().Set("Last-Modified", t.UTC().Format(http.TimeFormat))
	}
}

// requestURL is the absolute URL of r without its query.
func requestURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if p := r.Header.Get("X-Forwarded-Proto"); p != "" {
		scheme = strings.TrimSpace(strings.Split(p, ",")[0])
	}
	return scheme + "://" + r.Host + r.URL.Path
}

// setETag tags a stored revision by its version and modification time, so a
// list recreated under the same id never repeats a tag.
func setETag(w http.ResponseWriter, doc []byte, mod time.Time) {
	v, err := lists.DocumentVersion(doc)
	if err != nil {
		return
	}
	w.Header().Set("ETag", fmt.Sprintf(`"%d-%x"`, v, mod.UnixNano()))
}

var (
	jsonType    = contenttype.NewMediaType("application/json")
	uriListType = contenttype.NewMediaType("text/uri-list")
)

// accepts reports whether the Accept header of r admits mt. A missing header
// admits everything.
func accepts(r *http.Request, mt contenttype.MediaType) bool {
	_, _, err := contenttype.GetAcceptableMediaType(r, []contenttype.MediaType{mt})
	return err == nil
}

func isJSON(r *http.Request) bool {
	mt, err := contenttype.GetMediaType(r)
	if err != nil {
		return false
	}
	return mt.Type == "application" && (mt.Subtype == "json" || strings.HasSuffix(mt.Subtype, "+json"))
}

// readList reads and validates a posted list. It writes the error response
// itself and returns ok=false when the body is unusable.
func (h *Handler) readList(w http.ResponseWriter, r *http.Request) (doc []byte, ok bool) {
	if !isJSON(r) {
		writeStatus(w, http.StatusUnsupportedMediaType)
		return nil, false
	}
	defer r.Body.Close()
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeStatus(w, http.StatusRequestEntityTooLarge)
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "could not read body")
		return nil, false
	}
	if !json.Valid(body) {
		writeError(w, http.StatusBadRequest, "body is not valid JSON")
		return nil, false
	}
	if err := h.schema.ValidateJSON(body); err != nil {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, "Invalid: "+err.Error())
		return nil, false
	}
	return body, true
}

// failed maps service errors that every route shares. Unknown errors are
// logged and reported as 500.
func failed(w http.ResponseWriter, r *http.Request, msg string, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrInvalidID):
		writeStatus(w, http.StatusNotFound)
	case errors.Is(err, lists.ErrInvalidVersion):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		slog.ErrorContext(r.Context(), msg, "id", r.URL.Query().Get("id"), "err", err)
		writeStatus(w, http.StatusInternalServerError)
	}
}

// ---------- status endpoints ----------

func (h *Handler) root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "List Sync Server",
	})
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// ---------- lists ----------

func (h *Handler) getLists(w http.ResponseWriter, r *http.Request) {
	if id := r.URL.Query().Get("id"); id != "" {
		h.getList(w, r, id)
		return
	}

	if !accepts(r, uriListType) {
		writeStatus(w, http.StatusNotAcceptable)
		return
	}
	ids, err := h.lists.List(r.Context())
	if err != nil {
		failed(w, r, "Could not enumerate lists", err)
		return
	}

	var body string
	if len(ids) == 0 {
		body = "# No files"
	} else {
		base := requestURL(r)
		urls := make([]string, len(ids))
		for i, id := range ids {
			urls[i] = base + "?id=" + id
		}
		body = strings.Join(urls, "\r\n")
	}
	w.Header().Set("Content-Type", "text/uri-list; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, body)
}

func (h *Handler) getList(w http.ResponseWriter, r *http.Request, id string) {
	if !accepts(r, jsonType) {
		writeStatus(w, http.StatusNotAcceptable)
		return
	}
	rec, err := h.lists.Get(r.Context(), id)
	if err != nil {
		failed(w, r, "Could not read list", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	setETag(w, rec.Data, rec.Modified)
	http.ServeContent(w, r, "", rec.Modified, bytes.NewReader(rec.Data))
}

func (h *Handler) postLists(w http.ResponseWriter, r *http.Request) {
	if id := r.URL.Query().Get("id"); id != "" {
		h.updateList(w, r, id)
		return
	}

	doc, ok := h.readList(w, r)
	if !ok {
		return
	}
	rec, err := h.lists.Create(r.Context(), doc)
	if err != nil {
		failed(w, r, "Could not create list", err)
		return
	}
	slog.InfoContext(r.Context(), "Created list", "id", rec.ID, "user", auth.Username(r.Context()))
	setLastModified(w, rec.Modified)
	setETag(w, rec.Data, rec.Modified)
	w.Header().Set("Location", requestURL(r)+"?id="+rec.ID)
	w.WriteHeader(http.StatusCreated)
}

func (h *Handler) putList(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		w.Header().Set("Allow", "GET, POST, HEAD")
		writeStatus(w, http.StatusMethodNotAllowed)
		return
	}
	h.updateList(w, r, id)
}

func (h *Handler) updateList(w http.ResponseWriter, r *http.Request, id string) {
	doc, ok := h.readList(w, r)
	if !ok {
		return
	}
	mod, err := h.lists.Update(r.Context(), id, doc)
	var conflict *lists.ConflictError
	if errors.As(err, &conflict) {
		setLastModified(w, conflict.Current.Modified)
		setETag(w, conflict.Current.Data, conflict.Current.Modified)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write(conflict.Current.Data)
		return
	}
	if err != nil {
		failed(w, r, "Could not update list", err)
		return
	}
	setLastModified(w, mod)
	setETag(w, doc, mod)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) deleteList(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		w.Header().Set("Allow", "GET, POST, HEAD")
		writeStatus(w, http.StatusMethodNotAllowed)
		return
	}
	if err := h.lists.Delete(r.Context(), id); err != nil {
		failed(w, r, "Could not delete list", err)
		return
	}
	slog.InfoContext(r.Context(), "Deleted list", "id", id, "user", auth.Username(r.Context()))
	w.WriteHeader(http.StatusNoContent)
}
