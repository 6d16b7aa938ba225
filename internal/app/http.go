package app

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"muse/api/internal/apitoken"
	"muse/api/internal/export"
	"muse/api/internal/ideadoc"
	"muse/api/internal/search"
	"muse/api/internal/store"
)

type HTTPServer struct {
	service    *Service
	tokens     *apitoken.Verifier
	corsOrigin string
	log        *zap.Logger
}

func NewHTTPServer(service *Service, tokens *apitoken.Verifier, corsOrigin string, log *zap.Logger) *HTTPServer {
	return &HTTPServer{service: service, tokens: tokens, corsOrigin: corsOrigin, log: log}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		writeJSON(w, http.StatusOK, map[string]any{
			"ok":      true,
			"backend": s.service.StoreType(),
			"threads": len(s.service.Threads("")),
		})
		return
	}

	// All mutating routes share the single bearer token.
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		if err := s.tokens.Verify(bearerToken(r)); err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return
		}
	}

	if r.URL.Path == "/api/ideas" {
		switch r.Method {
		case http.MethodGet:
			s.handleListIdeas(w, r)
		case http.MethodPost:
			s.handleCreateIdea(w, r)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	// Thread ids are repository-relative paths and contain slashes, so the
	// dispatch below matches on known suffixes before treating the rest of
	// the path as the id.
	if rest, ok := strings.CutPrefix(r.URL.Path, "/api/ideas/"); ok && rest != "" {
		switch {
		case r.Method == http.MethodPost && strings.HasSuffix(rest, "/entries"):
			s.handleContinueThread(w, r, strings.TrimSuffix(rest, "/entries"), false)
		case r.Method == http.MethodPost && strings.HasSuffix(rest, "/reflect"):
			s.handleContinueThread(w, r, strings.TrimSuffix(rest, "/reflect"), true)
		case r.Method == http.MethodGet && strings.HasSuffix(rest, "/export"):
			s.handleExport(w, r, strings.TrimSuffix(rest, "/export"))
		case r.Method == http.MethodGet:
			s.handleGetIdea(w, r, rest)
		case r.Method == http.MethodDelete:
			s.handleDeleteIdea(w, r, rest)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if entryID, ok := strings.CutPrefix(r.URL.Path, "/api/entries/"); ok && entryID != "" {
		switch r.Method {
		case http.MethodPatch:
			s.handleUpdateEntry(w, r, entryID)
		case http.MethodDelete:
			s.handleDeleteEntry(w, r, entryID)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/views/by-thread-date" {
		writeJSON(w, http.StatusOK, map[string]any{"buckets": s.service.ByThreadDate()})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/views/by-entry-date" {
		writeJSON(w, http.StatusOK, map[string]any{"buckets": s.service.ByEntryDate()})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		s.handleSearch(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/sync" {
		result, err := s.service.Sync(r.Context())
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, result)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/recent" {
		s.handleRecent(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/images" {
		s.handleUploadImage(w, r)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleListIdeas(w http.ResponseWriter, r *http.Request) {
	threads := s.service.Threads(strings.TrimSpace(r.URL.Query().Get("q")))
	writeJSON(w, http.StatusOK, map[string]any{"threads": threads})
}

type imageBody struct {
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	Data        string `json:"data"`
}

func (s *HTTPServer) handleCreateIdea(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Content string      `json:"content"`
		Title   string      `json:"title"`
		IsAI    bool        `json:"isAi"`
		Images  []imageBody `json:"images"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	images, err := decodeImages(body.Images)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_IMAGE", err.Error(), nil)
		return
	}

	t, err := s.service.CreateIdea(r.Context(), store.CreateThreadInput{
		Content: body.Content,
		Title:   body.Title,
		IsAI:    body.IsAI,
	}, images)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *HTTPServer) handleContinueThread(w http.ResponseWriter, r *http.Request, threadID string, isAI bool) {
	var body struct {
		Content string      `json:"content"`
		IsAI    bool        `json:"isAi"`
		Images  []imageBody `json:"images"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	images, err := decodeImages(body.Images)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_IMAGE", err.Error(), nil)
		return
	}

	t, err := s.service.ContinueThread(r.Context(), store.AddEntryInput{
		ThreadID: threadID,
		Content:  body.Content,
		IsAI:     body.IsAI || isAI,
	}, images)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *HTTPServer) handleGetIdea(w http.ResponseWriter, r *http.Request, threadID string) {
	t, err := s.service.GetThread(threadID)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *HTTPServer) handleDeleteIdea(w http.ResponseWriter, r *http.Request, threadID string) {
	if err := s.service.DeleteThread(r.Context(), threadID); err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleUpdateEntry(w http.ResponseWriter, r *http.Request, entryID string) {
	var body struct {
		Content string `json:"content"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	t, err := s.service.UpdateEntry(r.Context(), entryID, body.Content)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *HTTPServer) handleDeleteEntry(w http.ResponseWriter, r *http.Request, entryID string) {
	if err := s.service.DeleteEntry(r.Context(), entryID); err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	resp := s.service.Search(search.Query{
		Text:   strings.TrimSpace(q.Get("q")),
		Limit:  limit,
		Offset: offset,
	})
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request, threadID string) {
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_FORMAT", "Unknown export format", nil)
		return
	}

	result, err := s.service.Export(r.Context(), threadID, format)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}

	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

func (s *HTTPServer) handleRecent(w http.ResponseWriter, r *http.Request) {
	active, lastSync, ok, err := s.service.Recent(r.Context())
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	payload := map[string]any{"activeThreadId": active}
	if ok {
		payload["lastSync"] = lastSync
	} else {
		payload["lastSync"] = nil
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleUploadImage(w http.ResponseWriter, r *http.Request) {
	var body imageBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	images, err := decodeImages([]imageBody{body})
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_IMAGE", err.Error(), nil)
		return
	}

	url, err := s.service.UploadImage(r.Context(), images[0])
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"url": url})
}

func decodeImages(bodies []imageBody) ([]ImageUpload, error) {
	if len(bodies) == 0 {
		return nil, nil
	}
	images := make([]ImageUpload, 0, len(bodies))
	for _, b := range bodies {
		data, err := base64.StdEncoding.DecodeString(b.Data)
		if err != nil {
			return nil, fmt.Errorf("image %q is not valid base64", b.Name)
		}
		if len(data) == 0 {
			return nil, fmt.Errorf("image %q is empty", b.Name)
		}
		images = append(images, ImageUpload{Name: b.Name, ContentType: b.ContentType, Data: data})
	}
	return images, nil
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		s.log.Info("request",
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", writer.status),
			zap.Int64("duration_ms", time.Since(started).Milliseconds()),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, ErrEmptyContent):
		return http.StatusUnprocessableEntity, "EMPTY_CONTENT", "Entry content must not be empty", nil
	case errors.Is(err, ideadoc.ErrContentCollision):
		return http.StatusUnprocessableEntity, "CONTENT_COLLISION", "Entry content conflicts with the document encoding", nil
	case errors.Is(err, ErrLoadInProgress):
		return http.StatusConflict, "LOAD_IN_PROGRESS", "Thread collection is reloading", nil
	case errors.Is(err, export.ErrUnsupportedFormat):
		return http.StatusBadRequest, "INVALID_FORMAT", "Unknown export format", nil
	case errors.Is(err, export.ErrPDFDependencyMissing):
		return http.StatusServiceUnavailable, "PDF_UNAVAILABLE", "PDF rendering is not available", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
