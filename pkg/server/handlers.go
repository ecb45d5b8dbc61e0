package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/floelabs/icefloe/pkg/catalog"
	"github.com/floelabs/icefloe/pkg/colfile"
	"github.com/floelabs/icefloe/pkg/dataset"
	"github.com/floelabs/icefloe/pkg/demo"
	"github.com/floelabs/icefloe/pkg/table"
)

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReadyz probes the catalog; a missing events table is still ready.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if _, err := s.store.CurrentSnapshot(r.Context(), s.cfg.TableID); err != nil &&
		!errors.Is(err, catalog.ErrTableNotFound) {
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"version": s.cfg.Version})
}

func (s *Server) handleInspect(w http.ResponseWriter, r *http.Request) {
	info, err := s.store.Inspect(r.Context(), s.cfg.TableID)
	if err != nil {
		s.writeErrorFor(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, info)
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		limit = n
	}
	rows, err := s.store.Preview(r.Context(), s.cfg.TableID, limit)
	if err != nil {
		s.writeErrorFor(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"rows": rows, "count": len(rows)})
}

func (s *Server) handleExists(w http.ResponseWriter, r *http.Request) {
	uri := r.URL.Query().Get("uri")
	if uri == "" {
		s.writeError(w, http.StatusBadRequest, "uri is required")
		return
	}
	exists, err := s.objects.Exists(r.Context(), uri)
	if err != nil {
		s.writeErrorFor(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"uri": uri, "exists": exists})
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path string `json:"path"`
	}
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.Path == "" {
		req.Path = filepath.Join(s.cfg.DataDir, "events_ns.flc")
	}
	if err := demo.GenerateEvents(req.Path); err != nil {
		s.writeErrorFor(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"path": req.Path})
}

func (s *Server) handleRewrite(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Src string `json:"src"`
		Dst string `json:"dst"`
		// ForRegistration also renames and narrows columns to the exact
		// table schema so the result can be registered.
		ForRegistration bool `json:"forRegistration"`
	}
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.Src == "" {
		req.Src = filepath.Join(s.cfg.DataDir, "events_ns.flc")
	}
	if req.Dst == "" {
		req.Dst = filepath.Join(s.cfg.DataDir, "events_us.flc")
	}

	rewrite := demo.RewriteNsToUs
	if req.ForRegistration {
		rewrite = demo.RewriteForRegistration
	}
	if err := rewrite(req.Src, req.Dst); err != nil {
		s.writeErrorFor(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"src": req.Src, "dst": req.Dst})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Src string `json:"src"`
		URI string `json:"uri"`
	}
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.Src == "" || req.URI == "" {
		s.writeError(w, http.StatusBadRequest, "src and uri are required")
		return
	}
	if err := s.objects.Put(r.Context(), req.Src, req.URI); err != nil {
		s.writeErrorFor(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"uri": req.URI})
}

func (s *Server) handleAppend(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Source string `json:"source"`
	}
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.Source == "" {
		s.writeError(w, http.StatusBadRequest, "source is required")
		return
	}
	res, err := s.commits.CommitByAppend(r.Context(), req.Source)
	if err != nil {
		s.writeErrorFor(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Source string `json:"source"`
	}
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.Source == "" {
		s.writeError(w, http.StatusBadRequest, "source is required")
		return
	}
	res, err := s.commits.CommitByFileRegistration(r.Context(), req.Source)
	if err != nil {
		s.writeErrorFor(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleRows(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TableID string           `json:"tableId"`
		Rows    []map[string]any `json:"rows"`
	}
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if req.TableID == "" {
		req.TableID = s.cfg.TableID
	}
	if len(req.Rows) == 0 {
		s.writeError(w, http.StatusBadRequest, "rows are required")
		return
	}
	snapshotID, err := s.store.WriteRows(r.Context(), req.TableID, req.Rows)
	if err != nil {
		s.writeErrorFor(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"tableId":    req.TableID,
		"snapshotId": snapshotID,
		"rows":       len(req.Rows),
	})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		LocalPaths []string `json:"localPaths"`
		S3URIs     []string `json:"s3Uris"`
	}
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.LocalPaths == nil {
		req.LocalPaths = []string{
			filepath.Join(s.cfg.DataDir, "events_ns.flc"),
			filepath.Join(s.cfg.DataDir, "events_us.flc"),
		}
	}
	summary, err := demo.ResetState(r.Context(), s.store, s.objects, s.cfg.TableID, req.LocalPaths, req.S3URIs)
	if err != nil {
		s.writeErrorFor(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleEnsureBucket(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Bucket string `json:"bucket"`
	}
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.Bucket == "" {
		s.writeError(w, http.StatusBadRequest, "bucket is required")
		return
	}
	if err := s.objects.EnsureBucket(r.Context(), req.Bucket); err != nil {
		s.writeErrorFor(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"bucket": req.Bucket})
}

// decodeBody decodes a JSON request body. An empty body decodes to the zero
// request so endpoints can apply their defaults.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error("failed to encode JSON response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// writeErrorFor maps the error taxonomy onto status codes: unknown tables and
// columns are 404, commit conflicts 409, precision loss and schema mismatches
// 422, and unusable input 400.
func (s *Server) writeErrorFor(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, catalog.ErrTableNotFound), errors.Is(err, dataset.ErrColumnNotFound):
		status = http.StatusNotFound
	case errors.Is(err, catalog.ErrFileAlreadyReferenced), errors.Is(err, table.ErrCommit):
		status = http.StatusConflict
	case errors.Is(err, dataset.ErrPrecisionLoss),
		errors.Is(err, table.ErrSchemaMismatch),
		errors.Is(err, dataset.ErrSchemaCoercion):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, dataset.ErrUnsupportedType), errors.Is(err, colfile.ErrBadFormat):
		status = http.StatusBadRequest
	case errors.Is(err, os.ErrNotExist):
		status = http.StatusNotFound
	}
	s.writeError(w, status, err.Error())
}
