package app

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/tandemfamily/tandem/internal/ledger/domain/incident"
	"github.com/tandemfamily/tandem/internal/ledger/storage"
	"github.com/tandemfamily/tandem/internal/ledger/verify"
	apperrors "github.com/tandemfamily/tandem/internal/platform/errors"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

type submitRequest struct {
	AuthorID    string   `json:"author_id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Severity    string   `json:"severity"`
	OccurredAt  string   `json:"occurred_at"`
	Location    string   `json:"location"`
	Witnesses   []string `json:"witnesses"`
}

type recordPayload struct {
	ID             string   `json:"id"`
	TenantID       string   `json:"tenant_id"`
	Sequence       uint64   `json:"sequence"`
	AuthorID       string   `json:"author_id"`
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	Severity       string   `json:"severity"`
	OccurredAt     string   `json:"occurred_at"`
	Location       string   `json:"location,omitempty"`
	Witnesses      []string `json:"witnesses,omitempty"`
	PreviousDigest string   `json:"previous_digest"`
	Digest         string   `json:"digest"`
	Signature      string   `json:"signature"`
	SignatureKeyID string   `json:"signature_key_id"`
	CreatedAt      string   `json:"created_at"`
}

type findingPayload struct {
	Kind     string `json:"kind"`
	Sequence uint64 `json:"sequence"`
	Detail   string `json:"detail"`
}

type verificationPayload struct {
	TenantID string           `json:"tenant_id"`
	Valid    bool             `json:"valid"`
	Records  int              `json:"records"`
	Findings []findingPayload `json:"findings"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func recordToPayload(rec incident.Record) recordPayload {
	return recordPayload{
		ID:             rec.ID,
		TenantID:       rec.TenantID,
		Sequence:       rec.Sequence,
		AuthorID:       rec.AuthorID,
		Title:          rec.Title,
		Description:    rec.Description,
		Severity:       string(rec.Severity),
		OccurredAt:     rec.OccurredAt.UTC().Format(time.RFC3339Nano),
		Location:       rec.Location,
		Witnesses:      rec.Witnesses,
		PreviousDigest: rec.PreviousDigest,
		Digest:         rec.Digest,
		Signature:      rec.Signature,
		SignatureKeyID: rec.SignatureKeyID,
		CreatedAt:      rec.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenant")

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, errorPayload{Code: "INVALID_JSON", Message: "request body is not valid JSON"})
		return
	}

	var occurredAt time.Time
	if req.OccurredAt != "" {
		parsed, err := time.Parse(time.RFC3339, req.OccurredAt)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, errorPayload{Code: "INVALID_OCCURRED_AT", Message: "occurred_at must be RFC 3339"})
			return
		}
		occurredAt = parsed
	}

	rec, err := s.writer.Submit(r.Context(), tenantID, req.AuthorID, incident.Content{
		Title:       req.Title,
		Description: req.Description,
		Severity:    incident.Severity(req.Severity),
		OccurredAt:  occurredAt,
		Location:    req.Location,
		Witnesses:   req.Witnesses,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, recordToPayload(rec))
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenant")

	afterSeq, err := parseUintParam(r, "after_seq", 0)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, errorPayload{Code: "INVALID_AFTER_SEQ", Message: "after_seq must be a non-negative integer"})
		return
	}
	limit, err := parseUintParam(r, "limit", defaultPageSize)
	if err != nil || limit == 0 {
		writeJSONError(w, http.StatusBadRequest, errorPayload{Code: "INVALID_LIMIT", Message: "limit must be a positive integer"})
		return
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	records, err := s.store.ListIncidents(r.Context(), tenantID, afterSeq, int(limit))
	if err != nil {
		writeError(w, err)
		return
	}

	payload := struct {
		TenantID string          `json:"tenant_id"`
		Records  []recordPayload `json:"records"`
	}{TenantID: tenantID, Records: make([]recordPayload, 0, len(records))}
	for _, rec := range records {
		payload.Records = append(payload.Records, recordToPayload(rec))
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenant")

	seq, err := strconv.ParseUint(r.PathValue("seq"), 10, 64)
	if err != nil || seq == 0 {
		writeJSONError(w, http.StatusBadRequest, errorPayload{Code: "INVALID_SEQUENCE", Message: "sequence must be a positive integer"})
		return
	}

	rec, err := s.store.GetBySeq(r.Context(), tenantID, seq)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recordToPayload(rec))
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenant")

	report, err := s.verifier.Verify(r.Context(), tenantID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reportToPayload(report))
}

func reportToPayload(report verify.Report) verificationPayload {
	payload := verificationPayload{
		TenantID: report.TenantID,
		Valid:    report.Valid(),
		Records:  len(report.Records),
		Findings: make([]findingPayload, 0, len(report.Findings)),
	}
	for _, f := range report.Findings {
		payload.Findings = append(payload.Findings, findingPayload{
			Kind:     string(f.Kind),
			Sequence: f.Sequence,
			Detail:   f.Detail,
		})
	}
	return payload
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenant")

	doc, err := s.exporter.Export(r.Context(), tenantID, s.now())
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="incident-ledger-`+tenantID+`.txt"`)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(doc)); err != nil {
		log.Printf("write export response: %v", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func parseUintParam(r *http.Request, name string, fallback uint64) (uint64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	return strconv.ParseUint(raw, 10, 64)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode response: %v", err)
	}
}

func writeJSONError(w http.ResponseWriter, status int, payload errorPayload) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode error response: %v", err)
	}
}

// writeError maps domain errors onto HTTP statuses via the shared error
// taxonomy. Not-found gets its own branch so list/get callers see a plain
// 404 instead of a wrapped storage failure.
func writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		writeJSONError(w, http.StatusNotFound, errorPayload{Code: string(apperrors.CodeNotFound), Message: "record not found"})
		return
	}
	status := apperrors.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		log.Printf("ledger request failed: %v", err)
	}
	writeJSONError(w, status, errorPayload{
		Code:    string(apperrors.GetCode(err)),
		Message: err.Error(),
	})
}
