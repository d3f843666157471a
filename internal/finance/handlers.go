package finance

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zombor/household-finance/internal/invoice"
	"github.com/zombor/household-finance/internal/scanning"
)

const dayLayout = "2006-01-02"

// statusFor maps service and pipeline errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrDuplicateInvoice),
		errors.Is(err, ErrUsernameTaken),
		errors.Is(err, ErrLastAdmin),
		errors.Is(err, ErrNoHousehold):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidInput),
		errors.Is(err, invoice.ErrUnknownBank),
		errors.Is(err, scanning.ErrUnsupportedFormat),
		errors.Is(err, scanning.ErrEmptyDocument):
		return http.StatusBadRequest
	case errors.Is(err, scanning.ErrPasswordRequired),
		errors.Is(err, scanning.ErrWrongPassword),
		errors.Is(err, scanning.ErrOCRFailed),
		errors.Is(err, invoice.ErrDueDateNotFound),
		errors.Is(err, invoice.ErrTotalNotFound),
		errors.Is(err, invoice.ErrNoParser):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// writeError writes {"error": "..."}. Internal errors are logged and hidden.
func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error("Internal server error", "error", err)
		message = "Internal server error"
	}
	writeJSON(w, status, map[string]string{"error": message})
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid request body", ErrInvalidInput)
	}
	return nil
}

func parseDay(s string) (time.Time, error) {
	t, err := time.Parse(dayLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: dates must be YYYY-MM-DD", ErrInvalidInput)
	}
	return t, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	resp := map[string]any{"user": actor.User.Public()}
	if actor.Impersonator != nil {
		resp["impersonated_by"] = actor.Impersonator.Public()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleBanks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"banks": s.service.Banks()})
}

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"categories": s.service.Categories()})
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	month, err := ParseMonth(r.URL.Query().Get("month"), s.service.timeSource.Now())
	if err != nil {
		writeError(w, err)
		return
	}
	summary, err := s.service.Summary(actorFrom(r), month)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// contentTypeFor falls back to the file extension when the part has no
// specific type
func contentTypeFor(header string, filename string) string {
	contentType := strings.ToLower(strings.TrimSpace(header))
	if contentType != "" && contentType != "application/octet-stream" {
		return contentType
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return "application/pdf"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	default:
		return "application/octet-stream"
	}
}

// readUpload reads the multipart statement upload shared by import and parse
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (ImportRequest, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadSize)
	if err := r.ParseMultipartForm(s.maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "File is too large"})
			return ImportRequest{}, false
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Error parsing form"})
		return ImportRequest{}, false
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "No file provided"})
		return ImportRequest{}, false
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Error reading file"})
		return ImportRequest{}, false
	}

	return ImportRequest{
		Filename:    header.Filename,
		Data:        data,
		ContentType: contentTypeFor(header.Header.Get("Content-Type"), header.Filename),
		Bank:        r.FormValue("bank"),
		Password:    r.FormValue("password"),
	}, true
}

func (s *Server) handleImportInvoice(w http.ResponseWriter, r *http.Request) {
	req, ok := s.readUpload(w, r)
	if !ok {
		return
	}
	result, err := s.service.ImportInvoice(r.Context(), actorFrom(r), req)
	if err != nil {
		slog.Error("Error importing invoice", "filename", req.Filename, "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (s *Server) handleParseInvoice(w http.ResponseWriter, r *http.Request) {
	req, ok := s.readUpload(w, r)
	if !ok {
		return
	}
	result, err := s.service.ParseInvoice(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListInvoices(w http.ResponseWriter, r *http.Request) {
	recs, err := s.service.ListInvoices(actorFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleGetInvoice(w http.ResponseWriter, r *http.Request) {
	rec, txns, err := s.service.GetInvoiceWithTransactions(actorFrom(r), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"invoice":      rec,
		"transactions": txns,
	})
}

func (s *Server) handleGetInvoiceFile(w http.ResponseWriter, r *http.Request) {
	data, contentType, err := s.service.GetInvoiceFile(actorFrom(r), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

func (s *Server) handleDeleteInvoice(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteInvoice(actorFrom(r), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// filterFromQuery reads from, to, category and invoice_id
func filterFromQuery(r *http.Request) (Filter, error) {
	q := r.URL.Query()
	f := Filter{
		Category:  q.Get("category"),
		InvoiceID: q.Get("invoice_id"),
	}
	if v := q.Get("from"); v != "" {
		t, err := parseDay(v)
		if err != nil {
			return Filter{}, err
		}
		f.From = t
	}
	if v := q.Get("to"); v != "" {
		t, err := parseDay(v)
		if err != nil {
			return Filter{}, err
		}
		f.To = t
	}
	return f, nil
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	f, err := filterFromQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	txns, err := s.service.ListTransactions(actorFrom(r), f)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, txns)
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	t, err := s.service.GetTransaction(actorFrom(r), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

type transactionRequest struct {
	Date        *string          `json:"date"`
	Description *string          `json:"description"`
	Category    *string          `json:"category"`
	Amount      *decimal.Decimal `json:"amount"`
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req transactionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Date == nil || req.Description == nil || req.Amount == nil {
		writeError(w, fmt.Errorf("%w: date, description and amount are required", ErrInvalidInput))
		return
	}
	date, err := parseDay(*req.Date)
	if err != nil {
		writeError(w, err)
		return
	}

	in := TransactionInput{Date: date, Description: *req.Description, Amount: *req.Amount}
	if req.Category != nil {
		in.Category = *req.Category
	}
	t, err := s.service.CreateTransaction(actorFrom(r), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleUpdateTransaction(w http.ResponseWriter, r *http.Request) {
	var req transactionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	upd := TransactionUpdate{
		Description: req.Description,
		Category:    req.Category,
		Amount:      req.Amount,
	}
	if req.Date != nil {
		date, err := parseDay(*req.Date)
		if err != nil {
			writeError(w, err)
			return
		}
		upd.Date = &date
	}

	t, err := s.service.UpdateTransaction(actorFrom(r), r.PathValue("id"), upd)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteTransaction(actorFrom(r), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
