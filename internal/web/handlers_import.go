package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"

	"github.com/google/uuid"

	"github.com/campusops/admin/internal/core"
	"github.com/campusops/admin/internal/logging"
)

// multipartOverhead allows for boundaries and part headers on top of the
// file itself when capping a multipart body.
const multipartOverhead = 64 << 10

// insertResponse is the body returned by POST /bulk.
type insertResponse struct {
	Message    string         `json:"message"`
	ImportID   string         `json:"import_id"`
	TotalRows  int            `json:"total_rows"`
	Inserted   int64          `json:"inserted_rows"`
	Skipped    int64          `json:"skipped_or_conflicted"`
	Warnings   []core.Warning `json:"warnings"`
	DurationMS int64          `json:"duration_ms"`
}

// upsertResponse is the body returned by POST /bulk-upsert.
type upsertResponse struct {
	Message    string         `json:"message"`
	ImportID   string         `json:"import_id"`
	TotalRows  int            `json:"total_rows"`
	Affected   int64          `json:"affected_rows"`
	Warnings   []core.Warning `json:"warnings"`
	DurationMS int64          `json:"duration_ms"`
}

// handleBulk runs one import in the given mode. The import id is generated
// here and returned in X-Import-ID before any work starts, so even a failed
// import can be found in the logs.
func (s *Server) handleBulk(mode core.WriteMode) http.HandlerFunc {
	fallback := "Internal server error during bulk insert."
	if mode == core.ModeUpsert {
		fallback = "Internal server error during bulk upsert."
	}

	return func(w http.ResponseWriter, r *http.Request) {
		importID := uuid.NewString()
		w.Header().Set("X-Import-ID", importID)
		ctx := logging.ContextWithImportID(r.Context(), importID)
		r = r.WithContext(ctx)

		data, err := readCSVBody(w, r, s.cfg.Import.MaxFileSize)
		if err != nil {
			s.respondErrorFallback(w, r, err, fallback)
			return
		}

		res, err := s.service.Import(ctx, data, mode)
		if err != nil {
			s.respondErrorFallback(w, r, err, fallback)
			return
		}

		warnings := res.Warnings
		if warnings == nil {
			warnings = []core.Warning{}
		}

		if mode == core.ModeUpsert {
			writeJSON(w, http.StatusOK, upsertResponse{
				Message:    "Bulk upsert completed",
				ImportID:   res.ImportID,
				TotalRows:  res.TotalRows,
				Affected:   res.Affected,
				Warnings:   warnings,
				DurationMS: res.Duration.Milliseconds(),
			})
			return
		}
		writeJSON(w, http.StatusOK, insertResponse{
			Message:    "Bulk insert completed",
			ImportID:   res.ImportID,
			TotalRows:  res.TotalRows,
			Inserted:   res.Inserted,
			Skipped:    res.Skipped,
			Warnings:   warnings,
			DurationMS: res.Duration.Milliseconds(),
		})
	}
}

// readCSVBody extracts the CSV payload from a multipart "file" field, a raw
// text/csv or text/plain body, or a JSON object {"csv": "..."}, in that
// order of preference. Anything else is core.ErrNoCSV.
func readCSVBody(w http.ResponseWriter, r *http.Request, maxSize int64) ([]byte, error) {
	limit := maxSize
	if limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	var (
		data []byte
		err  error
	)
	switch mediaType {
	case "multipart/form-data":
		data, err = readMultipartFile(r)
	case "text/csv", "text/plain":
		data, err = io.ReadAll(r.Body)
	case "application/json":
		data, err = readJSONCSV(r)
	default:
		return nil, core.ErrNoCSV
	}
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, fmt.Errorf("%w: request exceeds %d bytes", core.ErrFileTooLarge, tooLarge.Limit)
		}
		return nil, err
	}
	if limit > 0 && int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", core.ErrFileTooLarge, len(data), limit)
	}
	if len(data) == 0 {
		return nil, core.ErrNoCSV
	}
	return data, nil
}

func readMultipartFile(r *http.Request) ([]byte, error) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, err
		}
		return nil, core.ErrNoCSV
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		return nil, core.ErrNoCSV
	}
	defer file.Close()

	return io.ReadAll(file)
}

func readJSONCSV(r *http.Request) ([]byte, error) {
	var body struct {
		CSV *string `json:"csv"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, err
		}
		return nil, core.ErrNoCSV
	}
	if body.CSV == nil {
		return nil, core.ErrNoCSV
	}
	return []byte(*body.CSV), nil
}
