package core

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/campusops/admin/internal/config"
	"github.com/campusops/admin/internal/logging"
)

// Service provides the core business logic for student imports and records.
// It is safe for concurrent use; each import runs on its own transaction.
type Service struct {
	db       Store
	settings config.ImportConfig
	catalog  config.Catalog

	limiter    *ImportLimiter
	institutes *InstituteResolver
	courses    *CourseResolver
	ids        *IDAllocator
}

// NewService creates a Service over db using the import settings and the
// table catalog.
func NewService(db Store, settings config.ImportConfig, catalog config.Catalog) *Service {
	return &Service{
		db:         db,
		settings:   settings,
		catalog:    catalog,
		limiter:    NewImportLimiter(settings.MaxConcurrent, settings.MaxWaitTime),
		institutes: NewInstituteResolver(db, catalog),
		courses:    NewCourseResolver(db, catalog),
		ids:        NewIDAllocator(db, catalog),
	}
}

func (s *Service) chunkSize(mode WriteMode) int {
	if mode == ModeUpsert {
		return s.settings.UpsertChunk
	}
	return s.settings.InsertChunk
}

// Import runs the full pipeline on one CSV payload: parse, map headers,
// normalize, and write every row in a single transaction. Either every chunk
// commits or none does.
//
// The import id is taken from ctx (see logging.ContextWithImportID) or
// generated, and is reported in the result and in every log line.
func (s *Service) Import(ctx context.Context, data []byte, mode WriteMode) (*ImportResult, error) {
	if _, ok := ParseWriteMode(string(mode)); !ok {
		return nil, fmt.Errorf("unknown write mode %q", mode)
	}
	if len(data) == 0 {
		return nil, ErrNoCSV
	}
	if s.settings.MaxFileSize > 0 && int64(len(data)) > s.settings.MaxFileSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrFileTooLarge, len(data), s.settings.MaxFileSize)
	}

	importID := logging.ImportID(ctx)
	if importID == "" {
		importID = uuid.NewString()
		ctx = logging.ContextWithImportID(ctx, importID)
	}
	logger := logging.WithFields(ctx, "mode", mode)

	if err := s.limiter.Acquire(ctx); err != nil {
		logger.Warn("import rejected", "error", err)
		return nil, err
	}
	defer s.limiter.Release()

	if s.settings.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.settings.Timeout)
		defer cancel()
	}

	start := time.Now()
	logger.Debug("import phase", "phase", PhaseReceived, "bytes", len(data))

	headers, raw, err := ParseCSV(data)
	if err != nil {
		logger.Info("import rejected", "phase", PhaseFailed, "error", err)
		return nil, err
	}
	logger.Debug("import phase", "phase", PhaseParsed, "rows", len(raw), "headers", len(headers))

	mapped, warnings := MapRows(headers, raw)
	logger.Debug("import phase", "phase", PhaseMapped, "warnings", len(warnings))

	norm := NewNormalizer(s.institutes, s.courses, s.settings.CacheLookups)
	rows := make([]StudentRow, len(mapped))
	for i, r := range mapped {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("normalize row %d: %w", i+1, err)
		}
		rows[i] = norm.Normalize(ctx, r)
	}
	logger.Debug("import phase", "phase", PhaseNormalized)

	var affected int64
	err = withTx(ctx, s.db, func(tx pgx.Tx) error {
		logger.Debug("import phase", "phase", PhaseWriting, "chunk_size", s.chunkSize(mode))
		n, err := writeChunks(ctx, tx, s.catalog.StudentTable, rows, mode, s.chunkSize(mode))
		affected = n
		return err
	})
	if err != nil {
		logger.Error("import rolled back", "phase", PhaseFailed, "rows", len(rows), "error", err)
		return nil, fmt.Errorf("import %s: %w", importID, err)
	}

	result := &ImportResult{
		ImportID:  importID,
		Mode:      mode,
		TotalRows: len(rows),
		Warnings:  warnings,
		Duration:  time.Since(start),
	}
	if mode == ModeUpsert {
		result.Affected = affected
	} else {
		result.Inserted = affected
		result.Skipped = int64(len(rows)) - affected
	}

	logger.Info("import committed",
		"phase", PhaseCommitted,
		"rows", result.TotalRows,
		"inserted", result.Inserted,
		"skipped", result.Skipped,
		"affected", result.Affected,
		"duration", result.Duration,
	)
	return result, nil
}

// LimiterStatus returns the import limiter state for monitoring.
func (s *Service) LimiterStatus() LimiterStatus {
	return s.limiter.Status()
}

// WaitForImports blocks until running imports finish or ctx ends.
// Called during shutdown.
func (s *Service) WaitForImports(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}

// LastNumericID returns MAX(stuid), 0 when there are no students.
func (s *Service) LastNumericID(ctx context.Context) (int64, error) {
	return s.ids.LastNumericID(ctx)
}

// NextNumericID returns the next numeric stuid.
func (s *Service) NextNumericID(ctx context.Context) (int64, error) {
	return s.ids.NextNumericID(ctx)
}

// LastPatternID returns the stuid with the greatest trailing number.
func (s *Service) LastPatternID(ctx context.Context) (string, bool, error) {
	return s.ids.LastPatternID(ctx)
}

// NextPatternID returns the stuid following LastPatternID.
func (s *Service) NextPatternID(ctx context.Context, prefix string, pad int) (string, error) {
	return s.ids.NextPatternID(ctx, prefix, pad)
}
