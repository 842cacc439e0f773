package patient

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrDuplicate     = errors.New("record duplicates an existing patient")
	ErrInvalidRecord = errors.New("record failed validation")
)

// DuplicateAnalyzer decides whether a record duplicates a stored one.
type DuplicateAnalyzer interface {
	AnalyzeDuplicates(ctx context.Context, r *Record) (*DuplicateAnalysisResult, error)
}

// IntakeError carries the analysis that blocked an intake.
type IntakeError struct {
	Err      error
	Analysis *DuplicateAnalysisResult
}

func (e *IntakeError) Error() string { return e.Err.Error() }
func (e *IntakeError) Unwrap() error { return e.Err }

type Service struct {
	records  Repository
	analyzer DuplicateAnalyzer
	logger   zerolog.Logger
}

func NewService(records Repository, analyzer DuplicateAnalyzer, logger zerolog.Logger) *Service {
	return &Service{records: records, analyzer: analyzer, logger: logger}
}

// Intake analyzes and persists a newly extracted record. Duplicates and
// invalid records are rejected with an *IntakeError. force lets duplicates and
// format or required-field failures through, but never an unsupported country
// or an identifier key the country does not accept.
func (s *Service) Intake(ctx context.Context, r *Record, force bool) (*StoredRecord, *DuplicateAnalysisResult, error) {
	analysis, err := s.analyzer.AnalyzeDuplicates(ctx, r)
	if err != nil {
		return nil, nil, fmt.Errorf("analyze duplicates: %w", err)
	}

	if !force {
		if analysis.IsDuplicate {
			return nil, analysis, &IntakeError{Err: ErrDuplicate, Analysis: analysis}
		}
		if len(analysis.ValidationErrors) > 0 {
			return nil, analysis, &IntakeError{Err: ErrInvalidRecord, Analysis: analysis}
		}
	} else if !Storable(r) {
		return nil, analysis, &IntakeError{Err: ErrInvalidRecord, Analysis: analysis}
	}

	stored := &StoredRecord{Record: *r}
	stored.Status = StatusExtracted
	if force && analysis.IsDuplicate {
		stored.Status = StatusDuplicate
	}
	if err := s.records.Create(ctx, stored); err != nil {
		return nil, analysis, err
	}

	s.logger.Info().
		Str("record_id", stored.ID.String()).
		Str("country", string(stored.Country)).
		Str("status", string(stored.Status)).
		Bool("forced", force).
		Int("duplicates", len(analysis.Duplicates)).
		Msg("patient record stored")
	return stored, analysis, nil
}

func (s *Service) GetRecord(ctx context.Context, id uuid.UUID) (*StoredRecord, error) {
	return s.records.GetByID(ctx, id)
}

func (s *Service) ListRecords(ctx context.Context, limit, offset int) ([]*StoredRecord, int, error) {
	return s.records.List(ctx, limit, offset)
}

func (s *Service) DeleteRecord(ctx context.Context, id uuid.UUID) error {
	return s.records.Delete(ctx, id)
}

func (s *Service) Confirm(ctx context.Context, id uuid.UUID) error {
	return s.setStatus(ctx, id, StatusConfirmed)
}

func (s *Service) MarkDuplicate(ctx context.Context, id uuid.UUID) error {
	return s.setStatus(ctx, id, StatusDuplicate)
}

func (s *Service) setStatus(ctx context.Context, id uuid.UUID, status Status) error {
	if id == uuid.Nil {
		return fmt.Errorf("id is required")
	}
	if err := s.records.UpdateStatus(ctx, id, status); err != nil {
		return err
	}
	s.logger.Info().Str("record_id", id.String()).Str("status", string(status)).Msg("patient record status changed")
	return nil
}
