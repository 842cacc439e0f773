package dedup

import (
	"errors"

	"github.com/rkgudboy/patient-data-extraction/internal/domain/patient"
)

var (
	// ErrInvalidInput means the record lacks the fields needed to query.
	ErrInvalidInput = errors.New("invalid input")

	// ErrStoreUnavailable means a retrieval call failed or timed out. It is the
	// same value stores return so errors.Is works across both layers.
	ErrStoreUnavailable = patient.ErrStoreUnavailable
)
