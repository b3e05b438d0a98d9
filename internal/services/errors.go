package services

import (
	"errors"
	"fmt"

	apperrors "kpicompare/internal/errors"
)

// Comparison service errors
var (
	ErrRunNotFound    = errors.New("run not found")
	ErrRunNotReady    = errors.New("run has not completed")
	ErrFamilyNotFound = errors.New("family not found")
	ErrNotComparable  = errors.New("snapshots have no counters to compare")
	ErrServiceClosed  = errors.New("comparison service is shutting down")
)

func runNotFound(id string) error {
	return apperrors.NewAppError(apperrors.ErrTypeNotFound, fmt.Sprintf("run %s not found", id), ErrRunNotFound).
		WithContext("run_id", id)
}

func runNotReady(id string) error {
	return apperrors.NewAppError(apperrors.ErrTypeConflict, fmt.Sprintf("run %s has not completed", id), ErrRunNotReady).
		WithContext("run_id", id)
}

func familyNotFound(runID, family string) error {
	return apperrors.NewAppError(apperrors.ErrTypeNotFound, fmt.Sprintf("family %s not found in run %s", family, runID), ErrFamilyNotFound).
		WithContext("run_id", runID).
		WithContext("family", family)
}

func notComparable(family string) error {
	err := apperrors.NewNotComparableError(family)
	err.Cause = ErrNotComparable
	return err
}
