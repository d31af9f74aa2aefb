package domain

import "errors"

var (
	// ErrSchemaMismatch means a feature vector does not match the column
	// schema a scaler or model was fit against, or the schema is unknown.
	ErrSchemaMismatch = errors.New("feature schema mismatch")

	// ErrNotFound means an artifact or record does not exist. Callers are
	// expected to fall back.
	ErrNotFound = errors.New("not found")

	// ErrArtifactCorrupt means an artifact exists but cannot be decoded.
	// It matches ErrNotFound under errors.Is.
	ErrArtifactCorrupt = &corruptError{}

	// ErrNoData means there is no observation to score.
	ErrNoData = errors.New("no observation data")

	// ErrTrainingSkipped marks a target whose label has fewer than two distinct values.
	ErrTrainingSkipped = errors.New("training skipped")

	// ErrInference means a model call failed for one target.
	ErrInference = errors.New("inference failed")
)

type corruptError struct{}

func (*corruptError) Error() string { return "artifact corrupt" }

func (*corruptError) Is(target error) bool { return target == ErrNotFound }
