package dataset

import "errors"

var (
	// ErrColumnNotFound is returned when a requested column is absent from a
	// dataset. This is a caller bug and is never retried.
	ErrColumnNotFound = errors.New("column not found")

	// ErrPrecisionLoss is returned when a truncating timestamp cast would lose
	// information and the caller did not explicitly allow truncation.
	ErrPrecisionLoss = errors.New("timestamp cast would lose precision")

	// ErrSchemaCoercion is returned when a dataset cannot be coerced to a
	// destination schema (column count, kind or nullability mismatch).
	ErrSchemaCoercion = errors.New("schema coercion failed")

	// ErrUnsupportedType is returned by schema inference for a value outside
	// the supported primitive kinds.
	ErrUnsupportedType = errors.New("unsupported value type")
)
