package engine

import "github.com/cockroachdb/errors"

// ErrInvalidIDField is returned when a pagination cursor field is not one of
// the table's declared unique columns.
var ErrInvalidIDField = errors.New("invalid operation for idField")

// ErrInvalidOperation is returned when a lookup over the find fields does not
// resolve to the required number of rows (exactly one for update and delete,
// at most one for the upsert operations).
var ErrInvalidOperation = errors.New("invalid operation")

// ErrUnsupportedOperation is returned for an unrecognized update operation type.
var ErrUnsupportedOperation = errors.New("unsupported operation")
