package serialization

import "errors"

// Common errors.
var (
	ErrHeaderTooLarge   = errors.New("header exceeds maximum size")
	ErrInvalidOffsets   = errors.New("invalid tensor data offsets")
	ErrUnsupportedDType = errors.New("unsupported dtype")
)
