package generation

import "errors"

// Errors a Generator may return. The first three are fatal: retrying cannot
// help. Anything else, ErrEmptyResult included, is retried.
var (
	ErrAuthRequired    = errors.New("generation service requires credentials")
	ErrAuthInvalid     = errors.New("generation service rejected credentials")
	ErrUnsupportedType = errors.New("generation service cannot produce this asset type")
	ErrEmptyResult     = errors.New("generation service returned no asset")
)

// IsFatal reports whether err should stop retrying.
func IsFatal(err error) bool {
	return errors.Is(err, ErrAuthRequired) ||
		errors.Is(err, ErrAuthInvalid) ||
		errors.Is(err, ErrUnsupportedType)
}
