package canard

import "errors"

// ErrInvalidArgument is returned when a required argument is missing
// (e.g. a nil transfer id). Nothing is enqueued in that case.
var ErrInvalidArgument = errors.New("canard: invalid argument")
