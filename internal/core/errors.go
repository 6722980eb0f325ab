package core

import "errors"

// ErrInvalidArgument marks failures caused by the caller: an unresolved
// patient, provider or location reference, a tag without images, an unusable
// file name or an unknown image.
var ErrInvalidArgument = errors.New("invalid argument")
