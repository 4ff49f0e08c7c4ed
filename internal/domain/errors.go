package domain

import "errors"

// ErrMissingCredential is returned when no upstream API key is configured.
var ErrMissingCredential = errors.New("upstream API credential is not configured")
