package resolver

import "errors"

// ErrResolution wraps any store failure met while resolving. It is distinct
// from a deny: callers should answer it with a server error.
var ErrResolution = errors.New("permission resolution failed")
