package shared

import "errors"

// ErrInvalidSignature occurs when a webhook signature does not verify.
var ErrInvalidSignature = errors.New("invalid signature")
