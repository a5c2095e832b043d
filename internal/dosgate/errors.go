// Package dosgate defines sentinel errors.
package dosgate

import "errors"

// ErrInvalidConfig indicates configuration validation failures.
var ErrInvalidConfig = errors.New("invalid configuration")

// ErrClosed indicates use of the gate after shutdown.
var ErrClosed = errors.New("gate is closed")
