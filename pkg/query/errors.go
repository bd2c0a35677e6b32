package query

import (
	"errors"
)

// ErrMemoryPressure means a query was rejected before execution because the
// process memory ratio exceeded the configured hard ceiling. Distinct from
// underlying query failures so callers can apply backoff and retry.
var ErrMemoryPressure = errors.New("memory pressure ceiling exceeded")
