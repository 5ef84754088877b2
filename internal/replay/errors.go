package replay

import "errors"

// ErrInvalidOrdering is returned when an engine receives events out of slot order.
var ErrInvalidOrdering = errors.New("events are not in deterministic order")
