package repositories

import "errors"

// ErrDuplicateEvent is returned when an insert hits the
// (integration_id, provider_event_id) unique index. The gateway treats
// it as a successful duplicate delivery.
var ErrDuplicateEvent = errors.New("webhook event already admitted")
