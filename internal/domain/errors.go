package domain

import "errors"

// ErrCalendarConflict is returned by calendar providers that reject an event
// because it overlaps an existing one.
var ErrCalendarConflict = errors.New("calendar: event conflicts with an existing event")
