package ingest

import "errors"

// errUnknownClass is returned when a payload arrives on an unrecognized
// telemetry stream.
var errUnknownClass = errors.New("unknown device class")
