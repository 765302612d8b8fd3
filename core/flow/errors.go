package flow

import "errors"

var (
	// ErrBufferAccess is returned when a load command targets a buffer the
	// unit has no access right to.
	ErrBufferAccess = errors.New("buffer access violation")
	// ErrNotEligible is returned when the target unit is outside the
	// product's eligible AGV set.
	ErrNotEligible = errors.New("unit not eligible")
	// ErrUnknownLine is returned for commands addressing an unconfigured line.
	ErrUnknownLine = errors.New("unknown line")
)
