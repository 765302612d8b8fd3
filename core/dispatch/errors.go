package dispatch

import "errors"

var (
	// ErrUnitBusy is returned when the target already has an outstanding
	// command.
	ErrUnitBusy = errors.New("unit busy")
	// ErrDuplicateCommand is returned when a command id was already issued
	// in this run.
	ErrDuplicateCommand = errors.New("duplicate command id")
	// ErrClosed is returned when dispatching after shutdown began.
	ErrClosed = errors.New("dispatcher closed")
)
