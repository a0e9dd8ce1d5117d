package core

import "errors"

var (
	ErrUnknownModcod       = errors.New("unknown modcod")
	ErrUnknownCategory     = errors.New("unknown category")
	ErrUnknownCarrierGroup = errors.New("unknown carrier group")
	ErrTerminalExists      = errors.New("terminal already logged on")
	ErrTerminalNotFound    = errors.New("terminal not found")
	ErrNegativeCapacity    = errors.New("negative remaining capacity")
	ErrCycleOverlap        = errors.New("allocation cycle still in progress")
	ErrBadScenario         = errors.New("invalid scenario")
)
