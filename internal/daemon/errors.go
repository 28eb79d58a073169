// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import "errors"

var (
	// ErrAlreadyRunning is returned when Run is called twice on one App.
	ErrAlreadyRunning = errors.New("app already running")

	// ErrBootstrap wraps failures while wiring the bus at startup.
	ErrBootstrap = errors.New("bootstrap failed")
)
