// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package transport builds realtime.Transport adapters by kind.
package transport

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ManuGH/chanrelay/internal/realtime"
	"github.com/ManuGH/chanrelay/internal/transport/kafka"
	"github.com/ManuGH/chanrelay/internal/transport/memory"
	"github.com/ManuGH/chanrelay/internal/transport/nats"
	"github.com/ManuGH/chanrelay/internal/transport/pusher"
	"github.com/ManuGH/chanrelay/internal/transport/redis"
)

// ErrUnknownKind is returned for unsupported transport kinds.
var ErrUnknownKind = errors.New("unknown transport kind")

// Kinds lists the supported transport kinds.
var Kinds = []string{pusher.Name, redis.Name, nats.Name, kafka.Name, memory.Name}

// New returns a transport for kind (case-insensitive).
func New(kind string) (realtime.Transport, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case pusher.Name:
		return pusher.New(), nil
	case redis.Name:
		return redis.New(), nil
	case nats.Name:
		return nats.New(), nil
	case kafka.Name:
		return kafka.New(), nil
	case memory.Name:
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("%w: %q (want one of %s)", ErrUnknownKind, kind, strings.Join(Kinds, ", "))
	}
}

// Supported reports whether kind names a transport.
func Supported(kind string) bool {
	_, err := New(kind)
	return err == nil
}
