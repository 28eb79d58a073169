// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package pusher

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/ManuGH/chanrelay/internal/realtime"
	"github.com/ManuGH/chanrelay/internal/transport/wire"
)

const (
	protocolVersion = 7
	clientName      = "chanrelay-go"
	clientVersion   = "1.0.0"

	defaultCluster         = "mt1"
	defaultActivityTimeout = 120 * time.Second
	defaultPongTimeout     = 30 * time.Second
)

// ErrMissingKey is returned by Connect when no app key is configured.
var ErrMissingKey = errors.New("pusher app key is required")

type settings struct {
	url             string
	activityTimeout time.Duration
	pongTimeout     time.Duration
}

func parseSettings(key string, o realtime.Options) (settings, error) {
	if key == "" {
		return settings{}, ErrMissingKey
	}
	useTLS, err := wire.Bool(o, "useTLS", true)
	if err != nil {
		return settings{}, err
	}
	port, err := wire.Int(o, "port", 0)
	if err != nil {
		return settings{}, err
	}
	if port < 0 || port > 65535 {
		return settings{}, fmt.Errorf("%w: port %d out of range", wire.ErrInvalidOption, port)
	}
	activity, err := wire.Duration(o, "activityTimeout", defaultActivityTimeout)
	if err != nil {
		return settings{}, err
	}
	pong, err := wire.Duration(o, "pongTimeout", defaultPongTimeout)
	if err != nil {
		return settings{}, err
	}

	host := wire.String(o, "host", "")
	if host == "" {
		host = "ws-" + wire.String(o, "cluster", defaultCluster) + ".pusher.com"
	}
	if port != 0 {
		if h, _, splitErr := net.SplitHostPort(host); splitErr == nil {
			host = h
		}
		host = net.JoinHostPort(host, strconv.Itoa(port))
	}
	scheme := "ws"
	if useTLS {
		scheme = "wss"
	}

	q := url.Values{}
	q.Set("protocol", strconv.Itoa(protocolVersion))
	q.Set("client", clientName)
	q.Set("version", clientVersion)
	q.Set("flash", "false")
	u := url.URL{
		Scheme:   scheme,
		Host:     host,
		Path:     "/app/" + key,
		RawQuery: q.Encode(),
	}
	return settings{
		url:             u.String(),
		activityTimeout: activity,
		pongTimeout:     pong,
	}, nil
}
