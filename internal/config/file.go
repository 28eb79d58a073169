// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/google/renameio/v2"
)

const starterConfig = `# chanrelay configuration
logLevel: info
logService: chanrelay

transport:
  # pusher | redis | nats | kafka | memory
  kind: pusher
  key: your-app-key
  options:
    cluster: mt1

# Channels subscribed at startup. Channels added on reload are subscribed
# without a restart; removed channels stay subscribed until restart.
channels: []

# Event names logged at info level by the daemon.
logEvents: []

api:
  listenAddr: ":8080"
  rateLimit: 60
  streamBuffer: 64

telemetry:
  enabled: false
  exporter: http
  endpoint: localhost:4318
  samplingRate: 1.0
`

// WriteDefault writes a starter config file atomically. An existing file is
// only replaced when overwrite is set.
func WriteDefault(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%w: %s", ErrConfigExists, path)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("stat %s: %w", path, err)
		}
	}

	// renameio handles: temp file creation, fsync, atomic rename, cleanup on error
	pendingFile, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o600))
	if err != nil {
		return fmt.Errorf("create pending file: %w", err)
	}
	defer func() { _ = pendingFile.Cleanup() }()

	if _, err := pendingFile.WriteString(starterConfig); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := pendingFile.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("commit config: %w", err)
	}
	return nil
}

// StarterConfig returns the YAML written by WriteDefault.
func StarterConfig() string { return starterConfig }
