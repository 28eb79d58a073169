// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config loads the chanrelay daemon configuration.
//
// Precedence is ENV > file > defaults. Files are strict YAML: unknown keys are
// rejected. ConfigHolder watches the file and publishes validated reloads.
package config
