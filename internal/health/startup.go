// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package health

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ManuGH/evsync/internal/config"
	"github.com/ManuGH/evsync/internal/log"
	"github.com/ManuGH/evsync/internal/persistence/sqlite"
	"github.com/ManuGH/evsync/internal/sensor"
	"github.com/ManuGH/evsync/internal/session/store"
)

// PerformStartupChecks validates the environment before the daemon starts:
// the camera driver must be registered and, when any node records raw
// files, the raw directory must be writable. An existing sqlite session
// store must pass a quick integrity check.
func PerformStartupChecks(_ context.Context, cfg config.Config) error {
	logger := log.WithComponent("startup-check")

	if _, err := sensor.Driver(cfg.Capture.Camera); err != nil {
		return fmt.Errorf("camera driver check failed: %w", err)
	}

	for _, n := range cfg.Nodes {
		if n.SaveRawFile {
			if err := checkRawDir(logger, cfg.Capture.RawDir); err != nil {
				return fmt.Errorf("raw directory check failed: %w", err)
			}
			break
		}
	}

	if usesSqliteStore(cfg.Store) {
		if err := checkStoreIntegrity(logger, cfg.Store.Path); err != nil {
			return fmt.Errorf("session store check failed: %w", err)
		}
	}

	logger.Info().Str("event", "startup.checks_passed").Msg("all startup checks passed")
	return nil
}

func checkRawDir(logger zerolog.Logger, path string) error {
	if err := os.MkdirAll(path, 0o750); err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	testFile := filepath.Join(path, ".write_test")
	if err := os.WriteFile(testFile, []byte("ok"), 0o600); err != nil {
		return fmt.Errorf("directory is not writable: %s (error: %v)", path, err)
	}
	_ = os.Remove(testFile)

	logger.Info().Str("path", path).Msg("raw directory is writable")
	return nil
}

func usesSqliteStore(cfg config.StoreConfig) bool {
	return cfg.Backend == store.BackendSqlite || (cfg.Backend == "" && cfg.Path != "")
}

func checkStoreIntegrity(logger zerolog.Logger, path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	issues, err := sqlite.VerifyIntegrity(path, "quick")
	if err != nil {
		return err
	}
	if len(issues) > 0 {
		return fmt.Errorf("%s is corrupt: %s", path, strings.Join(issues, "; "))
	}
	logger.Info().Str("path", path).Msg("session store integrity ok")
	return nil
}
