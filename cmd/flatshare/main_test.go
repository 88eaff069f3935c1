package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"flatshare/internal/config"
)

func TestSetupLogger_WritesToFileAtLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "flat.log")
	logger, closeLog, err := setupLogger(config.GeneralConfig{LogLevel: "warn", LogFile: path})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	logger.Info("quiet")
	logger.Warn("loud")
	closeLog()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if strings.Contains(string(data), "quiet") || !strings.Contains(string(data), "loud") {
		t.Fatalf("unexpected log contents %q", data)
	}
}

func TestSetupLogger_BadLevelFallsBackToInfo(t *testing.T) {
	logger, closeLog, err := setupLogger(config.GeneralConfig{LogLevel: "chatty"})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	defer closeLog()
	if !logger.Enabled(context.Background(), 0) {
		t.Fatal("info should be enabled")
	}
}

func TestNewGenerator_DefaultsToFailoverChain(t *testing.T) {
	cfg := config.Defaults()
	gen, err := newGenerator(cfg, nil)
	if err != nil {
		t.Fatalf("generator: %v", err)
	}
	if !strings.HasPrefix(gen.Name(), "failover(") {
		t.Fatalf("unexpected generator %q", gen.Name())
	}
}
