package service

import (
	"os"
	"strings"
	"testing"

	"imgscan/image"
)

func TestInitialize(t *testing.T) {
	env := newTestEnv(t, image.DriverGeneric)

	result, err := env.svc.Initialize()
	if err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}
	if !result.DatabaseInitialized {
		t.Error("DatabaseInitialized = false")
	}
	for _, dir := range result.DirsCreated {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Errorf("directory %s not created", dir)
		}
	}
	if len(result.Warnings) != 0 {
		t.Errorf("unexpected warnings with a complete host: %v", result.Warnings)
	}
}

func TestInitialize_MissingSources(t *testing.T) {
	env := newTestEnv(t, image.DriverGeneric)
	if err := os.Remove(env.cfg.LauncherPath); err != nil {
		t.Fatal(err)
	}
	if err := os.RemoveAll(env.cfg.CredentialsDir); err != nil {
		t.Fatal(err)
	}

	result, err := env.svc.Initialize()
	if err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}
	if len(result.Warnings) != 2 {
		t.Fatalf("Warnings = %v, want 2", result.Warnings)
	}
	if !strings.Contains(result.Warnings[0], "launcher") {
		t.Errorf("first warning = %q", result.Warnings[0])
	}
}
