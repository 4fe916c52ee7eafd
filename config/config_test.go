package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseBool(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected bool
	}{
		{"true lowercase", "true", true},
		{"false lowercase", "false", false},
		{"yes lowercase", "yes", true},
		{"YES uppercase", "YES", true},
		{"no lowercase", "no", false},
		{"1 as string", "1", true},
		{"0 as string", "0", false},
		{"on lowercase", "on", true},
		{"off lowercase", "off", false},
		{"random string", "random", false},
		{"empty string", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if result := parseBool(tt.input); result != tt.expected {
				t.Errorf("parseBool(%q) = %v, want %v", tt.input, result, tt.expected)
			}
		})
	}
}

func TestConfig_DefaultValues(t *testing.T) {
	cfg, err := LoadConfig("/nonexistent/path", "")
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	checks := map[string][2]string{
		"SystemPath":       {cfg.SystemPath, "/"},
		"ImageDir":         {cfg.ImageDir, "/var/tmp/tmp_image_dir"},
		"OutputDir":        {cfg.OutputDir, "/var/tmp/docker"},
		"CollectorDir":     {cfg.CollectorDir, "/var/tmp/insights-client"},
		"HostLogDir":       {cfg.HostLogDir, "/var/tmp/log"},
		"VarTmpDir":        {cfg.VarTmpDir, "/var/tmp/vartmp"},
		"StagingEtcDir":    {cfg.StagingEtcDir, "/home/temp_etc"},
		"InterpreterDir":   {cfg.InterpreterDir, "/usr/lib/python2.7"},
		"CredentialsDir":   {cfg.CredentialsDir, "/etc/pki/consumer"},
		"LauncherPath":     {cfg.LauncherPath, "/home/insights-docker/launcher.sh"},
		"CollectorEtcName": {cfg.CollectorEtcName, "redhat-access-insights"},
		"OutputType":       {cfg.OutputType, "images"},
		"ReleaseFile":      {cfg.ReleaseFile, "redhat-release"},
		"ReleaseName":      {cfg.ReleaseName, "Red Hat Enterprise Linux"},
		"ReleaseVersion":   {cfg.ReleaseVersion, "7."},
		"HostBackend":      {cfg.HostBackend, "system"},
		"Database.Path":    {cfg.Database.Path, "/var/lib/imgscan/scans.db"},
	}
	for name, c := range checks {
		if c[0] != c[1] {
			t.Errorf("%s = %q, want %q", name, c[0], c[1])
		}
	}

	if cfg.LauncherTimeout != 0 {
		t.Errorf("LauncherTimeout = %v, want 0 (no timeout)", cfg.LauncherTimeout)
	}
	if got := cfg.CollectorPythonDir(); got != "/var/tmp/insights-client/opt/python" {
		t.Errorf("CollectorPythonDir() = %q", got)
	}
}

func TestConfig_LoadFromFile(t *testing.T) {
	tempDir := t.TempDir()
	configFile := filepath.Join(tempDir, "imgscan.ini")

	configContent := `[Global Configuration]
profile_selected=lab
Directory_output=/global/output
Release_name=Global Distro
Debug=no

[lab]
Directory_image=/lab/image
Directory_output=/lab/output
Release_name=Example Distro
Release_version=7.
Launcher_timeout=15m
Docker_host=unix:///run/lab.sock
`
	if err := os.WriteFile(configFile, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadConfig(tempDir, "")
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Profile != "lab" {
		t.Errorf("Profile = %q, want lab", cfg.Profile)
	}
	if cfg.ImageDir != "/lab/image" {
		t.Errorf("ImageDir = %q, want /lab/image", cfg.ImageDir)
	}
	// Profile wins over global
	if cfg.OutputDir != "/lab/output" {
		t.Errorf("OutputDir = %q, want /lab/output", cfg.OutputDir)
	}
	if cfg.ReleaseName != "Example Distro" {
		t.Errorf("ReleaseName = %q, want Example Distro", cfg.ReleaseName)
	}
	if cfg.LauncherTimeout != 15*time.Minute {
		t.Errorf("LauncherTimeout = %v, want 15m", cfg.LauncherTimeout)
	}
	if cfg.DockerHost != "unix:///run/lab.sock" {
		t.Errorf("DockerHost = %q", cfg.DockerHost)
	}
	// Unset values fall back to defaults
	if cfg.VarTmpDir != "/var/tmp/vartmp" {
		t.Errorf("VarTmpDir = %q, want default", cfg.VarTmpDir)
	}
}

func TestConfig_RelativePathRejected(t *testing.T) {
	tempDir := t.TempDir()
	content := "[Global Configuration]\nDirectory_image=relative/image\n"
	if err := os.WriteFile(filepath.Join(tempDir, "imgscan.ini"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := LoadConfig(tempDir, "")
	if err == nil {
		t.Fatal("LoadConfig should reject relative paths")
	}
	if !strings.Contains(err.Error(), "Directory_image") {
		t.Errorf("error %q should name the key", err)
	}
}

func TestConfig_BadTimeout(t *testing.T) {
	tempDir := t.TempDir()
	content := "[Global Configuration]\nLauncher_timeout=soon\n"
	if err := os.WriteFile(filepath.Join(tempDir, "imgscan.ini"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadConfig(tempDir, ""); err == nil {
		t.Fatal("LoadConfig should reject an unparsable timeout")
	}
}

func TestUnderRoot(t *testing.T) {
	root := t.TempDir()
	cfg := UnderRoot(root)

	for name, p := range map[string]string{
		"ImageDir":      cfg.ImageDir,
		"OutputDir":     cfg.OutputDir,
		"VarTmpDir":     cfg.VarTmpDir,
		"StagingEtcDir": cfg.StagingEtcDir,
		"SystemPath":    cfg.SystemPath,
		"Database.Path": cfg.Database.Path,
	} {
		if !strings.HasPrefix(p, root) {
			t.Errorf("%s = %q, not below %q", name, p, root)
		}
	}
	if cfg.ReleaseFile != "redhat-release" {
		t.Errorf("non-path values must keep defaults, ReleaseFile = %q", cfg.ReleaseFile)
	}
}

func TestGlobalConfig(t *testing.T) {
	old := GetConfig()
	defer SetConfig(old)

	cfg := Default()
	SetConfig(cfg)
	if GetConfig() != cfg {
		t.Error("GetConfig() did not return the config set with SetConfig()")
	}
}
