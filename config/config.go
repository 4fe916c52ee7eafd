package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/ini.v1"
)

// Config holds imgscan configuration
type Config struct {
	Profile string

	// Host-side scratch directories used by the emulation. All of them are
	// absolute paths; tests point them below a temporary root.
	SystemPath     string // Root the host pseudo-filesystems are taken from
	ImageDir       string // Mount point for the image root filesystem
	OutputDir      string // Final output directory (retained)
	CollectorDir   string // Collector install/config dir, bound onto image /mnt (retained)
	HostLogDir     string // Bound onto image /var/log
	VarTmpDir      string // Bound onto image /var/tmp, collects artifacts (retained)
	StagingEtcDir  string // Host copy of the image /etc, bound back over it
	LogsPath       string // imgscan's own log files
	InterpreterDir string // Host interpreter runtime bound onto /mnt/opt/python
	CredentialsDir string // Host credential material bound onto /etc/pki/consumer
	HomeDir        string // Host home bound onto image /root
	ResolvConf     string // Host resolver config copied into image /etc
	LauncherPath   string // Launcher script copied into image /mnt

	CollectorEtcName string // Directory name of the collector inside image /etc
	OutputType       string // Subdirectory of OutputDir artifacts are gathered into

	// Applicability rule
	ReleaseFile    string
	ReleaseName    string
	ReleaseVersion string

	LauncherTimeout time.Duration // Zero means no timeout
	DockerHost      string        // Empty means use DOCKER_HOST / default socket
	HostBackend     string        // environment.Host backend name

	Debug bool

	// Database settings
	Database struct {
		Path string // Default: /var/lib/imgscan/scans.db
	}
}

var globalConfig *Config

// GetConfig returns the global configuration
func GetConfig() *Config {
	return globalConfig
}

// SetConfig sets the global configuration
func SetConfig(cfg *Config) {
	globalConfig = cfg
}

// CollectorOptDir is the collector's opt directory; the interpreter mount
// point lives below it so it is visible at /mnt/opt/python in the image.
func (cfg *Config) CollectorOptDir() string {
	return filepath.Join(cfg.CollectorDir, "opt")
}

// CollectorPythonDir is the mount point for the host interpreter runtime.
func (cfg *Config) CollectorPythonDir() string {
	return filepath.Join(cfg.CollectorOptDir(), "python")
}

// LoadConfig loads configuration from file
func LoadConfig(configDir, profile string) (*Config, error) {
	cfg := &Config{
		Profile: profile,
	}

	// Determine config file path
	configFile := "/etc/imgscan/imgscan.ini"
	if configDir != "" {
		configFile = filepath.Join(configDir, "imgscan.ini")
	}

	configFileExists := false
	if _, err := os.Stat(configFile); err == nil {
		configFileExists = true
		iniFile, err := ini.Load(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}

		globalSec := globalSection(iniFile)

		// If no profile specified, read it from the global section
		if (cfg.Profile == "" || cfg.Profile == "default") && globalSec != nil {
			if key := globalSec.Key("profile_selected"); key != nil && key.String() != "" {
				cfg.Profile = key.String()
			}
		}

		// Profile values win over global ones
		if cfg.Profile != "" && cfg.Profile != "default" && iniFile.HasSection(cfg.Profile) {
			if err := cfg.loadFromSection(iniFile.Section(cfg.Profile)); err != nil {
				return nil, err
			}
		}
		if globalSec != nil {
			if err := cfg.loadFromSection(globalSec); err != nil {
				return nil, err
			}
		}
	}

	if !configFileExists {
		fmt.Fprintf(os.Stderr, "Warning: No config file found at %s, using defaults\n", configFile)
	}

	cfg.applyDefaults()
	return cfg, nil
}

// Default returns a configuration populated with the built-in layout.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// UnderRoot returns a default configuration with every host path moved
// below root. Used to run sessions against an isolated directory tree.
func UnderRoot(root string) *Config {
	cfg := Default()
	rebase := func(p *string) {
		*p = filepath.Join(root, *p)
	}
	rebase(&cfg.SystemPath)
	rebase(&cfg.ImageDir)
	rebase(&cfg.OutputDir)
	rebase(&cfg.CollectorDir)
	rebase(&cfg.HostLogDir)
	rebase(&cfg.VarTmpDir)
	rebase(&cfg.StagingEtcDir)
	rebase(&cfg.LogsPath)
	rebase(&cfg.InterpreterDir)
	rebase(&cfg.CredentialsDir)
	rebase(&cfg.HomeDir)
	rebase(&cfg.ResolvConf)
	rebase(&cfg.LauncherPath)
	rebase(&cfg.Database.Path)
	return cfg
}

// applyDefaults fills unset values with the standard host layout
func (cfg *Config) applyDefaults() {
	setDefault := func(p *string, v string) {
		if *p == "" {
			*p = v
		}
	}

	setDefault(&cfg.SystemPath, "/")
	setDefault(&cfg.ImageDir, "/var/tmp/tmp_image_dir")
	setDefault(&cfg.OutputDir, "/var/tmp/docker")
	setDefault(&cfg.CollectorDir, "/var/tmp/insights-client")
	setDefault(&cfg.HostLogDir, "/var/tmp/log")
	setDefault(&cfg.VarTmpDir, "/var/tmp/vartmp")
	setDefault(&cfg.StagingEtcDir, "/home/temp_etc")
	setDefault(&cfg.LogsPath, "/var/log/imgscan")
	setDefault(&cfg.InterpreterDir, "/usr/lib/python2.7")
	setDefault(&cfg.CredentialsDir, "/etc/pki/consumer")
	setDefault(&cfg.HomeDir, "/root")
	setDefault(&cfg.ResolvConf, "/etc/resolv.conf")
	setDefault(&cfg.LauncherPath, "/home/insights-docker/launcher.sh")
	setDefault(&cfg.CollectorEtcName, "redhat-access-insights")
	setDefault(&cfg.OutputType, "images")
	setDefault(&cfg.ReleaseFile, "redhat-release")
	setDefault(&cfg.ReleaseName, "Red Hat Enterprise Linux")
	setDefault(&cfg.ReleaseVersion, "7.")
	setDefault(&cfg.HostBackend, "system")
	setDefault(&cfg.Database.Path, "/var/lib/imgscan/scans.db")
}

func globalSection(f *ini.File) *ini.Section {
	for _, name := range []string{"Global Configuration", "global configuration", "Global"} {
		if f.HasSection(name) {
			return f.Section(name)
		}
	}
	return nil
}

// loadFromSection loads config values from an INI section. Values already
// set (by a profile section read earlier) are not overwritten.
func (cfg *Config) loadFromSection(sec *ini.Section) error {
	if sec == nil {
		return nil
	}

	paths := []struct {
		key string
		dst *string
	}{
		{"Directory_system", &cfg.SystemPath},
		{"Directory_image", &cfg.ImageDir},
		{"Directory_output", &cfg.OutputDir},
		{"Directory_collector", &cfg.CollectorDir},
		{"Directory_hostlog", &cfg.HostLogDir},
		{"Directory_vartmp", &cfg.VarTmpDir},
		{"Directory_staging_etc", &cfg.StagingEtcDir},
		{"Directory_logs", &cfg.LogsPath},
		{"Host_interpreter", &cfg.InterpreterDir},
		{"Host_credentials", &cfg.CredentialsDir},
		{"Host_home", &cfg.HomeDir},
		{"Host_resolv", &cfg.ResolvConf},
		{"Launcher_path", &cfg.LauncherPath},
		{"Database_path", &cfg.Database.Path},
	}
	for _, p := range paths {
		v := sec.Key(p.key).String()
		if v == "" || *p.dst != "" {
			continue
		}
		if !filepath.IsAbs(v) {
			return fmt.Errorf("config key %s: path %q must be absolute", p.key, v)
		}
		*p.dst = filepath.Clean(v)
	}

	strs := []struct {
		key string
		dst *string
	}{
		{"Collector_etc_name", &cfg.CollectorEtcName},
		{"Output_type", &cfg.OutputType},
		{"Release_file", &cfg.ReleaseFile},
		{"Release_name", &cfg.ReleaseName},
		{"Release_version", &cfg.ReleaseVersion},
		{"Docker_host", &cfg.DockerHost},
		{"Host_backend", &cfg.HostBackend},
	}
	for _, s := range strs {
		if v := sec.Key(s.key).String(); v != "" && *s.dst == "" {
			*s.dst = v
		}
	}

	if v := sec.Key("Launcher_timeout").String(); v != "" && cfg.LauncherTimeout == 0 {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config key Launcher_timeout: %w", err)
		}
		cfg.LauncherTimeout = d
	}

	if v := sec.Key("Debug").String(); v != "" {
		cfg.Debug = cfg.Debug || parseBool(v)
	}

	return nil
}

func parseBool(s string) bool {
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	// Handle yes/no
	return s == "yes" || s == "Yes" || s == "YES" || s == "on" || s == "On" || s == "ON"
}
