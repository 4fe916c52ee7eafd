// Package cmd implements the imgscan command line.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"imgscan/config"
	"imgscan/service"
)

// Version is set at build time with -ldflags
var Version = "dev"

var (
	configDir string
	profile   string
	debug     bool
)

var rootCmd = &cobra.Command{
	Use:   "imgscan",
	Short: "Run a collector inside every container image on this host",
	Long: `imgscan mounts each local container image, prepares a chroot session
around it, runs the collector launcher inside and gathers the artifacts it
leaves behind. Images that do not match the configured release are skipped.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configDir, "config-dir", "C", "", "Config base directory")
	rootCmd.PersistentFlags().StringVarP(&profile, "profile", "p", "default", "Profile to use")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "Debug verbosity")
}

// Execute runs the root command and exits non-zero on failure
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the configuration and applies command-line overrides
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(configDir, profile)
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}
	if debug {
		cfg.Debug = true
	}
	config.SetConfig(cfg)
	return cfg, nil
}

// newService loads the configuration and opens a Service. The caller
// closes it.
func newService() (*service.Service, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return service.NewService(cfg)
}
