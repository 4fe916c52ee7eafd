package environment

import (
	"os"
	"path/filepath"

	"imgscan/config"
)

// BuildHostFixture creates the host-side sources a session binds and
// copies from (pseudo-filesystem dirs under SystemPath, interpreter,
// credentials, home, resolver config, launcher and collector config).
// Used with config.UnderRoot to run sessions against a temporary tree.
func BuildHostFixture(cfg *config.Config) error {
	dirs := []string{
		cfg.InterpreterDir,
		cfg.CredentialsDir,
		cfg.HomeDir,
		filepath.Join(cfg.CollectorDir, "etc"),
		filepath.Dir(cfg.ResolvConf),
		filepath.Dir(cfg.LauncherPath),
	}
	for _, d := range pseudoFilesystems {
		dirs = append(dirs, filepath.Join(cfg.SystemPath, d))
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0755); err != nil {
			return err
		}
	}

	files := []struct {
		path string
		data string
		mode os.FileMode
	}{
		{cfg.ResolvConf, "nameserver 192.0.2.53\n", 0644},
		{cfg.LauncherPath, "#!/bin/sh\nexec /mnt/collector\n", 0755},
		{filepath.Join(cfg.CollectorDir, "etc", "collector.conf"), "[collector]\n", 0644},
	}
	for _, f := range files {
		if err := os.WriteFile(f.path, []byte(f.data), f.mode); err != nil {
			return err
		}
	}
	return nil
}

// BuildImageFixture populates an image root with a minimal /etc. When
// release is not empty it is written to /etc/<releaseFile>.
func BuildImageFixture(root, releaseFile, release string) error {
	etc := filepath.Join(root, "etc")
	if err := os.MkdirAll(etc, 0755); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(etc, "hostname"), []byte("image\n"), 0644); err != nil {
		return err
	}
	if release == "" {
		return nil
	}
	return os.WriteFile(filepath.Join(etc, releaseFile), []byte(release+"\n"), 0644)
}
