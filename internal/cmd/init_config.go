package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/nghyane/odata-batch/internal/config"
)

// DoInitConfig writes a starter config to configPath unless one exists.
func DoInitConfig(configPath string, force bool, out io.Writer) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		fmt.Fprintf(out, "Config exists: %s\nUse init --force to overwrite\n", configPath)
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(configPath), 0o700); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(configPath, config.GenerateDefaultConfigYAML(), 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	fmt.Fprintf(out, "Created: %s\n", configPath)
	return nil
}
