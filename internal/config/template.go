package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Template renders the default configuration as TOML.
func Template() ([]byte, error) {
	data, err := toml.Marshal(Default())
	if err != nil {
		return nil, fmt.Errorf("config template: %w", err)
	}
	return data, nil
}

// WriteTemplate writes the default config to path. An existing file is
// only replaced when overwrite is set.
func WriteTemplate(path string, overwrite bool) error {
	template, err := Template()
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, template, 0o600)
}
