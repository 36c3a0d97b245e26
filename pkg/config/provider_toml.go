package config

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

// TOMLProvider implements ConfigProvider for TOML configuration files
type TOMLProvider struct {
	filename string
}

// NewTOMLProvider creates a new TOML configuration provider
func NewTOMLProvider(filename string) *TOMLProvider {
	return &TOMLProvider{
		filename: filename,
	}
}

// LoadConfig loads the complete configuration from a TOML file. Unknown keys
// are rejected so typos do not silently fall back to defaults.
func (t *TOMLProvider) LoadConfig() (*ConfigData, error) {
	var cfg ConfigData
	md, err := toml.DecodeFile(t.filename, &cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown configuration keys: %s", strings.Join(keys, ", "))
	}

	return finish(&cfg)
}

// IsReadOnly returns true since TOML files are read-only in this implementation
func (t *TOMLProvider) IsReadOnly() bool {
	return true
}

// Close is a no-op for TOML provider
func (t *TOMLProvider) Close() error {
	return nil
}
