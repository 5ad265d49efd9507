package provider

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// File is the on-disk providers document.
//
//	active: glm
//	providers:
//	  - name: glm
//	    endpoint: https://open.bigmodel.cn/api/paas/v4/chat/completions
//	    api_key: ${GLM_API_KEY}
//	    model: glm-4-flash
//	    greeting: Hi! I am GLM-4.
type File struct {
	Active    string   `yaml:"active" toml:"active"`
	Providers []Config `yaml:"providers" toml:"providers"`
}

// LoadFile reads a providers file. The format follows the extension: .yaml/.yml
// or .toml. ${VAR} references in api_key are expanded from the environment.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read providers file: %w", err)
	}

	var f File
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), &f); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("providers file %s: unsupported extension %q", path, ext)
	}

	for i := range f.Providers {
		f.Providers[i].APIKey = os.ExpandEnv(f.Providers[i].APIKey)
	}
	if len(f.Providers) == 0 {
		return nil, fmt.Errorf("providers file %s: no providers", path)
	}
	for _, p := range f.Providers {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("providers file %s: %w", path, err)
		}
	}
	return &f, nil
}
