// Package provider holds the OpenAI-compatible chat providers the device can
// talk to and the store that tracks which one is active.
package provider

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
	"sync"

	apierrors "github.com/zhengjr9/pocketchat/internal/errors"
)

// Config describes one chat-completion provider. It is a plain value: a copy
// is an immutable snapshot, which is what a request carries for its lifetime.
type Config struct {
	Name     string `json:"name" yaml:"name" toml:"name"`
	Endpoint string `json:"endpoint" yaml:"endpoint" toml:"endpoint"`
	APIKey   string `json:"-" yaml:"api_key" toml:"api_key"`
	Model    string `json:"model" yaml:"model" toml:"model"`
	Greeting string `json:"greeting" yaml:"greeting" toml:"greeting"`
}

// Validate checks the fields a request needs.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("provider: %w: name must not be empty", apierrors.ErrInvalidArgument)
	}
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("provider %q: %w: model must not be empty", c.Name, apierrors.ErrInvalidArgument)
	}
	u, err := url.Parse(c.Endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("provider %q: %w: endpoint %q is not an http(s) URL", c.Name, apierrors.ErrInvalidArgument, c.Endpoint)
	}
	return nil
}

// Presets returns the built-in OpenAI-compatible providers. They carry no keys;
// supply one through the providers file or --api-key.
func Presets() []Config {
	return []Config{
		{
			Name:     "glm",
			Endpoint: "https://open.bigmodel.cn/api/paas/v4/chat/completions",
			Model:    "glm-4-flash",
			Greeting: "Hi! I am GLM-4.",
		},
		{
			Name:     "qwen",
			Endpoint: "https://dashscope.aliyuncs.com/compatible-mode/v1/chat/completions",
			Model:    "qwen-flash",
			Greeting: "Hi! I am Qwen.",
		},
		{
			Name:     "deepseek",
			Endpoint: "https://api.deepseek.com/chat/completions",
			Model:    "deepseek-chat",
			Greeting: "Hi! I am DeepSeek.",
		},
		{
			Name:     "openai",
			Endpoint: "https://api.openai.com/v1/chat/completions",
			Model:    "gpt-4o-mini",
			Greeting: "Hi! I am ChatGPT.",
		},
	}
}

// Store tracks the provider list and the active provider. It is safe for
// concurrent use; readers that need a stable view take a Snapshot.
type Store struct {
	mu        sync.RWMutex
	providers []Config
	active    int
}

// NewStore builds a store from providers and activates the one named active.
// An empty active name selects the first provider.
func NewStore(providers []Config, active string) (*Store, error) {
	s := &Store{}
	if err := s.Replace(providers, active); err != nil {
		return nil, err
	}
	return s, nil
}

// Snapshot returns the active provider by value.
func (s *Store) Snapshot() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.providers[s.active]
}

// List returns a copy of all providers and the index of the active one.
func (s *Store) List() ([]Config, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.providers), s.active
}

// Set inserts or replaces the provider with cfg.Name and makes it active.
func (s *Store) Set(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexLocked(cfg.Name); i >= 0 {
		s.providers[i] = cfg
		s.active = i
		return nil
	}
	s.providers = append(s.providers, cfg)
	s.active = len(s.providers) - 1
	return nil
}

// Select activates the provider called name.
func (s *Store) Select(name string) (Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(name)
	if i < 0 {
		return Config{}, fmt.Errorf("select %q: %w", name, apierrors.ErrUnknownProvider)
	}
	s.active = i
	return s.providers[i], nil
}

// Next activates the provider after the current one, wrapping around.
func (s *Store) Next() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = (s.active + 1) % len(s.providers)
	return s.providers[s.active]
}

// SetAPIKey sets the key of the active provider.
func (s *Store) SetAPIKey(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.providers[s.active].APIKey = key
}

// Replace swaps the provider list. The active provider is looked up by name;
// when active is empty the currently active name is kept if it still exists.
func (s *Store) Replace(providers []Config, active string) error {
	if len(providers) == 0 {
		return fmt.Errorf("provider: %w: no providers configured", apierrors.ErrInvalidArgument)
	}
	seen := make(map[string]bool, len(providers))
	for _, p := range providers {
		if err := p.Validate(); err != nil {
			return err
		}
		if seen[p.Name] {
			return fmt.Errorf("provider %q: %w: duplicate name", p.Name, apierrors.ErrInvalidArgument)
		}
		seen[p.Name] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if active == "" && len(s.providers) > 0 {
		active = s.providers[s.active].Name
	}
	idx := 0
	if active != "" {
		idx = slices.IndexFunc(providers, func(p Config) bool { return p.Name == active })
		if idx < 0 {
			if len(s.providers) == 0 {
				return fmt.Errorf("active %q: %w", active, apierrors.ErrUnknownProvider)
			}
			idx = 0
		}
	}
	s.providers = slices.Clone(providers)
	s.active = idx
	return nil
}

func (s *Store) indexLocked(name string) int {
	return slices.IndexFunc(s.providers, func(p Config) bool { return p.Name == name })
}
