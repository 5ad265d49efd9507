package provider

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apierrors "github.com/zhengjr9/pocketchat/internal/errors"
)

func testProviders() []Config {
	return []Config{
		{Name: "a", Endpoint: "https://a.test/v1/chat/completions", APIKey: "ka", Model: "ma", Greeting: "hello from a"},
		{Name: "b", Endpoint: "http://b.test/v1/chat/completions", APIKey: "kb", Model: "mb"},
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	s, err := NewStore(testProviders(), "a")
	require.NoError(t, err)

	snap := s.Snapshot()
	require.NoError(t, s.Set(Config{Name: "a", Endpoint: "https://a.test", Model: "changed"}))

	assert.Equal(t, "ma", snap.Model)
	assert.Equal(t, "changed", s.Snapshot().Model)
}

func TestSelectAndNext(t *testing.T) {
	s, err := NewStore(testProviders(), "")
	require.NoError(t, err)
	assert.Equal(t, "a", s.Snapshot().Name)

	cfg, err := s.Select("b")
	require.NoError(t, err)
	assert.Equal(t, "mb", cfg.Model)

	_, err = s.Select("missing")
	assert.True(t, errors.Is(err, apierrors.ErrUnknownProvider))
	assert.Equal(t, "b", s.Snapshot().Name)

	assert.Equal(t, "a", s.Next().Name)
	assert.Equal(t, "b", s.Next().Name)
}

func TestSetInsertsAndActivates(t *testing.T) {
	s, err := NewStore(testProviders(), "a")
	require.NoError(t, err)

	require.NoError(t, s.Set(Config{Name: "c", Endpoint: "https://c.test", Model: "mc"}))
	list, active := s.List()
	assert.Len(t, list, 3)
	assert.Equal(t, 2, active)

	err = s.Set(Config{Name: "bad", Endpoint: "ftp://nope", Model: "m"})
	assert.True(t, errors.Is(err, apierrors.ErrInvalidArgument))
}

func TestReplaceKeepsActiveByName(t *testing.T) {
	s, err := NewStore(testProviders(), "b")
	require.NoError(t, err)

	next := []Config{
		{Name: "z", Endpoint: "https://z.test", Model: "mz"},
		{Name: "b", Endpoint: "https://b2.test", Model: "mb2"},
	}
	require.NoError(t, s.Replace(next, ""))
	assert.Equal(t, "mb2", s.Snapshot().Model)

	require.NoError(t, s.Replace(next[:1], ""))
	assert.Equal(t, "z", s.Snapshot().Name)

	assert.Error(t, s.Replace(nil, ""))
	assert.Error(t, s.Replace([]Config{next[0], next[0]}, ""))
}

func TestNewStoreUnknownActive(t *testing.T) {
	_, err := NewStore(testProviders(), "nope")
	assert.True(t, errors.Is(err, apierrors.ErrUnknownProvider))
}

func TestSetAPIKey(t *testing.T) {
	s, err := NewStore(Presets(), "qwen")
	require.NoError(t, err)

	s.SetAPIKey("sk-test")
	assert.Equal(t, "sk-test", s.Snapshot().APIKey)
	cfg, err := s.Select("glm")
	require.NoError(t, err)
	assert.Empty(t, cfg.APIKey)
}

func TestPresetsAreValid(t *testing.T) {
	for _, p := range Presets() {
		assert.NoError(t, p.Validate(), p.Name)
		assert.Empty(t, p.APIKey, p.Name)
	}
}

func TestStoreConcurrentAccess(t *testing.T) {
	s, err := NewStore(testProviders(), "a")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if i%2 == 0 {
				s.Next()
			} else {
				_, _ = s.Select("a")
			}
		}()
		go func() {
			defer wg.Done()
			snap := s.Snapshot()
			assert.NotEmpty(t, snap.Model)
		}()
	}
	wg.Wait()
}

const yamlDoc = `active: b
providers:
  - name: a
    endpoint: https://a.test/v1/chat/completions
    api_key: ${POCKETCHAT_TEST_KEY}
    model: ma
    greeting: hi
  - name: b
    endpoint: https://b.test/v1/chat/completions
    model: mb
`

const tomlDoc = `active = "a"

[[providers]]
name = "a"
endpoint = "https://a.test/v1/chat/completions"
api_key = "${POCKETCHAT_TEST_KEY}"
model = "ma"
greeting = "hi"
`

func TestLoadFile(t *testing.T) {
	t.Setenv("POCKETCHAT_TEST_KEY", "secret")
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "providers.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(yamlDoc), 0o600))
	f, err := LoadFile(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, "b", f.Active)
	require.Len(t, f.Providers, 2)
	assert.Equal(t, "secret", f.Providers[0].APIKey)
	assert.Equal(t, "hi", f.Providers[0].Greeting)

	tomlPath := filepath.Join(dir, "providers.toml")
	require.NoError(t, os.WriteFile(tomlPath, []byte(tomlDoc), 0o600))
	f, err = LoadFile(tomlPath)
	require.NoError(t, err)
	assert.Equal(t, "a", f.Active)
	require.Len(t, f.Providers, 1)
	assert.Equal(t, "secret", f.Providers[0].APIKey)
}

func TestLoadFileErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	jsonPath := filepath.Join(dir, "providers.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{}`), 0o600))
	_, err = LoadFile(jsonPath)
	assert.ErrorContains(t, err, "unsupported extension")

	badPath := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(badPath, []byte("providers:\n  - name: x\n    endpoint: not a url\n    model: m\n"), 0o600))
	_, err = LoadFile(badPath)
	assert.True(t, errors.Is(err, apierrors.ErrInvalidArgument))

	emptyPath := filepath.Join(dir, "empty.toml")
	require.NoError(t, os.WriteFile(emptyPath, []byte(`active = "a"`), 0o600))
	_, err = LoadFile(emptyPath)
	assert.ErrorContains(t, err, "no providers")
}

func TestWatchReloadsStore(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "providers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yamlDoc), 0o600))

	s, err := NewStore(testProviders(), "a")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	reloaded := make(chan error, 4)
	done := make(chan error, 1)
	onReload := func(err error) {
		select {
		case reloaded <- err:
		default:
		}
	}
	go func() { done <- Watch(ctx, path, s, onReload) }()

	// give the watcher time to register before writing
	time.Sleep(100 * time.Millisecond)
	updated := `active: c
providers:
  - name: c
    endpoint: https://c.test/v1/chat/completions
    model: mc
`
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o600))

	select {
	case <-reloaded:
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not reload")
	}
	assert.Eventually(t, func() bool { return s.Snapshot().Name == "c" }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}
