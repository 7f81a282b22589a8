package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
)

// xdgDir resolves an XDG base directory, preferring the environment
// override and falling back to the conventional home subdirectory.
func xdgDir(envVar string, homeParts ...string) (string, bool) {
	if dir := os.Getenv(envVar); dir != "" {
		return dir, true
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", false
	}
	return filepath.Join(append([]string{home}, homeParts...)...), true
}

func defaultDataDir() string {
	base, ok := xdgDir("XDG_DATA_HOME", ".local", "share")
	if !ok {
		return "triage-data"
	}
	return filepath.Join(base, "triage")
}

func configFilePath() string {
	base, ok := xdgDir("XDG_CONFIG_HOME", ".config")
	if !ok {
		base = "."
	}
	return filepath.Join(base, "triage", "config.json")
}

// fileBackend stores config as a flat JSON object in an XDG-compatible
// path. Keys are the dotted names from the key table, values are
// strings or numbers.
type fileBackend struct {
	path string
	data map[string]any
}

func openBackend() ConfigBackend {
	f := &fileBackend{path: configFilePath(), data: make(map[string]any)}
	f.load()
	return f
}

// load pulls the JSON file into memory. A missing file is a normal
// first run; anything else is reported and the defaults stand.
func (f *fileBackend) load() {
	raw, err := os.ReadFile(f.path)
	switch {
	case os.IsNotExist(err):
		return
	case err != nil:
		fmt.Fprintf(os.Stderr, "[WARN] unreadable config file %s: %v\n", f.path, err)
		return
	}
	if err := json.Unmarshal(raw, &f.data); err != nil {
		fmt.Fprintf(os.Stderr, "[WARN] malformed config file %s: %v\n", f.path, err)
	}
}

func (f *fileBackend) save() error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	raw, err := json.MarshalIndent(f.data, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(f.path, raw, 0o600)
}

func (f *fileBackend) String(key string) (string, bool, error) {
	v, ok := f.data[key]
	if !ok {
		return "", false, nil
	}
	if s, isString := v.(string); isString {
		return s, true, nil
	}
	return fmt.Sprintf("%v", v), true, nil
}

func (f *fileBackend) Int(key string) (int, bool, error) {
	v, ok := f.data[key]
	if !ok {
		return 0, false, nil
	}
	switch n := v.(type) {
	case float64:
		if n != math.Trunc(n) || n < math.MinInt || n > math.MaxInt {
			return 0, true, fmt.Errorf("%s: %v is not an integer in range", key, n)
		}
		return int(n), true, nil
	case string:
		i, err := strconv.Atoi(n)
		if err != nil {
			return 0, true, fmt.Errorf("%s: %w", key, err)
		}
		return i, true, nil
	default:
		return 0, true, fmt.Errorf("%s: unsupported type %T", key, v)
	}
}

func (f *fileBackend) SetString(key, val string) error {
	f.data[key] = val
	return f.save()
}

func (f *fileBackend) SetInt(key string, val int) error {
	f.data[key] = val
	return f.save()
}

func (f *fileBackend) Delete(key string) error {
	delete(f.data, key)
	return f.save()
}
