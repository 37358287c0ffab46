package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// appDirName is the directory under the user config dir.
const appDirName = "mofa-studio"

// prefsFileName is the preferences file name.
const prefsFileName = "preferences.json"

// DefaultPath returns the standard preferences file location.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("config: user config dir: %w", err)
	}
	return filepath.Join(dir, appDirName, prefsFileName), nil
}

// Load reads preferences from path. A missing file yields the defaults
// without error — first launch is not a failure.
func Load(path string) (*Preferences, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: open preferences: %w", err)
	}
	defer f.Close()
	return LoadFromReader(f)
}

// LoadFromReader decodes preferences JSON. Unknown fields are ignored and
// missing fields take defaults, keeping old and new files compatible both
// ways.
func LoadFromReader(r io.Reader) (*Preferences, error) {
	prefs := Default()
	dec := json.NewDecoder(r)
	if err := dec.Decode(prefs); err != nil {
		return nil, fmt.Errorf("config: decode preferences: %w", err)
	}
	return prefs, nil
}

// Save writes preferences to path atomically (temp file + rename),
// creating the directory when needed.
func Save(path string, prefs *Preferences) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: create config dir: %w", err)
	}

	data, err := json.MarshalIndent(prefs, "", "  ")
	if err != nil {
		return fmt.Errorf("config: encode preferences: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), prefsFileName+".tmp*")
	if err != nil {
		return fmt.Errorf("config: temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("config: write preferences: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("config: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("config: rename preferences: %w", err)
	}
	return nil
}
