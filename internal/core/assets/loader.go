package assets

import (
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/zeusync/crowdsim/pkg/concurrent"
	"github.com/zeusync/crowdsim/pkg/sequence"
)

// LoadYAML loads a bundle from a YAML reader.
func LoadYAML(r io.Reader) (*Bundle, error) {
	var b Bundle
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&b); err != nil {
		return nil, err
	}
	return &b, nil
}

// LoadJSON loads a bundle from a JSON reader.
func LoadJSON(r io.Reader) (*Bundle, error) {
	var b Bundle
	dec := json.NewDecoder(r)
	if err := dec.Decode(&b); err != nil {
		return nil, err
	}
	return &b, nil
}

// LoadFile loads a single bundle file, dispatching on extension.
func LoadFile(path string) (*Bundle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return LoadYAML(f)
	case ".json":
		return LoadJSON(f)
	default:
		return nil, fmt.Errorf("unsupported asset file %q", path)
	}
}

// LoadDir loads every .yaml/.yml/.json file in the root of fsys, merges the
// partial bundles in file-name order and validates the result. Files are
// parsed concurrently; merge order stays deterministic.
func LoadDir(fsys fs.FS) (*Bundle, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml", ".json":
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no asset files found")
	}
	sort.Strings(names)

	var (
		mu      sync.Mutex
		partial = make(map[string]*Bundle, len(names))
	)
	err = concurrent.Concurrent(sequence.From(names), func(name string) error {
		f, err := fsys.Open(name)
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()

		var b *Bundle
		switch strings.ToLower(filepath.Ext(name)) {
		case ".json":
			b, err = LoadJSON(f)
		default:
			b, err = LoadYAML(f)
		}
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		mu.Lock()
		partial[name] = b
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, err
	}

	merged := &Bundle{}
	for _, name := range names {
		if err = merged.Merge(partial[name]); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
	}
	if err = merged.Validate(); err != nil {
		return nil, err
	}
	return merged, nil
}

// LoadPath loads either a single bundle file or a directory of bundle files.
// Single-file loads are validated the same way directory loads are.
func LoadPath(path string) (*Bundle, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return LoadDir(os.DirFS(path))
	}
	b, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	if err = b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}
