// Package hashstore persists hash snapshots between runs.
package hashstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/gyaneshwarpardhi/promptgraph/internal/dag"
)

// File keeps the snapshot in a pretty-printed JSON lock file:
//
//	{
//	  "summary": {
//	    "current": "9f86d0...",
//	    "notes": "2c26b4..."
//	  }
//	}
type File struct {
	path string
}

// NewFile returns a store backed by the lock file at path.
func NewFile(path string) *File {
	return &File{path: path}
}

// Path returns the lock file path.
func (f *File) Path() string { return f.path }

// Load reads the lock file. A missing file is an empty snapshot; an
// unreadable or corrupt one is an error.
func (f *File) Load(ctx context.Context) (dag.NodeHashes, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return dag.NodeHashes{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.path, err)
	}
	hashes, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", f.path, err)
	}
	return hashes, nil
}

// Save replaces the lock file. The new content is written to a temporary file
// in the same directory and renamed over the old one.
func (f *File) Save(ctx context.Context, hashes dag.NodeHashes) error {
	data, err := json.MarshalIndent(hashes, "", "  ")
	if err != nil {
		return fmt.Errorf("encode hashes: %w", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".*")
	if err != nil {
		return fmt.Errorf("write %s: %w", f.path, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", f.path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write %s: %w", f.path, err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("write %s: %w", f.path, err)
	}
	return nil
}

func decode(data []byte) (dag.NodeHashes, error) {
	var hashes dag.NodeHashes
	if err := json.Unmarshal(data, &hashes); err != nil {
		return nil, err
	}
	if hashes == nil {
		hashes = dag.NodeHashes{}
	}
	for k, h := range hashes {
		if h == nil {
			return nil, fmt.Errorf("node %q: null hash record", k)
		}
	}
	return hashes, nil
}
