// Package source loads nodes from a prompt directory.
package source

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/gyaneshwarpardhi/promptgraph/internal/dag"
)

// DefaultLockFile is the hash lock file kept next to the prompts.
const DefaultLockFile = "prompts.lock"

// Classify maps a file name to its node type and content type by extension:
// .md is external markdown, .json an extraction definition, .hbs a Handlebars
// prompt. ok is false for anything else.
func Classify(name string) (dag.NodeType, dag.ContentType, bool) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".md":
		return dag.NodeTypeExternal, dag.ContentMD, true
	case ".json":
		return dag.NodeTypeExtraction, dag.ContentJSON, true
	case ".hbs":
		return dag.NodeTypeLLM, dag.ContentHBS, true
	}
	return 0, 0, false
}

// KeyOf returns the node key for a file name: the base name without extension.
func KeyOf(name string) dag.NodeKey {
	base := filepath.Base(name)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// DirOptions configures a Dir.
type DirOptions struct {
	// LockFile is excluded from the node set. Defaults to DefaultLockFile.
	LockFile string
	Logger   *slog.Logger
}

// Dir serves the files of one directory as nodes. Setup takes a listing;
// Nodes reads the listed files once and serves the same set until the next
// Setup.
type Dir struct {
	dir  string
	lock string
	log  *slog.Logger

	mu     sync.Mutex
	listed bool
	files  []string
	nodes  map[dag.NodeKey]dag.Node
}

// NewDir returns a source over dir.
func NewDir(dir string, opts DirOptions) *Dir {
	if opts.LockFile == "" {
		opts.LockFile = DefaultLockFile
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Dir{dir: dir, lock: opts.LockFile, log: opts.Logger}
}

// Path returns the directory.
func (d *Dir) Path() string { return d.dir }

// LockPath returns the path of the lock file inside the directory.
func (d *Dir) LockPath() string { return filepath.Join(d.dir, d.lock) }

func (d *Dir) Setup(ctx context.Context) error {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return fmt.Errorf("list %s: %w", d.dir, err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || e.Name() == d.lock {
			continue
		}
		if _, _, ok := Classify(e.Name()); !ok {
			d.log.Debug("skipping file", "file", e.Name())
			continue
		}
		files = append(files, e.Name())
	}
	sort.Strings(files)

	d.mu.Lock()
	d.listed = true
	d.files = files
	d.nodes = nil
	d.mu.Unlock()
	return nil
}

func (d *Dir) Nodes(ctx context.Context) (map[dag.NodeKey]dag.Node, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.listed {
		return nil, fmt.Errorf("node source %s: Setup has not run", d.dir)
	}
	if d.nodes != nil {
		return d.nodes, nil
	}

	nodes := make(map[dag.NodeKey]dag.Node, len(d.files))
	origin := make(map[dag.NodeKey]string, len(d.files))
	for _, name := range d.files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		nt, ct, _ := Classify(name)
		key := KeyOf(name)
		if prev, ok := origin[key]; ok {
			return nil, dag.Errorf(dag.ErrDuplicateNodeKey, "%q from both %s and %s", key, prev, name)
		}
		if err := dag.ValidateKey(key); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		content, err := os.ReadFile(filepath.Join(d.dir, name))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		origin[key] = name
		nodes[key] = dag.Node{Key: key, Type: nt, Content: content, ContentType: ct}
	}
	d.nodes = nodes
	return nodes, nil
}
