package source_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/promptgraph/internal/dag"
	"github.com/gyaneshwarpardhi/promptgraph/internal/source"
)

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		file string
		nt   dag.NodeType
		ct   dag.ContentType
		ok   bool
	}{
		{"notes.md", dag.NodeTypeExternal, dag.ContentMD, true},
		{"facts.json", dag.NodeTypeExtraction, dag.ContentJSON, true},
		{"summary.hbs", dag.NodeTypeLLM, dag.ContentHBS, true},
		{"SUMMARY.HBS", dag.NodeTypeLLM, dag.ContentHBS, true},
		{"script.js", 0, 0, false},
		{"README", 0, 0, false},
	}
	for _, tc := range cases {
		nt, ct, ok := source.Classify(tc.file)
		assert.Equal(t, tc.ok, ok, tc.file)
		if tc.ok {
			assert.Equal(t, tc.nt, nt, tc.file)
			assert.Equal(t, tc.ct, ct, tc.file)
		}
	}
	assert.Equal(t, "summary", source.KeyOf("dir/summary.hbs"))
}

func TestDir_Nodes(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"notes.md":     "# Notes",
		"summary.hbs":  "Summarise {{notes}}",
		"facts.json":   `{"source": "summary"}`,
		"prompts.lock": `{}`,
		"ignored.txt":  "nope",
	})
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.md"), 0o755))

	src := source.NewDir(dir, source.DirOptions{})
	require.NoError(t, src.Setup(context.Background()))
	nodes, err := src.Nodes(context.Background())
	require.NoError(t, err)

	require.Len(t, nodes, 3)
	assert.Equal(t, dag.Node{Key: "notes", Type: dag.NodeTypeExternal, Content: []byte("# Notes"), ContentType: dag.ContentMD}, nodes["notes"])
	assert.Equal(t, dag.NodeTypeLLM, nodes["summary"].Type)
	assert.Equal(t, dag.NodeTypeExtraction, nodes["facts"].Type)
	assert.Equal(t, filepath.Join(dir, "prompts.lock"), src.LockPath())
}

func TestDir_NodesStableUntilSetup(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"a.md": "one"})
	src := source.NewDir(dir, source.DirOptions{})
	ctx := context.Background()

	require.NoError(t, src.Setup(ctx))
	first, err := src.Nodes(ctx)
	require.NoError(t, err)

	writeFiles(t, dir, map[string]string{"a.md": "two"})
	again, err := src.Nodes(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, again)

	require.NoError(t, src.Setup(ctx))
	fresh, err := src.Nodes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), fresh["a"].Content)
}

func TestDir_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("missing directory", func(t *testing.T) {
		src := source.NewDir(filepath.Join(t.TempDir(), "missing"), source.DirOptions{})
		assert.Error(t, src.Setup(ctx))
	})

	t.Run("nodes before setup", func(t *testing.T) {
		_, err := source.NewDir(t.TempDir(), source.DirOptions{}).Nodes(ctx)
		assert.Error(t, err)
	})

	t.Run("duplicate key", func(t *testing.T) {
		dir := t.TempDir()
		writeFiles(t, dir, map[string]string{"intro.md": "x", "intro.hbs": "{{x}}"})
		src := source.NewDir(dir, source.DirOptions{})
		require.NoError(t, src.Setup(ctx))
		_, err := src.Nodes(ctx)
		assert.ErrorIs(t, err, dag.ErrDuplicateNodeKey)
	})

	t.Run("reserved key", func(t *testing.T) {
		dir := t.TempDir()
		writeFiles(t, dir, map[string]string{"current.md": "x"})
		src := source.NewDir(dir, source.DirOptions{})
		require.NoError(t, src.Setup(ctx))
		_, err := src.Nodes(ctx)
		assert.ErrorIs(t, err, dag.ErrReservedKey)
	})
}

func TestDir_Watch(t *testing.T) {
	dir := t.TempDir()
	src := source.NewDir(dir, source.DirOptions{})

	changed := make(chan string, 16)
	stop, err := src.Watch(func(file string) { changed <- file })
	require.NoError(t, err)
	defer stop()

	writeFiles(t, dir, map[string]string{"prompts.lock": "{}", "other.txt": "x"})
	writeFiles(t, dir, map[string]string{"notes.md": "hello"})

	select {
	case got := <-changed:
		assert.Equal(t, "notes.md", got)
	case <-time.After(5 * time.Second):
		t.Fatal("no change reported")
	}
}
