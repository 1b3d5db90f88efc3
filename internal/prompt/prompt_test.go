package prompt_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/promptgraph/internal/dag"
	"github.com/gyaneshwarpardhi/promptgraph/internal/hashing"
	"github.com/gyaneshwarpardhi/promptgraph/internal/hashstore"
	"github.com/gyaneshwarpardhi/promptgraph/internal/prompt"
	"github.com/gyaneshwarpardhi/promptgraph/internal/source"
)

func write(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func promptDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	write(t, dir, "notes.md", "# Meeting notes")
	write(t, dir, "audience.md", "engineers")
	write(t, dir, "summary.hbs", "Summarise {{notes}} for {{audience}}.")
	write(t, dir, "facts.json", `{"source": "summary"}`)
	return dir
}

// plan initializes a fresh graph over dir and persists its hashes.
func plan(t *testing.T, dir string) *dag.Graph {
	t.Helper()
	ctx := context.Background()
	src := source.NewDir(dir, source.DirOptions{})
	g := prompt.NewGraph(src, hashstore.NewFile(src.LockPath()), prompt.Options{HashWorkers: 2})
	require.NoError(t, g.Initialize(ctx))
	require.NoError(t, g.PersistHashes(ctx))
	return g
}

func updates(t *testing.T, g *dag.Graph) dag.NodeUpdates {
	t.Helper()
	u, err := g.NodeUpdates()
	require.NoError(t, err)
	return u
}

func TestGraph_DerivesDependencies(t *testing.T) {
	dir := promptDir(t)
	g := plan(t, dir)

	hashes, err := g.Hashes()
	require.NoError(t, err)
	assert.Equal(t, []dag.NodeKey{"notes", "audience"}, hashes["summary"].Dependencies())
	assert.Equal(t, []dag.NodeKey{"summary"}, hashes["facts"].Dependencies())
	assert.Empty(t, hashes["notes"].Dependencies())

	captured, _ := hashes["summary"].Dependency("notes")
	assert.Equal(t, hashing.Content([]byte("# Meeting notes")), captured)

	edges, err := g.Dependencies()
	require.NoError(t, err)
	assert.ElementsMatch(t, []dag.Edge{
		{From: "notes", To: "summary"},
		{From: "audience", To: "summary"},
		{From: "summary", To: "facts"},
	}, edges)

	u := updates(t, g)
	assert.Len(t, u, 4)
	for _, up := range u {
		assert.Equal(t, dag.UpdateNew, up.Kind)
	}
	assert.Empty(t, g.DerivationErrors())
}

func TestGraph_Lifecycle(t *testing.T) {
	dir := promptDir(t)
	first := plan(t, dir)
	firstHashes, err := first.Hashes()
	require.NoError(t, err)

	// Nothing changed.
	assert.Empty(t, updates(t, plan(t, dir)))

	// An edited input invalidates everything derived from it.
	write(t, dir, "notes.md", "# Revised notes")
	assert.Equal(t, dag.NodeUpdates{
		"notes":   dag.UpdatedNode(firstHashes["notes"].Current),
		"summary": dag.InvalidatedNode(firstHashes["summary"].Current, "notes", false),
		"facts":   dag.InvalidatedNode(firstHashes["facts"].Current, "notes", false),
	}, updates(t, plan(t, dir)))

	// A removed input invalidates its former dependents even though the
	// template can no longer capture it.
	require.NoError(t, os.Remove(filepath.Join(dir, "audience.md")))
	g := plan(t, dir)
	assert.Equal(t, dag.NodeUpdates{
		"audience": dag.DeletedNode(firstHashes["audience"].Current),
		"summary":  dag.InvalidatedNode(firstHashes["summary"].Current, "audience", false),
		"facts":    dag.InvalidatedNode(firstHashes["facts"].Current, "audience", false),
	}, updates(t, g))

	errs := g.DerivationErrors()
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], dag.ErrMissingDependency)
	assert.Contains(t, errs[0].Error(), "audience")

	hashes, err := g.Hashes()
	require.NoError(t, err)
	assert.Empty(t, hashes["summary"].Dependencies(), "nothing captured for a template with a missing variable")
}

func TestGraph_DerivationErrors(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "notes.md", "raw")
	write(t, dir, "direct.json", `{"source": "notes"}`)
	write(t, dir, "dangling.json", `{"source": "nowhere"}`)
	write(t, dir, "broken.json", `{"source":`)
	write(t, dir, "ok.hbs", "{{notes}}")

	g := plan(t, dir)
	errs := g.DerivationErrors()
	require.Len(t, errs, 3)

	// Nodes are derived in key order.
	assert.ErrorIs(t, errs[0], dag.ErrInvalidSource)
	assert.Contains(t, errs[0].Error(), "broken")
	assert.ErrorIs(t, errs[1], dag.ErrMissingDependency)
	assert.Contains(t, errs[1].Error(), "dangling")
	assert.ErrorIs(t, errs[2], dag.ErrInvalidSource)
	assert.Contains(t, errs[2].Error(), "direct")

	edges, err := g.Dependencies()
	require.NoError(t, err)
	assert.Equal(t, []dag.Edge{{From: "notes", To: "ok"}}, edges)
}

func TestGraph_CycleIsFatal(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "a.hbs", "{{b}}")
	write(t, dir, "b.hbs", "{{a}}")

	src := source.NewDir(dir, source.DirOptions{})
	g := prompt.NewGraph(src, hashstore.NewFile(src.LockPath()), prompt.Options{})
	err := g.Initialize(context.Background())
	require.ErrorIs(t, err, dag.ErrCycleFound)

	var ge *dag.GraphError
	require.ErrorAs(t, err, &ge)
	assert.ElementsMatch(t, []dag.NodeKey{"a", "b", "a"}, ge.Cycle)
}

func TestGraph_CorruptLockTreatedAsEmpty(t *testing.T) {
	dir := promptDir(t)
	write(t, dir, source.DefaultLockFile, "{not json")

	u := updates(t, plan(t, dir))
	assert.Len(t, u, 4)
	for _, up := range u {
		assert.Equal(t, dag.UpdateNew, up.Kind)
	}
}

func TestGraph_BackPropagation(t *testing.T) {
	dir := promptDir(t)
	first := plan(t, dir)
	firstHashes, err := first.Hashes()
	require.NoError(t, err)

	write(t, dir, "facts.json", `{"source": "summary", "path": "title"}`)
	src := source.NewDir(dir, source.DirOptions{})
	g := prompt.NewGraph(src, hashstore.NewFile(src.LockPath()), prompt.Options{BackPropagation: true})
	require.NoError(t, g.Initialize(context.Background()))

	assert.True(t, g.BackPropagation())
	assert.Equal(t, dag.NodeUpdates{
		"facts":    dag.UpdatedNode(firstHashes["facts"].Current),
		"summary":  dag.InvalidatedNode(firstHashes["summary"].Current, "facts", true),
		"notes":    dag.InvalidatedNode(firstHashes["notes"].Current, "facts", true),
		"audience": dag.InvalidatedNode(firstHashes["audience"].Current, "facts", true),
	}, updates(t, g))
}
