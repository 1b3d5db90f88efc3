package extract_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/promptgraph/internal/dag"
	"github.com/gyaneshwarpardhi/promptgraph/internal/extract"
)

func TestTemplate_Dependencies(t *testing.T) {
	cases := []struct {
		name string
		tmpl string
		want []dag.NodeKey
	}{
		{"plain text", "no variables here", []dag.NodeKey{}},
		{"single variable", "Summarise {{notes}}.", []dag.NodeKey{"notes"}},
		{"first use wins order", "{{b}} {{a}} {{b}} {{{a}}}", []dag.NodeKey{"b", "a"}},
		{"dotted path", "{{profile.name}}", []dag.NodeKey{"profile"}},
		{"helper params and hash", `{{join tags sep=separator}} {{upper "literal"}}`, []dag.NodeKey{"tags", "separator"}},
		{"sub-expression", "{{outer (inner topic) 3}}", []dag.NodeKey{"topic"}},
		{"if keeps context", "{{#if draft}}{{draft}} by {{author}}{{else}}{{fallback}}{{/if}}", []dag.NodeKey{"draft", "author", "fallback"}},
		{"each moves context", "{{#each items}}{{title}} for {{../audience}}{{else}}{{empty}}{{/each}}", []dag.NodeKey{"items", "audience", "empty"}},
		{"nested with", "{{#with a}}{{#with b}}{{../../c}}{{../d}}{{e}}{{/with}}{{/with}}", []dag.NodeKey{"a", "c"}},
		{"block params", "{{#each rows as |row|}}{{row.id}}{{/each}}", []dag.NodeKey{"rows"}},
		{"root data", "{{#each items}}{{@root.header}}{{@index}}{{/each}}", []dag.NodeKey{"items", "header"}},
		{"this is not a variable", "{{#each items}}{{this}}{{/each}}", []dag.NodeKey{"items"}},
		{"comments ignored", "{{!-- {{hidden}} --}}{{shown}}", []dag.NodeKey{"shown"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := extract.Template{}.Dependencies([]byte(tc.tmpl))
			require.NoError(t, err)
			if len(tc.want) == 0 {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestTemplate_ParseError(t *testing.T) {
	_, err := extract.Template{}.Dependencies([]byte("{{#if a}}unclosed"))
	assert.ErrorIs(t, err, dag.ErrUnsupportedContent)
}

func TestSource_Dependencies(t *testing.T) {
	got, err := extract.Source{}.Dependencies([]byte(`{"source": "summary", "path": "items[0]"}`))
	require.NoError(t, err)
	assert.Equal(t, []dag.NodeKey{"summary"}, got)

	for _, bad := range []string{`not json`, `{}`, `{"source": "  "}`, `{"source": 3}`} {
		_, err := extract.Source{}.Dependencies([]byte(bad))
		assert.ErrorIs(t, err, dag.ErrInvalidSource, bad)
	}
}

func TestRegistry(t *testing.T) {
	r := extract.Default()
	assert.Equal(t, []dag.NodeType{dag.NodeTypeLLM, dag.NodeTypeExtraction}, r.Types())

	e, err := r.Get(dag.NodeTypeLLM)
	require.NoError(t, err)
	assert.IsType(t, extract.Template{}, e)

	_, err = r.Get(dag.NodeTypeExternal)
	assert.ErrorIs(t, err, dag.ErrNotImplemented)

	assert.Panics(t, func() { r.Register(extract.Source{}) })
}
