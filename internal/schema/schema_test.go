package schema

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localnerve/jam-build-entitygraph/data"
	"github.com/localnerve/jam-build-entitygraph/internal/model"
)

func TestEmbeddedSchema(t *testing.T) {
	s, err := Parse(data.Schema)
	require.NoError(t, err)

	assert.Equal(t, []string{"Company", "Employee", "Person", "Pet", "Species"}, s.TypeNames())
	assert.Equal(t, "Person", s.Root("Employee"))
	assert.True(t, s.IsA("Employee", "Person"))
	assert.False(t, s.IsA("Person", "Employee"))

	pm, ok := s.Property("Employee", "Friends")
	require.True(t, ok, "inherited properties resolve through the base type")
	assert.True(t, pm.IsList)
	assert.Equal(t, "Person", pm.Type)

	summary, ok := s.Property("Person", "Summary")
	require.True(t, ok)
	assert.False(t, summary.Persisted())
	assert.Len(t, s.Properties("Employee"), len(s.Types["Person"].Properties)+2)
}

func TestDescribe(t *testing.T) {
	s, err := Parse(data.Schema)
	require.NoError(t, err)

	resp, err := s.Describe([]string{"Employee"})
	require.NoError(t, err)
	assert.Equal(t, "Person", resp.Types["Employee"].BaseType)
	assert.NotEmpty(t, resp.ConditionTypes)

	_, err = s.Describe([]string{"Person", "Nope"})
	assert.ErrorIs(t, err, model.ErrTypeNotFound)
}

func TestStaticValues(t *testing.T) {
	s, err := Parse(data.Schema)
	require.NoError(t, err)

	props, err := s.StaticValues("Species")
	require.NoError(t, err)
	assert.JSONEq(t, `["cat","dog","fish"]`, string(props["Names"]))

	props, err = s.StaticValues("Person")
	require.NoError(t, err)
	assert.Nil(t, props)
}

func TestValidate(t *testing.T) {
	for name, doc := range map[string]string{
		"empty":            `types: {}`,
		"unknown base":     "types:\n  A:\n    baseType: B\n    properties: {}\n",
		"cycle":            "types:\n  A:\n    baseType: B\n    properties: {}\n  B:\n    baseType: A\n    properties: {}\n",
		"unknown property": "types:\n  A:\n    properties:\n      X:\n        type: Missing\n",
		"untyped property": "types:\n  A:\n    properties:\n      X: {}\n",
		"stray static":     "types:\n  A:\n    properties:\n      X:\n        type: String\nstatics:\n  A:\n    X: 1\n",
		"not yaml":         "types: [",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.ErrorIs(t, err, ErrInvalidSchema)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.yaml")
	require.NoError(t, os.WriteFile(path, []byte("types:\n  Note:\n    properties:\n      Text:\n        type: String\n"), 0o600))

	s, err := Load(path)
	require.NoError(t, err)
	assert.Contains(t, s.Types, "Note")

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDefaults(t *testing.T) {
	s, err := Parse([]byte(`types:
  Task:
    properties:
      Title:
        type: String
      Done:
        type: Boolean
      Flags:
        type: Boolean
        isList: true
      Cached:
        type: Boolean
        isPersisted: false
  Chore:
    baseType: Task
    properties:
      Urgent:
        type: Boolean
`))
	require.NoError(t, err)

	props := s.Defaults("Chore")
	assert.Len(t, props, 2)
	assert.JSONEq(t, `false`, string(props["Done"]), "inherited")
	assert.JSONEq(t, `false`, string(props["Urgent"]))
	assert.Empty(t, s.Defaults("Nope"))
}
