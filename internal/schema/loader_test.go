package schema

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jmehdipour/nyx-sync/internal/model"
	"github.com/jmehdipour/nyx-sync/internal/syncerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	reg, err := Default()
	require.NoError(t, err)
	assert.Equal(t, []string{"campaigns", "profiles", "proxies"}, reg.Names())

	def, ok := reg.Get("proxies")
	require.True(t, ok)
	col, ok := def.Column("port")
	require.True(t, ok)
	assert.Equal(t, model.TypeInteger, col.Type)
	assert.True(t, col.Has(model.ConstraintNotNull))
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schemas.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
schemas:
  - table: notes
    columns:
      - { name: id, type: string }
      - { name: body, type: text, default: "" }
      - { name: pinned, type: boolean, default: false }
`), 0o644))

	reg, err := Load(path)
	require.NoError(t, err)
	def, ok := reg.Get("notes")
	require.True(t, ok)
	assert.Len(t, def.Columns, 3)
	assert.Equal(t, false, def.Columns[2].Default)
}

func TestLoadYAML_RejectsUnknownFields(t *testing.T) {
	_, err := LoadYAML(strings.NewReader(`
schemas:
  - table: notes
    colums: []
`))
	require.Error(t, err)
}

func TestLoadYAML_DuplicateTable(t *testing.T) {
	defs, err := LoadYAML(strings.NewReader(`
schemas:
  - table: notes
    columns: [{ name: id, type: string }]
  - table: notes
    columns: [{ name: id, type: string }]
`))
	require.NoError(t, err)

	_, err = FromDefinitions(defs)
	assert.ErrorIs(t, err, syncerr.ErrDuplicateSchema)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
