package devseed

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFixture(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFixtureEmptyPath(t *testing.T) {
	fx, err := LoadFixture("")
	assert.NoError(t, err)
	assert.Nil(t, fx)
}

func TestLoadFixtureMissingFile(t *testing.T) {
	_, err := LoadFixture(filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "devseed: read fixture")
}

func TestLoadFixtureJSONArray(t *testing.T) {
	path := writeFixture(t, "seed.json", `[{"key":"a","value":1},{"key":"b","value":{"n":2}}]`)

	fx, err := LoadFixture(path)
	require.NoError(t, err)
	require.Len(t, fx.Records, 2)
	assert.Equal(t, "a", fx.Records[0].Key)
	assert.Equal(t, float64(1), fx.Records[0].Value)
	assert.Equal(t, map[string]any{"n": float64(2)}, fx.Records[1].Value)
	assert.Nil(t, fx.Flags)
}

func TestLoadFixtureJSONObject(t *testing.T) {
	path := writeFixture(t, "seed.json", `{"records":[{"key":"a","value":1}],"flags":{"canSave":false}}`)

	fx, err := LoadFixture(path)
	require.NoError(t, err)
	require.Len(t, fx.Records, 1)
	require.NotNil(t, fx.Flags)
	require.NotNil(t, fx.Flags.CanSave)
	assert.False(t, *fx.Flags.CanSave)
	assert.Nil(t, fx.Flags.CanOpenDB)
}

func TestLoadFixtureYAML(t *testing.T) {
	path := writeFixture(t, "seed.yaml", `
records:
  - key: a
    value:
      name: first
      tags: [x, y]
  - key: b
    value: 2
flags:
  openDBShouldBlock: true
`)

	fx, err := LoadFixture(path)
	require.NoError(t, err)
	require.Len(t, fx.Records, 2)
	assert.Equal(t, map[string]any{"name": "first", "tags": []any{"x", "y"}}, fx.Records[0].Value)
	assert.Equal(t, float64(2), fx.Records[1].Value)
	require.NotNil(t, fx.Flags.OpenDBShouldBlock)
	assert.True(t, *fx.Flags.OpenDBShouldBlock)
}

func TestLoadFixtureBadYAML(t *testing.T) {
	path := writeFixture(t, "seed.yml", "records: [unclosed")
	_, err := LoadFixture(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "devseed: decode yaml fixture")
}

func TestParseFixture(t *testing.T) {
	fx, err := ParseFixture([]byte("  "))
	require.NoError(t, err)
	assert.Empty(t, fx.Records)

	_, err = ParseFixture([]byte("[{"))
	assert.Error(t, err)

	_, err = ParseFixture([]byte(`{"records": 5}`))
	assert.Error(t, err)
}
