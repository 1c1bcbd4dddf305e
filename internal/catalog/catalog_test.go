// internal/catalog/catalog_test.go
package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveIdempotent(t *testing.T) {
	c := New()

	e1, isNew := c.Observe("portaria", 1, "VMD")
	assert.True(t, isNew)
	assert.Equal(t, "portaria_1_VMD", e1.UniqueID())
	assert.Equal(t, "Motion", e1.Label)
	assert.Equal(t, "motion", e1.DeviceClass)

	// mesma tupla, grafia diferente: não é inédita e mantém a primeira grafia
	e2, isNew := c.Observe("portaria", 1, "vmd")
	assert.False(t, isNew)
	assert.Equal(t, "VMD", e2.EventType)

	// canal diferente é outra tupla
	_, isNew = c.Observe("portaria", 2, "VMD")
	assert.True(t, isNew)

	assert.Len(t, c.Snapshot(), 2)
}

func TestObserveUnknownEventType(t *testing.T) {
	c := New()
	e, _ := c.Observe("garagem", 1, "somethingNew")
	assert.Equal(t, "somethingNew", e.Label)
	assert.Equal(t, "problem", e.DeviceClass)
}

func TestLookup(t *testing.T) {
	c := New()
	c.Observe("portaria", 1, "VMD")

	e, ok := c.Lookup("portaria", 1, "VMD")
	require.True(t, ok)
	assert.Equal(t, "VMD", e.EventType)

	// lookup também é case-insensitive no tipo
	_, ok = c.Lookup("portaria", 1, "vMd")
	assert.True(t, ok)

	_, ok = c.Lookup("portaria", 9, "VMD")
	assert.False(t, ok)
}

func TestPersistRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")

	c := New()
	c.Observe("portaria", 1, "VMD")
	c.Observe("portaria", 1, "IO")
	c.Observe("garagem", 4, "linedetection")

	require.True(t, c.Dirty())
	require.NoError(t, c.Persist(path))
	assert.False(t, c.Dirty())

	loaded := New()
	require.NoError(t, loaded.Load(path))
	assert.Equal(t, c.Snapshot(), loaded.Snapshot())
}

func TestLoadMissingFileIsFine(t *testing.T) {
	c := New()
	require.NoError(t, c.Load(filepath.Join(t.TempDir(), "nope.json")))
	assert.Empty(t, c.Snapshot())
}

func TestLoadTolerant(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")
	// arquivo de uma versão antiga: campos derivados faltando, entrada sem
	// camera_id, campo desconhecido
	raw := `{
  "version": 1,
  "entries": [
    {"camera_id": "portaria", "event_type": "VMD"},
    {"camera_id": "", "event_type": "IO"},
    {"camera_id": "garagem", "channel_id": 2, "event_type": "tamperdetection", "extra_field": true}
  ]
}`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))

	c := New()
	require.NoError(t, c.Load(path))

	e, ok := c.Lookup("portaria", 1, "VMD") // channel_id ausente vale 1
	require.True(t, ok)
	assert.Equal(t, "Motion", e.Label)
	assert.Equal(t, "motion", e.DeviceClass)

	e, ok = c.Lookup("garagem", 2, "tamperdetection")
	require.True(t, ok)
	assert.Equal(t, "tamper", e.DeviceClass)

	assert.Len(t, c.Snapshot(), 2) // a entrada sem camera_id foi descartada
}

func TestLoadEmptyFileIsFine(t *testing.T) {
	// catalog.json zerado (crash durante o primeiro persist, truncamento
	// manual): vale como ausente, o bridge tem que subir normalmente
	path := filepath.Join(t.TempDir(), "catalog.json")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	c := New()
	require.NoError(t, c.Load(path))
	assert.Empty(t, c.Snapshot())

	require.NoError(t, os.WriteFile(path, []byte("  \n"), 0o644))
	require.NoError(t, New().Load(path))
}

func TestLoadCorruptFileIsIgnored(t *testing.T) {
	// o arquivo é consultivo: JSON podre não pode impedir o boot
	path := filepath.Join(t.TempDir(), "catalog.json")
	require.NoError(t, os.WriteFile(path, []byte("{nope"), 0o644))

	c := New()
	require.NoError(t, c.Load(path))
	assert.Empty(t, c.Snapshot())

	// e o catálogo segue utilizável depois
	_, isNew := c.Observe("portaria", 1, "VMD")
	assert.True(t, isNew)
}

func TestPersistDoesNotLeaveTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.json")

	c := New()
	c.Observe("portaria", 1, "VMD")
	require.NoError(t, c.Persist(path))

	files, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "catalog.json", files[0].Name())
}
