package vault

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewManager_RequiresAbsolutePath(t *testing.T) {
	_, err := NewManager("relative/vault")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not absolute")

	m, err := NewManager(t.TempDir() + "/vault/")
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(m.Root()))
}

func TestManager_Init(t *testing.T) {
	root := filepath.Join(t.TempDir(), "vault")
	m, err := NewManager(root)
	require.NoError(t, err)

	require.NoError(t, m.Init())

	for _, dir := range []string{ContactsDir, EmailsDir, ObsidianDir} {
		info, err := os.Stat(filepath.Join(root, dir))
		require.NoError(t, err)
		assert.True(t, info.IsDir(), dir)
	}

	data, err := os.ReadFile(filepath.Join(root, ObsidianDir, "config.json"))
	require.NoError(t, err)
	var cfg map[string]any
	require.NoError(t, json.Unmarshal(data, &cfg))
	assert.Equal(t, "current", cfg["newFileLocation"])
	assert.Equal(t, true, cfg["showFrontmatter"])
}

func TestManager_InitKeepsExistingConfig(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ObsidianDir), 0o755))
	custom := []byte(`{"vimMode":true}`)
	cfgPath := filepath.Join(root, ObsidianDir, "config.json")
	require.NoError(t, os.WriteFile(cfgPath, custom, 0o644))

	m, err := NewManager(root)
	require.NoError(t, err)
	require.NoError(t, m.Init())
	require.NoError(t, m.Init())

	data, err := os.ReadFile(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, custom, data)
}

func TestManager_Write(t *testing.T) {
	root := t.TempDir()
	m, err := NewManager(root)
	require.NoError(t, err)

	require.NoError(t, m.Write("Emails/2024/03/note.md", "first"))
	require.NoError(t, m.Write("Emails/2024/03/note.md", "second"))

	data, err := os.ReadFile(filepath.Join(root, "Emails", "2024", "03", "note.md"))
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	entries, err := os.ReadDir(filepath.Join(root, "Emails", "2024", "03"))
	require.NoError(t, err)
	require.Len(t, entries, 1, "no temp files left behind")
}
