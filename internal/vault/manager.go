// Package vault renders contacts and messages as an Obsidian vault.
package vault

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Vault directory names.
const (
	ContactsDir = "Contacts"
	EmailsDir   = "Emails"
	ObsidianDir = ".obsidian"
)

// obsidianConfig holds the editor defaults written to a fresh vault.
var obsidianConfig = map[string]any{
	"newFileLocation":    "current",
	"useMarkdownLinks":   false,
	"strictLineBreaks":   false,
	"foldHeading":        true,
	"foldIndent":         true,
	"showLineNumber":     false,
	"spellcheck":         true,
	"vimMode":            false,
	"livePreview":        true,
	"readableLineLength": true,
	"showFrontmatter":    true,
	"showInlineTitle":    true,
}

// Manager owns the vault directory layout.
type Manager struct {
	root string
}

// NewManager returns a Manager rooted at root, which must be absolute.
func NewManager(root string) (*Manager, error) {
	if !filepath.IsAbs(root) {
		return nil, eris.Errorf("vault: path %q is not absolute", root)
	}
	return &Manager{root: filepath.Clean(root)}, nil
}

// Root is the vault's absolute path.
func (m *Manager) Root() string { return m.root }

// Init creates the vault directories and writes .obsidian/config.json when
// it does not exist yet. Existing user settings are never overwritten.
func (m *Manager) Init() error {
	for _, dir := range []string{ContactsDir, EmailsDir, ObsidianDir} {
		if err := os.MkdirAll(filepath.Join(m.root, dir), 0o755); err != nil {
			return eris.Wrapf(err, "vault: create %s", dir)
		}
	}

	cfgPath := filepath.Join(m.root, ObsidianDir, "config.json")
	if _, err := os.Stat(cfgPath); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return eris.Wrap(err, "vault: stat obsidian config")
	}

	data, err := json.MarshalIndent(obsidianConfig, "", "  ")
	if err != nil {
		return eris.Wrap(err, "vault: encode obsidian config")
	}
	if err := os.WriteFile(cfgPath, append(data, '\n'), 0o644); err != nil {
		return eris.Wrap(err, "vault: write obsidian config")
	}
	zap.L().Info("vault: initialized", zap.String("path", m.root))
	return nil
}

// Write stores content at rel (slash-separated, relative to the root). The
// file is replaced atomically so readers never see a partial note.
func (m *Manager) Write(rel, content string) error {
	path := filepath.Join(m.root, filepath.FromSlash(rel))
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "vault: create %s", dir)
	}

	tmp, err := os.CreateTemp(dir, ".note-*.tmp")
	if err != nil {
		return eris.Wrapf(err, "vault: temp file for %s", rel)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close() //nolint:errcheck
		return eris.Wrapf(err, "vault: write %s", rel)
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrapf(err, "vault: close %s", rel)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return eris.Wrapf(err, "vault: chmod %s", rel)
	}
	return eris.Wrapf(os.Rename(tmp.Name(), path), "vault: rename %s", rel)
}
