// Copyright (c) 2024 The ipcmd authors.
// SPDX-License-Identifier: Apache-2.0

// Package diftemplate implements the DIF template manager. It keeps an
// in-memory catalog of DIF templates keyed by filename, watches a
// directory of ".dif" files (UTF-8 JSON) with fsnotify, and merges
// every loaded template against "default.dif" before handing it to the
// orchestrator.
package diftemplate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/rina-project/ipcmd/base"
	"github.com/rina-project/ipcmd/types"
)

// TemplateExt is the file extension watched and loaded as DIF templates.
const TemplateExt = ".dif"

// DefaultTemplateName is the filename every other template is merged
// against when it does not already set a given field.
const DefaultTemplateName = "default" + TemplateExt

// Manager owns the DIF template catalog.
type Manager struct {
	log *base.LogObject
	dir string

	mu        sync.RWMutex
	templates map[string]*types.DIFTemplate
}

// New creates a Manager that loads/watches JSON template files under dir.
func New(log *base.LogObject, dir string) *Manager {
	return &Manager{
		log:       log,
		dir:       dir,
		templates: make(map[string]*types.DIFTemplate),
	}
}

// Add inserts or replaces a template by name, merging it against the
// default template if one is already loaded (unless tpl.Name itself is
// "default").
func (m *Manager) Add(name string, tpl *types.DIFTemplate) error {
	if name == "" {
		return &types.TemplateInvalid{Template: name, Reason: "empty name"}
	}
	tpl.Name = name

	m.mu.Lock()
	defer m.mu.Unlock()
	if name != DefaultTemplateName {
		if def, ok := m.templates[DefaultTemplateName]; ok {
			tpl.MergeDefault(def)
		}
	}
	m.templates[name] = tpl
	m.log.Noticef("diftemplate: loaded template %q", name)
	return nil
}

// Remove deletes a named template. "default" is removed like any other
// name; templates already merged with it keep the values copied from it
// (there is no cascading re-merge).
func (m *Manager) Remove(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.templates[name]; !ok {
		return &types.NotFound{Kind: "dif-template", Ref: name}
	}
	delete(m.templates, name)
	return nil
}

// Get returns a named template.
func (m *Manager) Get(name string) (*types.DIFTemplate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tpl, ok := m.templates[name]
	if !ok {
		return nil, &types.NotFound{Kind: "dif-template", Ref: name}
	}
	return tpl, nil
}

// List returns every loaded template name.
func (m *Manager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.templates))
	for name := range m.templates {
		names = append(names, name)
	}
	return names
}

// LoadDir reads every "*.dif" file in the watched directory once,
// loading "default.dif" first so later files can be merged against it.
func (m *Manager) LoadDir() error {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("diftemplate: read dir %s: %w", m.dir, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), TemplateExt) {
			continue
		}
		names = append(names, e.Name())
	}
	// Ensure default.dif loads first so everything else can merge
	// against it.
	for i, n := range names {
		if n == DefaultTemplateName {
			names[0], names[i] = names[i], names[0]
			break
		}
	}

	for _, n := range names {
		if err := m.loadFile(filepath.Join(m.dir, n)); err != nil {
			m.log.Errorf("diftemplate: failed to load %s: %v", n, err)
		}
	}
	return nil
}

func (m *Manager) loadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	raw, err := io.ReadAll(f)
	if err != nil {
		return err
	}

	var tpl types.DIFTemplate
	if err := json.Unmarshal(raw, &tpl); err != nil {
		return &types.TemplateInvalid{Template: path, Reason: err.Error()}
	}

	return m.Add(filepath.Base(path), &tpl)
}

// Watch starts an fsnotify watcher over the template directory and
// hot-reloads a template whenever its file is created or written.
// Grounded on the wwan status watcher's create-and-select-loop pattern.
func (m *Manager) Watch(ctx context.Context) error {
	if err := os.MkdirAll(m.dir, 0755); err != nil {
		return fmt.Errorf("diftemplate: mkdir %s: %w", m.dir, err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("diftemplate: new watcher: %w", err)
	}
	if err := fsw.Add(m.dir); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("diftemplate: watch %s: %w", m.dir, err)
	}
	go m.runWatcher(ctx, fsw)
	return nil
}

func (m *Manager) runWatcher(ctx context.Context, fsw *fsnotify.Watcher) {
	defer fsw.Close()
	for {
		select {
		case event, ok := <-fsw.Events:
			if !ok {
				m.log.Warnf("diftemplate: fsnotify watcher stopped")
				return
			}
			if !strings.HasSuffix(event.Name, TemplateExt) {
				continue
			}
			if event.Op&fsnotify.Remove != 0 {
				_ = m.Remove(filepath.Base(event.Name))
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := m.loadFile(event.Name); err != nil {
				m.log.Errorf("diftemplate: reload %s failed: %v", event.Name, err)
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			m.log.Errorf("diftemplate: fsnotify error: %v", err)
		case <-ctx.Done():
			return
		}
	}
}
