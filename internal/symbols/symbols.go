// Package symbols maps signal-side instrument names to venue-tradable symbol
// names. The table is static per deployment but broker-specific, so it is
// loaded from a YAML file and can be hot-reloaded while the copier runs.
package symbols

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"tradecopy/internal/logger"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Defaults covers the common index/metal aliases seen in signal channels.
// A deployment-specific symbols file extends or overrides these.
func Defaults() map[string]string {
	return map[string]string{
		"US30":   "US30Cash",
		"DJ30":   "US30Cash",
		"DAX":    "GER40Cash",
		"GER30":  "GER40Cash",
		"GER40":  "GER40Cash",
		"GOLD":   "XAUUSD",
		"XAUUSD": "XAUUSD",
		"OIL":    "OILCash",
		"USOIL":  "OILCash",
		"NIKKEI": "JP225Cash",
		"US100":  "US100Cash",
	}
}

// Table is a concurrency-safe alias lookup.
type Table struct {
	mu      sync.RWMutex
	aliases map[string]string

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewTable builds a table from the built-in defaults.
func NewTable() *Table {
	return &Table{aliases: Defaults(), done: make(chan struct{})}
}

// Load builds a table from defaults merged with the YAML file at path. An
// empty path yields the defaults only.
func Load(path string) (*Table, error) {
	t := NewTable()
	if strings.TrimSpace(path) == "" {
		return t, nil
	}
	if err := t.reload(path); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Table) reload(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading symbols file failed: %w", err)
	}
	var fromFile map[string]string
	if err := yaml.Unmarshal(raw, &fromFile); err != nil {
		return fmt.Errorf("parsing symbols file failed (%s): %w", path, err)
	}
	merged := Defaults()
	for k, v := range fromFile {
		k = strings.ToUpper(strings.TrimSpace(k))
		v = strings.TrimSpace(v)
		if k == "" || v == "" {
			continue
		}
		merged[k] = v
	}
	t.mu.Lock()
	t.aliases = merged
	t.mu.Unlock()
	return nil
}

// Watch reloads the table whenever the file changes. Safe to skip for
// deployments that never touch the file at runtime.
func (t *Table) Watch(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return err
	}
	t.watcher = watcher
	target := filepath.Clean(path)
	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := t.reload(path); err != nil {
					logger.Warnf("symbols: reload after change failed: %v", err)
					continue
				}
				logger.Infof("symbols: alias table reloaded from %s", path)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warnf("symbols: watcher error: %v", err)
			case <-t.done:
				return
			}
		}
	}()
	return nil
}

// Close stops the watcher, if any.
func (t *Table) Close() {
	close(t.done)
	if t.watcher != nil {
		t.watcher.Close()
	}
}

// Lookup resolves a signal-side name to the venue symbol. Unknown names map
// to themselves so brokers quoting the signal name directly keep working.
func (t *Table) Lookup(name string) string {
	key := strings.ToUpper(strings.TrimSpace(name))
	t.mu.RLock()
	defer t.mu.RUnlock()
	if mapped, ok := t.aliases[key]; ok {
		return mapped
	}
	return key
}
