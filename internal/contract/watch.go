package contract

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/CdubVentures/spec-harvester-sub001/internal/logging"
)

// Watcher watches a category contract's JSON file on disk and rebuilds
// the Engine whenever it changes, so a long-running batch harvest picks
// up a curator's edits without a restart.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	onLoad  func(*Engine)
	stop    chan struct{}
}

// WatchContract loads path once immediately and starts watching it for
// further changes; onLoad is called with the freshly-built Engine both
// on the initial load and on every subsequent change.
func WatchContract(path string, ruleSchemaExtra string, onLoad func(*Engine)) (*Watcher, error) {
	eng, err := loadEngineFromFile(path, ruleSchemaExtra)
	if err != nil {
		return nil, err
	}
	onLoad(eng)

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create contract watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch contract directory: %w", err)
	}

	w := &Watcher{path: path, watcher: fw, onLoad: onLoad, stop: make(chan struct{})}
	go w.loop(ruleSchemaExtra)
	return w, nil
}

func (w *Watcher) loop(ruleSchemaExtra string) {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			eng, err := loadEngineFromFile(w.path, ruleSchemaExtra)
			if err != nil {
				logging.ContractError("reload contract %s: %v", w.path, err)
				continue
			}
			logging.Contract("contract reloaded: %s", w.path)
			w.onLoad(eng)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.ContractError("contract watcher error: %v", err)
		case <-w.stop:
			return
		}
	}
}

// Close stops watching and releases the underlying fsnotify handle.
func (w *Watcher) Close() error {
	close(w.stop)
	return w.watcher.Close()
}

func loadEngineFromFile(path, ruleSchemaExtra string) (*Engine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read contract %s: %w", path, err)
	}
	var c Contract
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse contract %s: %w", path, err)
	}

	rules := NewRuleEngine(DefaultRuleEngineConfig())
	schema := c.RuleSchema
	if ruleSchemaExtra != "" {
		schema = schema + "\n" + ruleSchemaExtra
	}
	if schema != "" {
		if err := rules.LoadSchemaString(schema); err != nil {
			return nil, fmt.Errorf("load rule schema for %s: %w", path, err)
		}
	}
	return NewEngine(&c, rules), nil
}
