package skill

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/ehrlich-b/perch/internal/logger"
)

// Registry holds the skills found in a directory and keeps them fresh
// by rescanning whenever the directory changes on disk.
type Registry struct {
	dir string

	mu     sync.RWMutex
	skills map[string]*Skill

	watcher *fsnotify.Watcher
	done    chan struct{}
}

func NewRegistry(dir string) *Registry {
	return &Registry{
		dir:    dir,
		skills: make(map[string]*Skill),
		done:   make(chan struct{}),
	}
}

// Scan walks the skill directory once. Missing directory is not an error;
// a registry over an empty or absent dir just lists nothing.
func (r *Registry) Scan() error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if os.IsNotExist(err) {
			r.mu.Lock()
			r.skills = make(map[string]*Skill)
			r.mu.Unlock()
			return nil
		}
		return err
	}

	found := make(map[string]*Skill)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		path := filepath.Join(r.dir, e.Name())
		s, err := Load(path)
		if err != nil {
			logger.Warn("skipping invalid skill file", "path", path, "error", err)
			continue
		}
		found[s.Name] = s
	}

	r.mu.Lock()
	r.skills = found
	r.mu.Unlock()
	return nil
}

// Watch starts an fsnotify watcher over the skill directory and rescans
// on any change. Returns without error if the directory does not exist;
// call Close to stop the watcher goroutine.
func (r *Registry) Watch() error {
	if _, err := os.Stat(r.dir); os.IsNotExist(err) {
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(r.dir); err != nil {
		w.Close()
		return err
	}
	r.watcher = w

	go func() {
		for {
			select {
			case <-r.done:
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				if err := r.Scan(); err != nil {
					logger.Warn("skill rescan failed", "error", err)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Warn("skill watcher error", "error", err)
			}
		}
	}()
	return nil
}

func (r *Registry) Close() {
	close(r.done)
	if r.watcher != nil {
		r.watcher.Close()
	}
}

func (r *Registry) Get(name string) (*Skill, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.skills[name]
	return s, ok
}

// List returns all known skills sorted by name.
func (r *Registry) List() []*Skill {
	r.mu.RLock()
	out := make([]*Skill, 0, len(r.skills))
	for _, s := range r.skills {
		out = append(out, s)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
