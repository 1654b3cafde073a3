package policy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// reloadDelay debounces bursts of file events into one reload.
const reloadDelay = 300 * time.Millisecond

// Loader reads operator policies from .rego files and watches them.
type Loader struct {
	logger  zerolog.Logger
	cache   map[string]*Policy
	mu      sync.RWMutex
	watcher *fsnotify.Watcher
}

// NewLoader creates a new policy loader.
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{
		logger: logger.With().Str("component", "policy-loader").Logger(),
		cache:  make(map[string]*Policy),
	}
}

// LoadFromPaths loads every policy under paths. Policy names must be unique.
func (l *Loader) LoadFromPaths(ctx context.Context, paths []string) ([]Policy, error) {
	var all []Policy
	seen := make(map[string]string)

	for _, path := range paths {
		policies, err := l.loadFromPath(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("failed to load from path %s: %w", path, err)
		}
		for _, p := range policies {
			if prev, dup := seen[p.Name]; dup {
				return nil, fmt.Errorf("policy %s defined in both %s and %s", p.Name, prev, p.Source)
			}
			seen[p.Name] = p.Source
		}
		all = append(all, policies...)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })

	l.logger.Debug().Int("total", len(all)).Int("sources", len(paths)).Msg("Policies loaded from paths")
	return all, nil
}

func (l *Loader) loadFromPath(ctx context.Context, path string) ([]Policy, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat path: %w", err)
	}
	if !info.IsDir() {
		p, err := l.loadFromFile(ctx, path)
		if err != nil {
			return nil, err
		}
		return []Policy{*p}, nil
	}

	var policies []Policy
	err = filepath.WalkDir(path, func(file string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isPolicyFile(file) {
			return nil
		}
		p, err := l.loadFromFile(ctx, file)
		if err != nil {
			// One bad file must not hide the others.
			l.logger.Warn().Err(err).Str("path", file).Msg("Skipping policy file")
			return nil
		}
		policies = append(policies, *p)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk directory: %w", err)
	}
	return policies, nil
}

func isPolicyFile(path string) bool {
	return strings.HasSuffix(path, ".rego") && !strings.HasSuffix(path, "_test.rego")
}

func (l *Loader) loadFromFile(_ context.Context, path string) (*Policy, error) {
	l.mu.RLock()
	if cached, ok := l.cache[path]; ok {
		l.mu.RUnlock()
		return cached, nil
	}
	l.mu.RUnlock()

	if !isPolicyFile(path) {
		return nil, fmt.Errorf("unsupported file type: %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	src := string(data)
	if pkg := packageOf(src); pkg != Package {
		return nil, fmt.Errorf("%s declares package %q, want %q", path, pkg, Package)
	}

	p := &Policy{
		Name:        strings.TrimSuffix(filepath.Base(path), ".rego"),
		Description: leadingComment(src),
		Rego:        src,
		Enabled:     true,
		Source:      path,
		LoadedAt:    time.Now(),
	}

	l.mu.Lock()
	l.cache[path] = p
	l.mu.Unlock()
	return p, nil
}

// packageOf returns the package clause of a module.
func packageOf(src string) string {
	for _, line := range strings.Split(src, "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 2 && fields[0] == "package" {
			return fields[1]
		}
	}
	return ""
}

// leadingComment joins the first block of # comments.
func leadingComment(src string) string {
	var parts []string
	for _, line := range strings.Split(src, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "#"):
			if c := strings.TrimSpace(strings.TrimLeft(trimmed, "#")); c != "" {
				parts = append(parts, c)
			}
		case trimmed == "" || strings.HasPrefix(trimmed, "package"):
			if len(parts) > 0 {
				return strings.Join(parts, " ")
			}
		default:
			return strings.Join(parts, " ")
		}
	}
	return strings.Join(parts, " ")
}

// Watch reloads paths through reloadFn whenever a policy file is written,
// created, removed or renamed. It returns once the watcher is running.
func (l *Loader) Watch(ctx context.Context, paths []string, reloadFn func([]Policy) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	l.watcher = watcher

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("Not watching missing path")
			continue
		}
		if !info.IsDir() {
			// Editors replace files; watch the parent to see the new inode.
			path = filepath.Dir(path)
		}
		err = filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return watcher.Add(p)
			}
			return nil
		})
		if err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("Failed to watch path")
		}
	}

	go l.processEvents(ctx, paths, reloadFn)

	l.logger.Info().Strs("paths", paths).Msg("Watching policy paths")
	return nil
}

func (l *Loader) processEvents(ctx context.Context, paths []string, reloadFn func([]Policy) error) {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
		_ = l.watcher.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if !isPolicyFile(event.Name) ||
				event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			l.logger.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("Policy file changed")

			l.mu.Lock()
			delete(l.cache, event.Name)
			l.mu.Unlock()

			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(reloadDelay, func() {
				if err := l.reload(ctx, paths, reloadFn); err != nil {
					l.logger.Error().Err(err).Msg("Failed to reload policies")
				}
			})

		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

func (l *Loader) reload(ctx context.Context, paths []string, reloadFn func([]Policy) error) error {
	if ctx.Err() != nil {
		return nil
	}
	policies, err := l.LoadFromPaths(ctx, paths)
	if err != nil {
		return err
	}
	if err := reloadFn(policies); err != nil {
		return fmt.Errorf("failed to apply reloaded policies: %w", err)
	}
	l.logger.Info().Int("count", len(policies)).Msg("Policies reloaded")
	return nil
}

// ClearCache drops every cached policy.
func (l *Loader) ClearCache() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cache = make(map[string]*Policy)
}
