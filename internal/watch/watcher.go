// SPDX-License-Identifier: MPL-2.0

// Package watch recompiles when C/C++ inputs change.
//
// A Watcher monitors a directory tree for files matching glob patterns and
// invokes a callback once the tree has been quiet for a debounce period.
// Events within the window are coalesced, so saving a header and its source
// together produces one rebuild.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
)

// defaultDebounce is the quiet period before OnChange fires. Editors that
// write a temp file and rename it produce several events per save.
const defaultDebounce = 300 * time.Millisecond

// ErrInvalidPattern is the sentinel wrapped by InvalidPatternError.
var ErrInvalidPattern = errors.New("invalid glob pattern")

var (
	// SourcePatterns select C/C++ translation units, headers and job files.
	SourcePatterns = []string{
		"**/*.{c,cc,cpp,cxx,c++,C}",
		"**/*.{h,hh,hpp,hxx,h++,inc,ipp,tpp}",
		"**/*.{toml,yaml,yml,cue}",
	}

	// defaultIgnores are never watched. Build products are listed so writing
	// the linked module does not trigger another build.
	defaultIgnores = []string{
		"**/.git/**",
		"**/build/**",
		"**/*.wasm",
		"**/*.o",
		"**/*.pch",
		"**/*.swp",
		"**/*.swo",
		"**/*~",
		"**/.#*",
		"**/.DS_Store",
	}
)

type (
	// InvalidPatternError reports a glob that doublestar cannot parse.
	InvalidPatternError struct {
		Kind    string
		Pattern string
		Err     error
	}

	// Config holds the parameters for a Watcher.
	Config struct {
		// BaseDir is the root of the watched tree. Empty means the working directory.
		BaseDir string

		// Patterns select files that trigger OnChange. Empty means SourcePatterns.
		Patterns []string

		// Ignore adds patterns to the built-in ignore list.
		Ignore []string

		// Debounce is the quiet period before OnChange fires. Zero or negative
		// values fall back to defaultDebounce.
		Debounce time.Duration

		// ClearScreen writes an ANSI clear sequence to Stdout before each rebuild.
		ClearScreen bool

		// Stdout receives the clear sequence. nil means os.Stdout.
		Stdout io.Writer

		// Logger receives watcher diagnostics. nil discards them.
		Logger *log.Logger

		// OnChange receives the deduplicated paths, relative to BaseDir and
		// slash-separated, that changed during the debounce window.
		OnChange func(ctx context.Context, changed []string) error
	}

	// Watcher monitors a directory tree. Run must be called exactly once.
	Watcher struct {
		cfg      Config
		fsw      *fsnotify.Watcher
		patterns []string
		ignores  []string
		stdout   io.Writer
		logger   *log.Logger
		debounce time.Duration
		baseDir  string
		started  atomic.Bool
	}
)

// Error implements the error interface.
func (e *InvalidPatternError) Error() string {
	return fmt.Sprintf("invalid %s pattern %q: %v", e.Kind, e.Pattern, e.Err)
}

// Unwrap returns ErrInvalidPattern and the doublestar error.
func (e *InvalidPatternError) Unwrap() []error { return []error{ErrInvalidPattern, e.Err} }

// IsValid returns whether every watch and ignore pattern parses.
func (c Config) IsValid() (bool, []error) {
	var errs []error
	check := func(kind string, patterns []string) {
		for _, pat := range patterns {
			if pat == "" {
				errs = append(errs, &InvalidPatternError{Kind: kind, Pattern: pat, Err: errors.New("empty pattern")})
				continue
			}
			if !doublestar.ValidatePattern(pat) {
				errs = append(errs, &InvalidPatternError{Kind: kind, Pattern: pat, Err: doublestar.ErrBadPattern})
			}
		}
	}
	check("watch", c.Patterns)
	check("ignore", c.Ignore)
	return len(errs) == 0, errs
}

// New validates cfg and registers every non-ignored directory under BaseDir.
func New(cfg Config) (*Watcher, error) {
	if ok, errs := cfg.IsValid(); !ok {
		return nil, fmt.Errorf("watch: %w", errors.Join(errs...))
	}

	baseDir := cfg.BaseDir
	if baseDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("watch: determine working directory: %w", err)
		}
		baseDir = wd
	}
	absBase, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("watch: resolve base directory: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		cfg:      cfg,
		fsw:      fsw,
		patterns: cfg.Patterns,
		ignores:  append(slices.Clone(defaultIgnores), cfg.Ignore...),
		stdout:   cfg.Stdout,
		logger:   cfg.Logger,
		debounce: cfg.Debounce,
		baseDir:  absBase,
	}
	if len(w.patterns) == 0 {
		w.patterns = SourcePatterns
	}
	if w.stdout == nil {
		w.stdout = os.Stdout
	}
	if w.logger == nil {
		w.logger = log.New(io.Discard)
	}
	if w.debounce <= 0 {
		w.debounce = defaultDebounce
	}

	if err := w.addDirectories(); err != nil {
		if closeErr := fsw.Close(); closeErr != nil {
			w.logger.Warn("close watcher after init failure", "err", closeErr)
		}
		return nil, err
	}
	return w, nil
}

// BaseDir returns the absolute root of the watched tree.
func (w *Watcher) BaseDir() string { return w.baseDir }

// Run blocks until ctx is canceled, dispatching debounced callbacks. It
// returns nil on cancellation and an error when the watcher breaks.
func (w *Watcher) Run(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return errors.New("watch: Run called more than once")
	}

	var (
		mu      sync.Mutex
		pending = make(map[string]struct{})
		timer   *time.Timer
		running atomic.Bool
	)

	// fire runs on the timer goroutine. A rebuild slower than the debounce
	// period is never overlapped; the timer is re-armed instead so the
	// pending set is picked up once it finishes.
	fire := func() {
		if ctx.Err() != nil {
			return
		}
		if !running.CompareAndSwap(false, true) {
			w.logger.Debug("build in progress, deferring")
			mu.Lock()
			timer.Reset(w.debounce)
			mu.Unlock()
			return
		}
		defer running.Store(false)

		mu.Lock()
		if len(pending) == 0 {
			mu.Unlock()
			return
		}
		changed := slices.Sorted(maps.Keys(pending))
		clear(pending)
		mu.Unlock()

		if w.cfg.ClearScreen {
			fmt.Fprint(w.stdout, "\033[2J\033[H")
		}
		w.logger.Debug("change detected", "files", changed)
		if w.cfg.OnChange != nil {
			if err := w.cfg.OnChange(ctx, changed); err != nil {
				w.logger.Error("rebuild failed", "err", err)
			}
		}
	}

	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
		if err := w.fsw.Close(); err != nil {
			w.logger.Warn("close watcher", "err", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case evt, ok := <-w.fsw.Events:
			if !ok {
				return errors.New("watch: event channel closed unexpectedly")
			}
			if evt.Has(fsnotify.Chmod) && !evt.Has(fsnotify.Write) {
				continue
			}

			// New directories are watched whether or not their name matches.
			if evt.Has(fsnotify.Create) {
				w.maybeAddDir(evt.Name)
			}

			rel, ok := w.relative(evt.Name)
			if !ok || w.isIgnored(rel) || !w.matches(rel) {
				continue
			}

			mu.Lock()
			pending[rel] = struct{}{}
			if timer == nil {
				timer = time.AfterFunc(w.debounce, fire)
			} else {
				timer.Reset(w.debounce)
			}
			mu.Unlock()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return errors.New("watch: error channel closed unexpectedly")
			}
			if isFatalFsnotifyError(err) {
				return fmt.Errorf("watch: fatal fsnotify error: %w", err)
			}
			w.logger.Warn("fsnotify error", "err", err)
		}
	}
}

func (w *Watcher) addDirectories() error {
	err := filepath.WalkDir(w.baseDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			w.logger.Warn("skipping inaccessible path", "path", path, "err", walkErr)
			return nil //nolint:nilerr // unreadable subtrees are not watched
		}
		if !d.IsDir() {
			return nil
		}
		if rel, ok := w.relative(path); ok && rel != "." && w.isIgnoredDir(rel) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("watch: add directory %q: %w", path, err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("watch: walk directory tree: %w", err)
	}
	return nil
}

func (w *Watcher) maybeAddDir(path string) {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return
	}
	if rel, ok := w.relative(path); !ok || w.isIgnoredDir(rel) {
		return
	}
	if err := w.fsw.Add(path); err != nil {
		w.logger.Warn("watch new directory", "path", path, "err", err)
	}
}

func (w *Watcher) relative(path string) (string, bool) {
	rel, err := filepath.Rel(w.baseDir, path)
	if err != nil {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

func (w *Watcher) isIgnoredDir(rel string) bool {
	return w.isIgnored(rel) || w.isIgnored(rel+"/")
}

func (w *Watcher) isIgnored(rel string) bool {
	return matchAny(w.ignores, rel)
}

func (w *Watcher) matches(rel string) bool {
	return matchAny(w.patterns, rel)
}

func matchAny(patterns []string, rel string) bool {
	for _, pat := range patterns {
		if doublestar.MatchUnvalidated(pat, rel) {
			return true
		}
	}
	return false
}

// DefaultIgnores returns a copy of the built-in ignore patterns.
func DefaultIgnores() []string {
	return slices.Clone(defaultIgnores)
}
