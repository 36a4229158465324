package watch

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/pithecene-io/buildlink/log"
)

// DefaultDebounce coalesces bursts of changes into one callback.
const DefaultDebounce = 200 * time.Millisecond

// NotifyWatcher watches with fsnotify. It is the native-tier variant.
type NotifyWatcher struct {
	logger   *log.Logger
	debounce time.Duration
}

// NewNotifyWatcher is the Factory of the native-tier variant.
func NewNotifyWatcher(logger *log.Logger) (Watcher, error) {
	return &NotifyWatcher{logger: logger, debounce: DefaultDebounce}, nil
}

// WithDebounce returns a copy of w using d as the debounce window.
func (w *NotifyWatcher) WithDebounce(d time.Duration) *NotifyWatcher {
	c := *w
	c.debounce = d
	return &c
}

// Watch implements Watcher.
func (w *NotifyWatcher) Watch(inputs Inputs, onChange func()) (Handle, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	nw := &notifyWatch{
		watcher:  fw,
		logger:   w.logger,
		debounce: w.debounce,
		onChange: onChange,
		ignore:   inputs.Ignore,
		files:    make(map[string]bool),
		trees:    make(map[string]bool),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		trigger:  make(chan struct{}, 1),
	}
	if err := nw.addInputs(inputs); err != nil {
		_ = fw.Close()
		return nil, err
	}

	go nw.watchLoop()
	go nw.notifyLoop()
	return nw, nil
}

type notifyWatch struct {
	watcher  *fsnotify.Watcher
	logger   *log.Logger
	debounce time.Duration
	onChange func()
	ignore   []string

	files map[string]bool
	trees map[string]bool

	stop     chan struct{}
	done     chan struct{}
	trigger  chan struct{}
	stopOnce sync.Once
}

func (n *notifyWatch) addInputs(inputs Inputs) error {
	for _, dir := range inputs.Directories {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return fmt.Errorf("failed to resolve watch directory %s: %w", dir, err)
		}
		if err := n.addTree(abs); err != nil {
			return err
		}
	}
	for _, file := range inputs.Files {
		abs, err := filepath.Abs(file)
		if err != nil {
			return fmt.Errorf("failed to resolve watch file %s: %w", file, err)
		}
		// Watch the containing directory so replace-by-rename is observed.
		if err := n.watcher.Add(filepath.Dir(abs)); err != nil {
			return fmt.Errorf("failed to watch %s: %w", abs, err)
		}
		n.files[abs] = true
	}
	return nil
}

func (n *notifyWatch) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("failed to watch directory %s: %w", path, err)
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && n.ignored(path) {
			return filepath.SkipDir
		}
		if err := n.watcher.Add(path); err != nil {
			return fmt.Errorf("failed to watch directory %s: %w", path, err)
		}
		n.trees[path] = true
		return nil
	})
}

func (n *notifyWatch) ignored(path string) bool {
	base := filepath.Base(path)
	for _, pattern := range n.ignore {
		if ok, _ := filepath.Match(pattern, base); ok {
			return true
		}
	}
	return false
}

// relevant reports whether an event on path should trigger a callback.
// Directories added for a single file only report that file.
func (n *notifyWatch) relevant(path string) bool {
	if n.ignored(path) {
		return false
	}
	return n.files[path] || n.trees[path] || n.trees[filepath.Dir(path)]
}

func (n *notifyWatch) watchLoop() {
	for {
		select {
		case <-n.stop:
			return
		case event, ok := <-n.watcher.Events:
			if !ok {
				return
			}
			if !n.relevant(event.Name) {
				continue
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := n.addTree(event.Name); err != nil {
						n.logger.Warn("cannot watch new directory", map[string]any{
							"path":  event.Name,
							"error": err.Error(),
						})
					}
				}
			}
			if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) {
				continue
			}
			n.logger.Debug("change detected", map[string]any{
				"path": event.Name,
				"op":   event.Op.String(),
			})
			select {
			case n.trigger <- struct{}{}:
			default:
			}
		case err, ok := <-n.watcher.Errors:
			if !ok {
				return
			}
			n.logger.Error("file watcher error", map[string]any{"error": err.Error()})
		}
	}
}

// notifyLoop runs onChange once the debounce window after the last change elapses.
func (n *notifyWatch) notifyLoop() {
	defer close(n.done)
	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	for {
		select {
		case <-n.stop:
			if timer != nil {
				timer.Stop()
			}
			return
		case <-n.trigger:
			if timer == nil {
				timer = time.NewTimer(n.debounce)
			} else {
				timer.Reset(n.debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			n.onChange()
		}
	}
}

// Stop implements Handle. It waits for an in-flight callback to return.
func (n *notifyWatch) Stop() error {
	var err error
	n.stopOnce.Do(func() {
		close(n.stop)
		err = n.watcher.Close()
		<-n.done
	})
	return err
}
