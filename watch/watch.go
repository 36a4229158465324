// Package watch provides capability-gated file watching.
//
// A Service is constructed for a capability tier. Construction selects the
// watcher variant registered for that tier and fails immediately when the
// tier is below the minimum or no variant is registered; it never degrades
// lazily at watch time.
package watch

import (
	"fmt"
	"runtime"
	"sort"
	"sync"

	"github.com/pithecene-io/buildlink/log"
	"github.com/pithecene-io/buildlink/types"
)

// Capability is a runtime capability tier. Higher tiers include lower ones.
type Capability int

// Capability tiers.
const (
	// CapabilityNone means the platform offers no change notification.
	CapabilityNone Capability = iota
	// CapabilityNative means the platform offers kernel change notification.
	CapabilityNative
)

// MinimumCapability is the lowest tier file watching is available on.
const MinimumCapability = CapabilityNative

func (c Capability) String() string {
	switch c {
	case CapabilityNone:
		return "none"
	case CapabilityNative:
		return "native"
	default:
		return fmt.Sprintf("capability(%d)", int(c))
	}
}

// nativePlatforms are the platforms with kernel change notification.
var nativePlatforms = map[string]bool{
	"linux":   true,
	"darwin":  true,
	"windows": true,
	"freebsd": true,
	"openbsd": true,
	"netbsd":  true,
	"illumos": true,
	"solaris": true,
}

// DetectCapability returns the capability tier of the running platform.
func DetectCapability() Capability {
	if nativePlatforms[runtime.GOOS] {
		return CapabilityNative
	}
	return CapabilityNone
}

// Inputs describe what a watch observes.
type Inputs struct {
	// Directories are watched together with every subdirectory below them.
	Directories []string
	// Files are watched individually.
	Files []string
	// Ignore holds filepath.Match patterns matched against base names.
	// Matching directories are not descended into.
	Ignore []string
}

// Handle stops one watch. Stop is idempotent.
type Handle interface {
	Stop() error
}

// Watcher starts watches. onChange runs on the watch's own goroutine, once
// per burst of changes.
type Watcher interface {
	Watch(inputs Inputs, onChange func()) (Handle, error)
}

// Factory constructs a watcher variant.
type Factory func(logger *log.Logger) (Watcher, error)

// Registry maps capability tiers to watcher variants.
type Registry struct {
	mu       sync.RWMutex
	variants map[Capability]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{variants: make(map[Capability]Factory)}
}

// Register binds f to tier, replacing any earlier binding.
func (r *Registry) Register(tier Capability, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.variants[tier] = f
}

// Lookup returns the variant bound to tier.
func (r *Registry) Lookup(tier Capability) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.variants[tier]
	return f, ok
}

// Tiers returns the registered tiers in ascending order.
func (r *Registry) Tiers() []Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tiers := make([]Capability, 0, len(r.variants))
	for t := range r.variants {
		tiers = append(tiers, t)
	}
	sort.Slice(tiers, func(i, j int) bool { return tiers[i] < tiers[j] })
	return tiers
}

// DefaultRegistry holds the variants compiled into this binary.
var DefaultRegistry = func() *Registry {
	r := NewRegistry()
	r.Register(CapabilityNative, NewNotifyWatcher)
	return r
}()

// Options configure NewService.
type Options struct {
	// Registry supplies the variants. Default: DefaultRegistry.
	Registry *Registry
	// Logger receives watch diagnostics. Default: a no-op logger.
	Logger *log.Logger
}

// Service delegates watches to the variant selected at construction and
// tracks them so Stop can end every watch it started.
type Service struct {
	watcher Watcher
	logger  *log.Logger

	mu      sync.Mutex
	handles map[*trackedHandle]struct{}
	stopped bool
}

// NewService selects the watcher variant for tier.
func NewService(tier Capability, opts Options) (*Service, error) {
	if opts.Registry == nil {
		opts.Registry = DefaultRegistry
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNopLogger()
	}
	if tier < MinimumCapability {
		return nil, types.Configuration(fmt.Sprintf(
			"file watching requires the %s capability, running with %s", MinimumCapability, tier), nil)
	}
	factory, ok := opts.Registry.Lookup(tier)
	if !ok {
		return nil, types.Configuration(fmt.Sprintf(
			"no file watcher implementation for the %s capability", tier), nil)
	}
	w, err := factory(opts.Logger)
	if err != nil {
		return nil, types.Configuration("cannot create file watcher", err)
	}
	return &Service{
		watcher: w,
		logger:  opts.Logger,
		handles: make(map[*trackedHandle]struct{}),
	}, nil
}

// Watch starts a watch on inputs.
func (s *Service) Watch(inputs Inputs, onChange func()) (Handle, error) {
	if onChange == nil {
		return nil, types.InvalidRequest("watch callback is nil")
	}
	if len(inputs.Directories) == 0 && len(inputs.Files) == 0 {
		return nil, types.InvalidRequest("nothing to watch")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil, types.InvalidRequest("watch service is stopped")
	}
	h, err := s.watcher.Watch(inputs, onChange)
	if err != nil {
		return nil, err
	}
	th := &trackedHandle{Handle: h, owner: s}
	s.handles[th] = struct{}{}
	return th, nil
}

// Stop ends every watch and rejects new ones.
func (s *Service) Stop() error {
	s.mu.Lock()
	s.stopped = true
	handles := make([]*trackedHandle, 0, len(s.handles))
	for h := range s.handles {
		handles = append(handles, h)
	}
	s.mu.Unlock()

	var first error
	for _, h := range handles {
		if err := h.Stop(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Active returns the number of running watches.
func (s *Service) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles)
}

type trackedHandle struct {
	Handle
	owner *Service
	once  sync.Once
	err   error
}

func (h *trackedHandle) Stop() error {
	h.once.Do(func() {
		h.err = h.Handle.Stop()
		h.owner.mu.Lock()
		delete(h.owner.handles, h)
		h.owner.mu.Unlock()
	})
	return h.err
}
