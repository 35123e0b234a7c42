package assetcache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
)

const (
	// DefaultDirPrefix prefixes namespace directory names.
	DefaultDirPrefix = "assetcache"

	// LegacyDirPrefix is the prefix used by earlier releases.
	LegacyDirPrefix = "t-osawa-009.mov.cache"

	// DefaultNamespace is the namespace returned by Default.
	DefaultNamespace = "default"
)

// Registry creates and owns namespaces under one root directory. Each
// namespace is created at most once; later lookups return the same Cache.
type Registry struct {
	root string
	opts []Option
	cfg  config

	mu     sync.Mutex
	caches map[string]*Cache
	closed bool
}

// NewRegistry returns a registry that places namespace directories under
// root. opts apply to every namespace it creates.
func NewRegistry(root string, opts ...Option) (*Registry, error) {
	if root == "" {
		return nil, errors.New("registry root is empty")
	}
	cfg := defaultConfig()
	if err := cfg.apply(opts); err != nil {
		return nil, err
	}
	return &Registry{
		root:   filepath.Clean(root),
		opts:   opts,
		cfg:    cfg,
		caches: make(map[string]*Cache),
	}, nil
}

// Root returns the directory that holds the namespace directories.
func (r *Registry) Root() string {
	return r.root
}

// Dir returns the directory namespace name would use.
func (r *Registry) Dir(name string) string {
	return filepath.Join(r.root, r.cfg.prefix+"."+name)
}

// Namespace returns the cache for name, creating it on first use. opts are
// applied after the registry's options and only when the namespace is
// created.
func (r *Registry) Namespace(name string, opts ...Option) (*Cache, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrRegistryClosed
	}
	if c, ok := r.caches[name]; ok {
		return c, nil
	}

	cfg := defaultConfig()
	if err := cfg.apply(slices.Concat(r.opts, opts)); err != nil {
		return nil, err
	}
	c, err := newCache(name, r.Dir(name), &cfg)
	if err != nil {
		return nil, fmt.Errorf("namespace %q: %w", name, err)
	}
	r.caches[name] = c
	return c, nil
}

// Lookup returns an existing namespace without creating it.
func (r *Registry) Lookup(name string) (*Cache, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.caches[name]
	return c, ok
}

// Names returns the created namespaces in sorted order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.caches))
	for name := range r.caches {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// TriggerEvictionScan schedules an eviction scan on an existing namespace.
func (r *Registry) TriggerEvictionScan(name string) (<-chan struct{}, error) {
	c, ok := r.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNamespace, name)
	}
	return c.TriggerEvictionScan(), nil
}

// TriggerAll schedules an eviction scan on every namespace. The returned
// channel is closed once all of them have finished.
func (r *Registry) TriggerAll() <-chan struct{} {
	r.mu.Lock()
	pending := make([]<-chan struct{}, 0, len(r.caches))
	for _, c := range r.caches {
		pending = append(pending, c.TriggerEvictionScan())
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, ch := range pending {
			<-ch
		}
	}()
	return done
}

// Close runs pending disk work for every namespace and stops their lanes.
// Namespace returns ErrRegistryClosed afterwards.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	caches := make([]*Cache, 0, len(r.caches))
	for _, c := range r.caches {
		caches = append(caches, c)
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range caches {
		wg.Go(c.Close)
	}
	wg.Wait()
}

func validateName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return fmt.Errorf("%w: %q", ErrInvalidNamespace, name)
	case strings.ContainsAny(name, `/\`), strings.ContainsRune(name, 0):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidNamespace, name)
	}
	return nil
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
	defaultErr      error
)

// DefaultRegistry returns the process-wide registry rooted in the user's
// cache directory. It is created on first call.
func DefaultRegistry() (*Registry, error) {
	defaultOnce.Do(func() {
		root, err := os.UserCacheDir()
		if err != nil {
			defaultErr = fmt.Errorf("locate user cache dir: %w", err)
			return
		}
		defaultRegistry, defaultErr = NewRegistry(root)
	})
	return defaultRegistry, defaultErr
}

// Default returns the "default" namespace of the process-wide registry.
//
// Work scheduled on its lane shortly before the process exits may be lost;
// call DefaultRegistry().Close() on shutdown to flush it.
func Default() (*Cache, error) {
	r, err := DefaultRegistry()
	if err != nil {
		return nil, err
	}
	return r.Namespace(DefaultNamespace)
}
