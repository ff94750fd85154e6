package BranchDB

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/nickyhof/BranchDB/core"
	"github.com/nickyhof/BranchDB/ps"
)

// Registry owns one Store per repository name under a common root. It is
// built once per process and passed to whatever needs repository access.
type Registry struct {
	cfg  core.Config
	opts []ps.Option

	mu     sync.Mutex
	stores map[string]*ps.Store
	closed bool
}

// NewRegistry validates cfg and prepares its root directory. Stores are
// opened on demand by Open; opts are applied to each of them.
func NewRegistry(cfg core.Config, opts ...ps.Option) (*Registry, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Root, 0755); err != nil {
		return nil, core.Storage("create registry root", err)
	}
	return &Registry{
		cfg:    cfg,
		opts:   opts,
		stores: make(map[string]*ps.Store),
	}, nil
}

func (r *Registry) Config() core.Config {
	return r.cfg
}

// Open returns the Store for name, opening or creating the repository on
// first use. Later calls return the same Store.
func (r *Registry) Open(name string) (*ps.Store, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, fmt.Errorf("%w: registry is closed", core.ErrInvalidArgument)
	}
	if s, ok := r.stores[name]; ok {
		return s, nil
	}

	s, err := ps.Open(r.cfg, name, r.opts...)
	if err != nil {
		return nil, err
	}
	r.stores[name] = s
	return s, nil
}

// Names lists every repository under the root, open or not, in name order.
func (r *Registry) Names() ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set := make(map[string]bool, len(r.stores))
	for name := range r.stores {
		set[name] = true
	}
	entries, err := os.ReadDir(r.cfg.Root)
	if err != nil {
		return nil, core.Storage("list repositories", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			set[entry.Name()] = true
		}
	}

	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Close closes every open Store. It is meant for process shutdown; the
// registry cannot be used afterwards.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	stores := r.stores
	r.stores = nil
	r.mu.Unlock()

	var errs []error
	for _, s := range stores {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}
