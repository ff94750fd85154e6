package ps

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/go-git/go-billy/v6/osfs"
	"github.com/go-git/go-git/v6"
	"github.com/go-git/go-git/v6/plumbing/cache"
	"github.com/go-git/go-git/v6/storage/filesystem"
	"github.com/nickyhof/BranchDB/core"
	"github.com/nickyhof/BranchDB/db"
	ignore "github.com/sabhiram/go-gitignore"
	"go.uber.org/zap"
)

const (
	objectsDir   = "objects"
	checkoutsDir = "checkouts"
	stagingDir   = ".staging"
	controlDir   = ".branchdb"
)

// Schema supplies the DDL script that initializes the database of a
// repository's initial branch.
type Schema interface {
	DDL() string
}

// StaticSchema is a Schema backed by a fixed script.
type StaticSchema string

func (s StaticSchema) DDL() string {
	return string(s)
}

// Option configures a Store.
type Option func(*Store)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithSchema(schema Schema) Option {
	return func(s *Store) {
		s.schema = schema
	}
}

func WithTransport(transport Transport) Option {
	return func(s *Store) {
		if transport != nil {
			s.transport = transport
		}
	}
}

// Store owns one repository: its git object graph and the checkouts
// materialized from it.
type Store struct {
	name      string
	dir       string
	cfg       core.Config
	dialect   db.Dialect
	storer    *filesystem.Storage
	repo      *git.Repository
	schema    Schema
	transport Transport
	ignore    *ignore.GitIgnore
	logger    *zap.Logger

	// mu guards checkouts and serializes ref updates. It may be taken
	// while holding a checkout's mutex, never the other way round.
	mu        sync.Mutex
	checkouts map[string]*Checkout
	closed    bool
}

// Open opens the repository called name under cfg.Root, creating it when it
// does not exist yet.
func Open(cfg core.Config, name string, opts ...Option) (*Store, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := validName("repository", name); err != nil {
		return nil, err
	}
	dialect, err := db.Lookup(cfg.Engine)
	if err != nil {
		return nil, err
	}

	dir := filepath.Join(cfg.Root, name)
	if err := os.MkdirAll(filepath.Join(dir, checkoutsDir), 0755); err != nil {
		return nil, core.Storage("create repository directory", err)
	}

	fs := osfs.New(filepath.Join(dir, objectsDir))
	storer := filesystem.NewStorageWithOptions(
		fs,
		cache.NewObjectLRUDefault(),
		filesystem.Options{ExclusiveAccess: true})

	repo, err := git.Open(storer, nil)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		repo, err = git.Init(storer)
	}
	if err != nil {
		return nil, core.Storage("open object store", err)
	}

	patterns := []string{controlDir + "/"}
	patterns = append(patterns, dialect.TransientPatterns()...)
	patterns = append(patterns, cfg.Ignore...)

	s := &Store{
		name:      name,
		dir:       dir,
		cfg:       cfg,
		dialect:   dialect,
		storer:    storer,
		repo:      repo,
		transport: GitTransport{},
		ignore:    ignore.CompileIgnoreLines(patterns...),
		logger:    zap.NewNop(),
		checkouts: make(map[string]*Checkout),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("repository", name))
	s.logger.Debug("opened repository", zap.String("dir", dir), zap.String("engine", dialect.Name()))
	return s, nil
}

func (s *Store) Name() string {
	return s.name
}

// Dir is the directory holding the object store and the checkouts.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) Dialect() db.Dialect {
	return s.dialect
}

func (s *Store) Locator() core.Locator {
	return core.RepositoryLocator(s.name)
}

// Close closes every open checkout database and the object store. It is
// meant for process shutdown; the Store must not be used afterwards.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	keys := make([]string, 0, len(s.checkouts))
	for key := range s.checkouts {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	open := make([]*Checkout, len(keys))
	for i, key := range keys {
		open[i] = s.checkouts[key]
	}
	s.mu.Unlock()

	var errs []error
	for _, co := range open {
		if err := co.closeDB(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.storer.Close(); err != nil {
		errs = append(errs, core.Storage("close object store", err))
	}
	return errors.Join(errs...)
}

// validName rejects names that cannot be used as a single path segment or a
// git ref component.
func validName(what, name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return fmt.Errorf("%w: invalid %s name %q", core.ErrInvalidArgument, what, name)
	case strings.ContainsAny(name, "/\\\x00") || strings.HasPrefix(name, "-"):
		return fmt.Errorf("%w: invalid %s name %q", core.ErrInvalidArgument, what, name)
	}
	return nil
}

// ensureOpen must be called with mu held.
func (s *Store) ensureOpen() error {
	if s.closed {
		return fmt.Errorf("repository %s is closed: %w", s.name, core.ErrInvalidArgument)
	}
	return nil
}
