package core

import (
	"fmt"
	"net/url"
	"strings"
)

// ReferenceKind identifies what a Locator's reference name points at.
type ReferenceKind int

const (
	Repository ReferenceKind = iota
	LocalBranch
	Commit
	Remote
	RemoteBranch
)

var kindTokens = map[ReferenceKind]string{
	Repository:   "",
	LocalBranch:  "branches",
	Commit:       "commits",
	Remote:       "remote",
	RemoteBranch: "remote-branches",
}

// Token returns the path segment used for the kind in locator strings.
func (kind ReferenceKind) Token() string {
	return kindTokens[kind]
}

func (kind ReferenceKind) String() string {
	switch kind {
	case Repository:
		return "repository"
	case LocalBranch:
		return "branch"
	case Commit:
		return "commit"
	case Remote:
		return "remote"
	case RemoteBranch:
		return "remote-branch"
	default:
		return fmt.Sprintf("ReferenceKind(%d)", int(kind))
	}
}

// IsCheckout reports whether references of this kind can be checked out.
func (kind ReferenceKind) IsCheckout() bool {
	return kind == LocalBranch || kind == Commit || kind == RemoteBranch
}

// IsMutable reports whether checkouts of this kind accept writes and commits.
func (kind ReferenceKind) IsMutable() bool {
	return kind == LocalBranch
}

func kindForToken(token string) (ReferenceKind, bool) {
	for kind, t := range kindTokens {
		if t == token && kind != Repository {
			return kind, true
		}
	}
	return Repository, false
}

// Locator addresses a repository, a reference within it and optionally an
// entity (table) and row. Locators are values; the With* helpers return
// modified copies.
//
// For RemoteBranch locators Reference is "remote/branch".
type Locator struct {
	Repository string
	Kind       ReferenceKind
	Reference  string
	Entity     string
	EntityID   string
}

func RepositoryLocator(repository string) Locator {
	return Locator{Repository: repository, Kind: Repository}
}

func BranchLocator(repository, branch string) Locator {
	return Locator{Repository: repository, Kind: LocalBranch, Reference: branch}
}

func CommitLocator(repository, commit string) Locator {
	return Locator{Repository: repository, Kind: Commit, Reference: commit}
}

func RemoteLocator(repository, remote string) Locator {
	return Locator{Repository: repository, Kind: Remote, Reference: remote}
}

func RemoteBranchLocator(repository, remote, branch string) Locator {
	return Locator{Repository: repository, Kind: RemoteBranch, Reference: remote + "/" + branch}
}

// WithEntity returns a copy addressing the given entity and, when id is not
// empty, the given row of it.
func (l Locator) WithEntity(entity, id string) Locator {
	l.Entity = entity
	l.EntityID = id
	return l
}

// StripToReference returns a copy with the entity fields cleared. The result
// addresses just the checkout.
func (l Locator) StripToReference() Locator {
	l.Entity = ""
	l.EntityID = ""
	return l
}

// RemoteName returns the remote part of a RemoteBranch reference.
func (l Locator) RemoteName() string {
	remote, _, _ := strings.Cut(l.Reference, "/")
	return remote
}

// BranchName returns the branch part of a RemoteBranch reference, or the
// reference itself for other kinds.
func (l Locator) BranchName() string {
	if l.Kind != RemoteBranch {
		return l.Reference
	}
	_, branch, _ := strings.Cut(l.Reference, "/")
	return branch
}

// Validate checks the structural invariants of the locator.
func (l Locator) Validate() error {
	if l.Repository == "" {
		return fmt.Errorf("%w: missing repository", ErrMalformedLocator)
	}
	if _, ok := kindTokens[l.Kind]; !ok {
		return fmt.Errorf("%w: unknown reference kind %d", ErrMalformedLocator, int(l.Kind))
	}
	if l.Kind == Repository {
		if l.Reference != "" || l.Entity != "" || l.EntityID != "" {
			return fmt.Errorf("%w: repository locator cannot carry a reference or entity", ErrMalformedLocator)
		}
		return nil
	}
	if l.Reference == "" {
		return fmt.Errorf("%w: %s requires a reference name", ErrMalformedLocator, l.Kind)
	}
	if l.Kind == RemoteBranch {
		remote, branch, ok := strings.Cut(l.Reference, "/")
		if !ok || remote == "" || branch == "" {
			return fmt.Errorf("%w: remote branch %q is not remote/branch", ErrMalformedLocator, l.Reference)
		}
	}
	if l.EntityID != "" && l.Entity == "" {
		return fmt.Errorf("%w: entity id without entity", ErrMalformedLocator)
	}
	return nil
}

// String builds the canonical form:
//
//	/{repository}[/{kind}/{reference}[/{remoteBranch}]][/{entity}[/{id}]]
func (l Locator) String() string {
	var b strings.Builder
	b.WriteString("/")
	b.WriteString(url.PathEscape(l.Repository))
	if l.Kind == Repository {
		return b.String()
	}

	b.WriteString("/")
	b.WriteString(l.Kind.Token())
	b.WriteString("/")
	if l.Kind == RemoteBranch {
		b.WriteString(url.PathEscape(l.RemoteName()))
		b.WriteString("/")
		b.WriteString(url.PathEscape(l.BranchName()))
	} else {
		b.WriteString(url.PathEscape(l.Reference))
	}

	if l.Entity != "" {
		b.WriteString("/")
		b.WriteString(url.PathEscape(l.Entity))
		if l.EntityID != "" {
			b.WriteString("/")
			b.WriteString(url.PathEscape(l.EntityID))
		}
	}
	return b.String()
}

// ParseLocator parses the string form produced by Locator.String. The
// leading slash is optional.
func ParseLocator(s string) (Locator, error) {
	trimmed := strings.TrimPrefix(s, "/")
	if trimmed == "" {
		return Locator{}, fmt.Errorf("%w: %q: missing repository", ErrMalformedLocator, s)
	}

	raw := strings.Split(trimmed, "/")
	segments := make([]string, len(raw))
	for i, segment := range raw {
		if segment == "" {
			return Locator{}, fmt.Errorf("%w: %q: empty segment", ErrMalformedLocator, s)
		}
		unescaped, err := url.PathUnescape(segment)
		if err != nil {
			return Locator{}, fmt.Errorf("%w: %q: %v", ErrMalformedLocator, s, err)
		}
		segments[i] = unescaped
	}

	loc := Locator{Repository: segments[0]}
	if len(segments) == 1 {
		return loc, nil
	}

	kind, ok := kindForToken(raw[1])
	if !ok {
		return Locator{}, fmt.Errorf("%w: %q: unknown reference kind %q", ErrMalformedLocator, s, raw[1])
	}
	loc.Kind = kind

	rest := segments[2:]
	need := 1
	if kind == RemoteBranch {
		need = 2
	}
	if len(rest) < need {
		return Locator{}, fmt.Errorf("%w: %q: %s requires a reference name", ErrMalformedLocator, s, kind)
	}
	if kind == RemoteBranch {
		if strings.Contains(rest[0], "/") {
			return Locator{}, fmt.Errorf("%w: %q: remote name contains '/'", ErrMalformedLocator, s)
		}
		loc.Reference = rest[0] + "/" + rest[1]
	} else {
		loc.Reference = rest[0]
	}
	rest = rest[need:]

	switch len(rest) {
	case 0:
	case 1:
		loc.Entity = rest[0]
	case 2:
		loc.Entity, loc.EntityID = rest[0], rest[1]
	default:
		return Locator{}, fmt.Errorf("%w: %q: too many segments", ErrMalformedLocator, s)
	}

	return loc, nil
}
