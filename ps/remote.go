package ps

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/go-git/go-git/v6"
	"github.com/go-git/go-git/v6/config"
	"github.com/go-git/go-git/v6/plumbing"
	"github.com/go-git/go-git/v6/plumbing/transport"
	"github.com/go-git/go-git/v6/plumbing/transport/http"
	"github.com/go-git/go-git/v6/plumbing/transport/ssh"
	"github.com/nickyhof/BranchDB/core"
	"go.uber.org/zap"
)

// AuthType defines the type of authentication
type AuthType string

const (
	AuthTypeNone  AuthType = "none"
	AuthTypeToken AuthType = "token"
	AuthTypeSSH   AuthType = "ssh"
	AuthTypeBasic AuthType = "basic"
)

// RemoteAuth holds authentication configuration for remote operations
type RemoteAuth struct {
	Type       AuthType `mapstructure:"type"`
	Token      string   `mapstructure:"token"`    // For token auth
	KeyPath    string   `mapstructure:"key_path"` // For SSH key auth
	Passphrase string   `mapstructure:"passphrase"`
	Username   string   `mapstructure:"username"` // For basic auth
	Password   string   `mapstructure:"password"`
}

// Remote represents a Git remote
type Remote struct {
	Name string
	URLs []string
}

// getAuthMethod converts RemoteAuth to go-git's AuthMethod
func (auth *RemoteAuth) getAuthMethod() (transport.AuthMethod, error) {
	if auth == nil {
		return nil, nil
	}

	switch auth.Type {
	case AuthTypeNone, "":
		return nil, nil

	case AuthTypeToken:
		// Token auth uses username "git" or any non-empty string
		return &http.BasicAuth{
			Username: "git",
			Password: auth.Token,
		}, nil

	case AuthTypeSSH:
		keyPath := auth.KeyPath
		if keyPath == "" {
			// Default to ~/.ssh/id_rsa
			home, _ := os.UserHomeDir()
			keyPath = home + "/.ssh/id_rsa"
		}

		if auth.Passphrase != "" {
			return ssh.NewPublicKeysFromFile("git", keyPath, auth.Passphrase)
		}
		return ssh.NewPublicKeysFromFile("git", keyPath, "")

	case AuthTypeBasic:
		return &http.BasicAuth{
			Username: auth.Username,
			Password: auth.Password,
		}, nil

	default:
		return nil, fmt.Errorf("unknown auth type: %s", auth.Type)
	}
}

// Transport moves objects and refs between the object store and a remote.
type Transport interface {
	Fetch(ctx context.Context, repo *git.Repository, remote string, specs []config.RefSpec, progress io.Writer) error
	Push(ctx context.Context, repo *git.Repository, remote string, specs []config.RefSpec, progress io.Writer) error
}

// GitTransport uses go-git's own transports (file, http, ssh).
type GitTransport struct {
	Auth *RemoteAuth
}

func (t GitTransport) Fetch(ctx context.Context, repo *git.Repository, remote string, specs []config.RefSpec, progress io.Writer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	authMethod, err := t.Auth.getAuthMethod()
	if err != nil {
		return fmt.Errorf("failed to configure auth: %w", err)
	}

	err = repo.Fetch(&git.FetchOptions{
		RemoteName: remote,
		RefSpecs:   specs,
		Auth:       authMethod,
		Progress:   progress,
	})
	if errors.Is(err, git.NoErrAlreadyUpToDate) {
		return nil
	}
	return err
}

func (t GitTransport) Push(ctx context.Context, repo *git.Repository, remote string, specs []config.RefSpec, progress io.Writer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	authMethod, err := t.Auth.getAuthMethod()
	if err != nil {
		return fmt.Errorf("failed to configure auth: %w", err)
	}

	err = repo.Push(&git.PushOptions{
		RemoteName: remote,
		RefSpecs:   specs,
		Auth:       authMethod,
		Progress:   progress,
	})
	if errors.Is(err, git.NoErrAlreadyUpToDate) {
		return nil
	}
	return err
}

// AddRemote adds a named remote to the repository
func (s *Store) AddRemote(name, url string) error {
	if err := validName("remote", name); err != nil {
		return err
	}
	if url == "" {
		return fmt.Errorf("%w: remote %q needs a url", core.ErrInvalidArgument, name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.repo.CreateRemote(&config.RemoteConfig{
		Name:  name,
		URLs:  []string{url},
		Fetch: []config.RefSpec{fetchSpec(name)},
	})
	if errors.Is(err, git.ErrRemoteExists) {
		return fmt.Errorf("remote %q: %w", name, core.ErrReferenceExists)
	}
	if err != nil {
		return core.Storage("add remote "+name, err)
	}
	s.logger.Info("added remote", zap.String("remote", name), zap.String("url", url))
	return nil
}

// ListRemotes returns all configured remotes in name order
func (s *Store) ListRemotes() ([]Remote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	remotes, err := s.repo.Remotes()
	if err != nil {
		return nil, core.Storage("list remotes", err)
	}

	result := make([]Remote, len(remotes))
	for i, r := range remotes {
		cfg := r.Config()
		result[i] = Remote{
			Name: cfg.Name,
			URLs: cfg.URLs,
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

// RemoveRemote removes a remote and every remote-tracking ref fetched from
// it.
func (s *Store) RemoveRemote(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.repo.DeleteRemote(name)
	if errors.Is(err, git.ErrRemoteNotFound) {
		return fmt.Errorf("remote %q: %w", name, core.ErrReferenceNotFound)
	}
	if err != nil {
		return core.Storage("remove remote "+name, err)
	}

	refs, err := s.repo.Storer.IterReferences()
	if err != nil {
		return core.Storage("list refs", err)
	}
	prefix := plumbing.NewRemoteReferenceName(name, "").String()
	var stale []plumbing.ReferenceName
	err = refs.ForEach(func(ref *plumbing.Reference) error {
		if strings.HasPrefix(ref.Name().String(), prefix) {
			stale = append(stale, ref.Name())
		}
		return nil
	})
	if err != nil {
		return core.Storage("list refs", err)
	}
	for _, ref := range stale {
		if err := s.repo.Storer.RemoveReference(ref); err != nil {
			return core.Storage("remove "+ref.String(), err)
		}
	}

	s.logger.Info("removed remote", zap.String("remote", name), zap.Int("refs", len(stale)))
	return nil
}

// PullFromRemote fetches every branch of remote into the remote-tracking
// refs refs/remotes/<remote>/*. Local branches are not touched; they are
// merged with StartMerge.
func (s *Store) PullFromRemote(ctx context.Context, remote string, progress io.Writer) error {
	if err := s.checkRemote(remote); err != nil {
		return err
	}
	if err := s.transport.Fetch(ctx, s.repo, remote, []config.RefSpec{fetchSpec(remote)}, progress); err != nil {
		return core.Storage("fetch from "+remote, err)
	}
	s.logger.Info("pulled from remote", zap.String("remote", remote))
	return nil
}

// PushToRemote pushes every local branch to the branch of the same name on
// remote.
func (s *Store) PushToRemote(ctx context.Context, remote string, progress io.Writer) error {
	if err := s.checkRemote(remote); err != nil {
		return err
	}

	s.mu.Lock()
	refs, err := s.repo.Branches()
	if err != nil {
		s.mu.Unlock()
		return core.Storage("list branches", err)
	}
	var specs []config.RefSpec
	err = refs.ForEach(func(ref *plumbing.Reference) error {
		specs = append(specs, pushSpec(ref.Name().Short(), ref.Name().Short()))
		return nil
	})
	s.mu.Unlock()
	if err != nil {
		return core.Storage("list branches", err)
	}
	if len(specs) == 0 {
		return nil
	}

	if err := s.transport.Push(ctx, s.repo, remote, specs, progress); err != nil {
		return core.Storage("push to "+remote, err)
	}
	s.logger.Info("pushed to remote", zap.String("remote", remote), zap.Int("branches", len(specs)))
	return nil
}

// PushToRemoteExplicit pushes local branch local to branch remoteBranch of
// remote.
func (s *Store) PushToRemoteExplicit(ctx context.Context, remote, local, remoteBranch string) error {
	if err := s.checkRemote(remote); err != nil {
		return err
	}
	if err := validBranchName(remoteBranch); err != nil {
		return err
	}

	s.mu.Lock()
	hasRef, err := s.hasBranchRefLocked(local)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if !hasRef {
		return fmt.Errorf("branch %q has no commits: %w", local, core.ErrReferenceNotFound)
	}

	if err := s.transport.Push(ctx, s.repo, remote, []config.RefSpec{pushSpec(local, remoteBranch)}, nil); err != nil {
		return core.Storage("push to "+remote, err)
	}
	s.logger.Info("pushed branch", zap.String("remote", remote), zap.String("branch", local), zap.String("as", remoteBranch))
	return nil
}

func (s *Store) checkRemote(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.repo.Remote(name)
	if errors.Is(err, git.ErrRemoteNotFound) {
		return fmt.Errorf("remote %q: %w", name, core.ErrReferenceNotFound)
	}
	if err != nil {
		return core.Storage("read remote "+name, err)
	}
	return nil
}

func fetchSpec(remote string) config.RefSpec {
	return config.RefSpec(fmt.Sprintf("+refs/heads/*:refs/remotes/%s/*", remote))
}

func pushSpec(local, remote string) config.RefSpec {
	return config.RefSpec(fmt.Sprintf("refs/heads/%s:refs/heads/%s", local, remote))
}
