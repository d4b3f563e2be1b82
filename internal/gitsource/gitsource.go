package gitsource

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"go.uber.org/zap"
)

// IsRemote reports whether source names a git repository rather than a local
// path.
func IsRemote(source string) bool {
	for _, prefix := range []string{"https://", "http://", "ssh://", "git://", "git@", "file://"} {
		if strings.HasPrefix(source, prefix) {
			return true
		}
	}
	return false
}

// CacheDir returns the directory url is checked out into under root.
func CacheDir(root, url string) string {
	sum := sha256.Sum256([]byte(url))
	name := strings.TrimSuffix(filepath.Base(strings.TrimRight(url, "/")), ".git")
	return filepath.Join(root, name+"-"+hex.EncodeToString(sum[:])[:12])
}

// Sync clones a git repository if it doesn't exist at the given path,
// or pulls the latest changes if it does.
func Sync(ctx context.Context, logger *zap.Logger, url, localPath string) error {
	log := logger.With(zap.String("url", url), zap.String("path", localPath))

	_, err := os.Stat(localPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		log.Info("cloning deck repository")
		_, err := git.PlainCloneContext(ctx, localPath, false, &git.CloneOptions{
			URL: url,
		})
		if err != nil {
			return fmt.Errorf("failed to clone repo %s: %w", url, err)
		}
		log.Info("clone successful")

	case err == nil:
		log.Info("pulling deck repository")
		repo, err := git.PlainOpen(localPath)
		if err != nil {
			return fmt.Errorf("failed to open existing repo at %s: %w", localPath, err)
		}

		worktree, err := repo.Worktree()
		if err != nil {
			return fmt.Errorf("failed to get worktree for repo at %s: %w", localPath, err)
		}

		err = worktree.PullContext(ctx, &git.PullOptions{RemoteName: "origin"})
		if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
			return fmt.Errorf("failed to pull changes for repo at %s: %w", localPath, err)
		}
		log.Info("pull successful (or already up-to-date)")

	default:
		return fmt.Errorf("error checking path %s: %w", localPath, err)
	}

	return nil
}
