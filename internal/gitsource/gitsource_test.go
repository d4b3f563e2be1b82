package gitsource

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// newDeckRepo creates a local repository with one committed deck file.
func newDeckRepo(t *testing.T, content string) (string, *git.Repository) {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	commitFile(t, repo, dir, "deck.md", content)
	return dir, repo
}

func commitFile(t *testing.T, repo *git.Repository, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add(name)
	require.NoError(t, err)
	_, err = wt.Commit("update "+name, &git.CommitOptions{
		Author: &object.Signature{Name: "test", Email: "test@example.com", When: time.Now()},
	})
	require.NoError(t, err)
}

// requireGit skips tests that serve a local repository: go-git's file
// transport runs git's upload-pack.
func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}
}

func TestSyncClonesThenPulls(t *testing.T) {
	requireGit(t)
	origin, repo := newDeckRepo(t, "Q: one\nA: 1\n")
	url := "file://" + origin
	dest := CacheDir(t.TempDir(), url)
	ctx := context.Background()

	require.NoError(t, Sync(ctx, zap.NewNop(), url, dest))
	data, err := os.ReadFile(filepath.Join(dest, "deck.md"))
	require.NoError(t, err)
	assert.Equal(t, "Q: one\nA: 1\n", string(data))

	// Nothing new upstream.
	require.NoError(t, Sync(ctx, zap.NewNop(), url, dest))

	commitFile(t, repo, origin, "more.md", "Q: two\nA: 2\n")
	require.NoError(t, Sync(ctx, zap.NewNop(), url, dest))
	assert.FileExists(t, filepath.Join(dest, "more.md"))
}

func TestSyncFailsForMissingRemote(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "deck")
	err := Sync(context.Background(), zap.NewNop(), "file://"+filepath.Join(t.TempDir(), "nope"), dest)
	assert.Error(t, err)
}

func TestIsRemote(t *testing.T) {
	for source, want := range map[string]bool{
		"https://github.com/acme/decks.git": true,
		"git@github.com:acme/decks.git":     true,
		"file:///srv/decks":                 true,
		"./decks":                           false,
		"/home/me/decks":                    false,
	} {
		assert.Equal(t, want, IsRemote(source), source)
	}
}

func TestCacheDir(t *testing.T) {
	a := CacheDir("/cache", "https://github.com/acme/decks.git")
	b := CacheDir("/cache", "https://github.com/other/decks.git")
	assert.NotEqual(t, a, b)
	assert.Equal(t, "/cache", filepath.Dir(a))
	assert.Contains(t, filepath.Base(a), "decks-")
}
