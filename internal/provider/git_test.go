package provider

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tira-io/tirex-tracker/internal/model"
)

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
}

func runGit(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", append([]string{"-c", "user.name=test", "-c", "user.email=test@example.com", "-c", "commit.gpgsign=false"}, args...)...)
	cmd.Dir = dir
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git %v: %v\n%s", args, err, out)
	}
}

func TestGitOutsideRepo(t *testing.T) {
	requireGit(t)
	p := NewGitProvider(t.TempDir())
	ctx := context.Background()

	v, err := p.FetchOne(ctx, model.GitIsRepo)
	if err != nil || v != "0" {
		t.Errorf("GIT_IS_REPO = %q, %v", v, err)
	}
	if _, err := p.FetchOne(ctx, model.GitBranch); !errors.Is(err, errNotARepo) {
		t.Errorf("GIT_BRANCH err = %v, want errNotARepo", err)
	}
}

func TestGitRepo(t *testing.T) {
	requireGit(t)
	dir := t.TempDir()
	runGit(t, dir, "init", "-q")
	runGit(t, dir, "checkout", "-q", "-b", "main")
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("one"), 0o644); err != nil {
		t.Fatal(err)
	}
	runGit(t, dir, "add", "a.txt")
	runGit(t, dir, "commit", "-q", "-m", "initial")
	runGit(t, dir, "tag", "v1")

	p := NewGitProvider(dir)
	ctx := context.Background()
	if err := p.Probe(ctx); err != nil {
		t.Fatalf("Probe: %v", err)
	}

	fetch := func(m model.Measure) string {
		t.Helper()
		v, err := p.FetchOne(ctx, m)
		if err != nil {
			t.Fatalf("%s: %v", m, err)
		}
		return v
	}

	if v := fetch(model.GitIsRepo); v != "1" {
		t.Errorf("GIT_IS_REPO = %q", v)
	}
	if v := fetch(model.GitBranch); v != "main" {
		t.Errorf("GIT_BRANCH = %q", v)
	}
	if v := fetch(model.GitTags); v != "[v1]" {
		t.Errorf("GIT_TAGS = %q", v)
	}
	if v := fetch(model.GitUncommittedChanges); v != "0" {
		t.Errorf("GIT_UNCOMMITTED_CHANGES = %q", v)
	}
	if v := fetch(model.GitUnpushedChanges); v != "1" {
		t.Errorf("GIT_UNPUSHED_CHANGES without upstream = %q", v)
	}
	if v := fetch(model.GitLastCommitHash); len(v) < 40 {
		t.Errorf("GIT_LAST_COMMIT_HASH = %q", v)
	}
	if _, err := p.FetchOne(ctx, model.GitRemoteOrigin); !errors.Is(err, ErrNotAvailable) {
		t.Errorf("GIT_REMOTE_ORIGIN err = %v", err)
	}

	root := fetch(model.GitRoot)
	wantRoot, _ := filepath.EvalSymlinks(dir)
	gotRoot, _ := filepath.EvalSymlinks(root)
	if gotRoot != wantRoot {
		t.Errorf("GIT_ROOT = %q, want %q", root, dir)
	}

	hash := fetch(model.GitHash)
	if len(hash) != 64 {
		t.Errorf("GIT_HASH = %q, want 64 hex chars", hash)
	}
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("two"), 0o644); err != nil {
		t.Fatal(err)
	}
	if fetch(model.GitHash) == hash {
		t.Error("GIT_HASH unchanged after editing a tracked file")
	}
	if v := fetch(model.GitUncommittedChanges); v != "1" {
		t.Errorf("GIT_UNCOMMITTED_CHANGES after edit = %q", v)
	}

	if err := os.WriteFile(filepath.Join(dir, "new.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if v := fetch(model.GitUncheckedFiles); v != "1" {
		t.Errorf("GIT_UNCHECKED_FILES = %q", v)
	}
}

func TestGitCancelledContextFails(t *testing.T) {
	requireGit(t)
	dir := t.TempDir()
	runGit(t, dir, "init", "-q")
	p := NewGitProvider(dir)

	if v, err := p.FetchOne(context.Background(), model.GitIsRepo); err != nil || v != "1" {
		t.Fatalf("GIT_IS_REPO = %q, %v", v, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for _, m := range []model.Measure{model.GitIsRepo, model.GitBranch, model.GitUnpushedChanges} {
		v, err := p.FetchOne(ctx, m)
		if err == nil {
			t.Errorf("%s with cancelled context = %q, want error", m, v)
		}
		if errors.Is(err, errNotARepo) {
			t.Errorf("%s with cancelled context reported not a repo", m)
		}
	}
}

func TestGitHashSkipsSubmodules(t *testing.T) {
	requireGit(t)
	dir := t.TempDir()
	runGit(t, dir, "init", "-q")
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("one"), 0o644); err != nil {
		t.Fatal(err)
	}
	runGit(t, dir, "add", "a.txt")
	runGit(t, dir, "commit", "-q", "-m", "initial")

	head, err := exec.Command("git", "-C", dir, "rev-parse", "HEAD").Output()
	if err != nil {
		t.Fatal(err)
	}
	// A gitlink entry checked out as an empty directory, as an uninitialised submodule is.
	runGit(t, dir, "update-index", "--add", "--cacheinfo", "160000,"+strings.TrimSpace(string(head))+",sub")
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}

	v, err := NewGitProvider(dir).FetchOne(context.Background(), model.GitHash)
	if err != nil || len(v) != 64 {
		t.Errorf("GIT_HASH = %q, %v", v, err)
	}
}
