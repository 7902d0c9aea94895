package provider

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/tira-io/tirex-tracker/internal/model"
)

var errNotARepo = model.NewError("not inside a git work tree")

type gitProvider struct {
	dir     string
	version string
}

// NewGitProvider returns the provider for the state of the git work tree
// containing dir. An empty dir means the working directory.
func NewGitProvider(dir string) Provider { return &gitProvider{dir: dir} }

func (p *gitProvider) ID() model.ProviderID { return model.ProviderGit }
func (p *gitProvider) Name() string         { return "Git" }
func (p *gitProvider) Description() string {
	return "Collects the state of the git repository the program runs in."
}
func (p *gitProvider) Version() string {
	if p.version == "" {
		return "git"
	}
	return p.version
}
func (p *gitProvider) Measures() []model.MeasureInfo { return measuresOf(model.ProviderGit) }

func (p *gitProvider) Probe(ctx context.Context) error {
	if _, err := exec.LookPath("git"); err != nil {
		return fmt.Errorf("%w: git executable not found", ErrProviderUnavailable)
	}
	if v, err := p.git(ctx, "--version"); err == nil {
		p.version = v
	}
	return nil
}

func (p *gitProvider) BeginSample(ctx context.Context, ms []model.Measure) (Sample, error) {
	return nil, fmt.Errorf("%w: git has no interval measures", ErrUnsupportedMeasure)
}

func (p *gitProvider) FetchOne(ctx context.Context, m model.Measure) (string, error) {
	isRepo, err := p.insideWorkTree(ctx)
	if err != nil {
		return "", err
	}
	if m == model.GitIsRepo {
		return formatBool(isRepo), nil
	}
	if !isRepo {
		return "", errNotARepo
	}

	switch m {
	case model.GitRoot:
		return p.git(ctx, "rev-parse", "--show-toplevel")
	case model.GitLastCommitHash:
		return p.git(ctx, "rev-parse", "HEAD")
	case model.GitBranch:
		return p.git(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	case model.GitBranchUpstream:
		up, err := p.upstream(ctx)
		if err != nil {
			return "", err
		}
		return up, nil
	case model.GitTags:
		out, err := p.git(ctx, "tag", "--points-at", "HEAD")
		if err != nil {
			return "", err
		}
		return "[" + strings.Join(nonEmptyLines(out), ", ") + "]", nil
	case model.GitRemoteOrigin:
		url, err := p.git(ctx, "remote", "get-url", "origin")
		if err != nil || url == "" {
			return "", fmt.Errorf("%w: no remote named origin", ErrNotAvailable)
		}
		return url, nil
	case model.GitUncommittedChanges:
		out, err := p.git(ctx, "status", "--porcelain", "--untracked-files=no")
		if err != nil {
			return "", err
		}
		return formatBool(out != ""), nil
	case model.GitUncheckedFiles:
		out, err := p.git(ctx, "ls-files", "--others", "--exclude-standard")
		if err != nil {
			return "", err
		}
		return formatBool(out != ""), nil
	case model.GitUnpushedChanges:
		if _, err := p.upstream(ctx); errors.Is(err, ErrNotAvailable) {
			return formatBool(true), nil
		} else if err != nil {
			return "", err
		}
		out, err := p.git(ctx, "rev-list", "--count", "@{u}..HEAD")
		if err != nil {
			return "", err
		}
		n, err := strconv.Atoi(out)
		if err != nil {
			return "", fmt.Errorf("%w: rev-list count %q", model.ErrMalformedValue, out)
		}
		return formatBool(n > 0), nil
	case model.GitHash:
		return p.hashTrackedFiles(ctx)
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedMeasure, m)
}

// insideWorkTree reports whether dir is in a git work tree. Only git's own
// "not a git repository" answer counts as false; any other failure is returned.
func (p *gitProvider) insideWorkTree(ctx context.Context) (bool, error) {
	inside, err := p.git(ctx, "rev-parse", "--is-inside-work-tree")
	if err == nil {
		return inside == "true", nil
	}
	if ctx.Err() != nil {
		return false, fmt.Errorf("git rev-parse: %w", ctx.Err())
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 128 && strings.Contains(err.Error(), "not a git repository") {
		return false, nil
	}
	return false, err
}

func (p *gitProvider) upstream(ctx context.Context) (string, error) {
	up, err := p.git(ctx, "rev-parse", "--abbrev-ref", "--symbolic-full-name", "@{u}")
	if ctx.Err() != nil {
		return "", fmt.Errorf("git rev-parse: %w", ctx.Err())
	}
	if err != nil || up == "" {
		return "", fmt.Errorf("%w: branch has no upstream", ErrNotAvailable)
	}
	return up, nil
}

// hashTrackedFiles digests the path and working-tree content of every
// tracked file, so uncommitted edits change the hash.
func (p *gitProvider) hashTrackedFiles(ctx context.Context) (string, error) {
	root, err := p.git(ctx, "rev-parse", "--show-toplevel")
	if err != nil {
		return "", err
	}
	list, err := p.gitRaw(ctx, "-C", root, "ls-files", "-z")
	if err != nil {
		return "", err
	}
	h := blake3.New()
	for _, name := range bytes.Split(list, []byte{0}) {
		if len(name) == 0 {
			continue
		}
		h.Write(name)
		h.Write([]byte{0})
		path := filepath.Join(root, string(name))
		if info, err := os.Lstat(path); err != nil || !info.Mode().IsRegular() {
			continue // deleted, submodule or symlink
		}
		f, err := os.Open(path)
		if err != nil {
			continue
		}
		_, err = io.Copy(h, f)
		f.Close()
		if err != nil {
			return "", fmt.Errorf("hash %s: %w", name, err)
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (p *gitProvider) git(ctx context.Context, args ...string) (string, error) {
	out, err := p.gitRaw(ctx, args...)
	return strings.TrimSpace(string(out)), err
}

func (p *gitProvider) gitRaw(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = p.dir
	cmd.Env = append(os.Environ(), "LC_ALL=C")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}

func nonEmptyLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}
