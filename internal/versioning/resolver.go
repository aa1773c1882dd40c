package versioning

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/rsjsoftware/rsjbuild/internal/logfields"
	"github.com/rsjsoftware/rsjbuild/internal/observability"
)

// ErrNoTag is returned by Describe when no commit reachable from HEAD is tagged.
var ErrNoTag = errors.New("no tag reachable from HEAD")

// abbrevLen matches git's default abbreviated hash length.
const abbrevLen = 7

// Resolver reads version information from a git repository.
type Resolver struct {
	// RepoPath is any directory inside the work tree.
	RepoPath string
}

// Resolve returns the version of HEAD. It never fails: a missing repository, tag or HEAD
// yields the fallback version and zero commit, logged at warn level.
func (r Resolver) Resolve(ctx context.Context) Info {
	repo, err := git.PlainOpenWithOptions(r.RepoPath, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		observability.WarnContext(ctx, "No git repository, using fallback version",
			logfields.Path(r.RepoPath), logfields.Error(err))
		return Parse("", "")
	}

	commit := ""
	if head, headErr := repo.Head(); headErr == nil {
		commit = head.Hash().String()
	}

	describe, err := Describe(repo)
	if err != nil {
		observability.WarnContext(ctx, "Cannot describe HEAD, using fallback version", logfields.Error(err))
	}
	info := Parse(describe, commit)
	if describe != "" && info.Fallback {
		observability.WarnContext(ctx, "Tag is not a version, using fallback version", logfields.Version(describe))
	}
	observability.InfoContext(ctx, "Resolved version", logfields.Version(info.String()), logfields.Commit(info.Commit))
	return info
}

// Describe mirrors `git describe --tags`: the nearest tag reachable from HEAD, suffixed with
// "-<distance>-g<abbrev>" unless HEAD itself is tagged.
func Describe(repo *git.Repository) (string, error) {
	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("resolve HEAD: %w", err)
	}
	tags, err := tagsByCommit(repo)
	if err != nil {
		return "", err
	}
	if len(tags) == 0 {
		return "", ErrNoTag
	}

	type item struct {
		hash  plumbing.Hash
		depth int
	}
	seen := map[plumbing.Hash]bool{head.Hash(): true}
	queue := []item{{hash: head.Hash()}}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		if names, ok := tags[cur.hash]; ok {
			name := slices.Max(names)
			if cur.depth == 0 {
				return name, nil
			}
			return fmt.Sprintf("%s-%d-g%s", name, cur.depth, head.Hash().String()[:abbrevLen]), nil
		}

		c, err := repo.CommitObject(cur.hash)
		if err != nil {
			return "", fmt.Errorf("load commit %s: %w", cur.hash, err)
		}
		for _, p := range c.ParentHashes {
			if !seen[p] {
				seen[p] = true
				queue = append(queue, item{hash: p, depth: cur.depth + 1})
			}
		}
	}
	return "", ErrNoTag
}

// tagsByCommit maps commit hashes to the tag names pointing at them, peeling annotated tags.
func tagsByCommit(repo *git.Repository) (map[plumbing.Hash][]string, error) {
	iter, err := repo.Tags()
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	out := map[plumbing.Hash][]string{}
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		target := ref.Hash()
		tag, tagErr := repo.TagObject(target)
		switch {
		case tagErr == nil:
			c, cErr := tag.Commit()
			if cErr != nil {
				return nil
			}
			target = c.Hash
		case !errors.Is(tagErr, plumbing.ErrObjectNotFound):
			return tagErr
		}
		out[target] = append(out[target], ref.Name().Short())
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read tags: %w", err)
	}
	return out, nil
}
