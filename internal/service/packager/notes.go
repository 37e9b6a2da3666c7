package packager

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// TagEnvVar holds the pushed ref name in CI.
const TagEnvVar = "GITHUB_REF_NAME"

var errNoTag = errors.New("no release tag given and " + TagEnvVar + " is not set")

// ResolveTag returns tag, or the CI ref name when tag is empty.
func ResolveTag(tag string) (string, error) {
	if tag == "" {
		tag = os.Getenv(TagEnvVar)
	}

	tag = strings.TrimPrefix(strings.TrimSpace(tag), "refs/tags/")
	if tag == "" {
		return "", errNoTag
	}

	return tag, nil
}

// TagNotes returns the message of an annotated tag, or "" for a lightweight one.
func TagNotes(repoPath, tag string) (string, error) {
	repo, err := git.PlainOpenWithOptions(repoPath, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return "", fmt.Errorf("open repository: %w", err)
	}

	ref, err := repo.Tag(tag)
	if err != nil {
		return "", fmt.Errorf("find tag %s: %w", tag, err)
	}

	obj, err := repo.TagObject(ref.Hash())
	if errors.Is(err, plumbing.ErrObjectNotFound) {
		return "", nil
	}

	if err != nil {
		return "", fmt.Errorf("read tag %s: %w", tag, err)
	}

	return strings.TrimSpace(obj.Message), nil
}
