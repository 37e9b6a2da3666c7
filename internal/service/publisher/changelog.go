package publisher

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/dtq1997/steamshelf-updater/internal/domain/release"
)

const (
	// maxChangelogLines bounds the summary written to the tag and the manifest.
	maxChangelogLines = 5
	// releaseSubjectPrefix marks commits made by the publisher itself.
	releaseSubjectPrefix = "release:"
)

// conventionalSubject matches "type(scope)!: description".
var conventionalSubject = regexp.MustCompile(`^([a-zA-Z]+)(\([^)]*\))?(!)?:\s*\S`)

var (
	minorTypes = map[string]struct{}{"feat": {}, "perf": {}, "refactor": {}}
	patchTypes = map[string]struct{}{"fix": {}, "docs": {}, "chore": {}, "test": {}}
)

// Classify suggests a bump from commit subjects. It reports ok=false when the
// history does not decide it: no commits, a breaking change, or a subject that
// is not one of the known conventional types.
func Classify(subjects []string) (release.BumpKind, string, bool) {
	if len(subjects) == 0 {
		return "", "no commits since the last release", false
	}

	minor := false

	for _, subject := range subjects {
		m := conventionalSubject.FindStringSubmatch(subject)
		if m == nil {
			return "", fmt.Sprintf("unclassified commit %q", subject), false
		}

		if m[3] == "!" {
			return "", fmt.Sprintf("breaking change %q", subject), false
		}

		kind := strings.ToLower(m[1])

		switch {
		case isKnown(minorTypes, kind):
			minor = true
		case isKnown(patchTypes, kind):
		default:
			return "", fmt.Sprintf("unclassified commit type %q", kind), false
		}
	}

	if minor {
		return release.BumpMinor, "new features or refactoring since the last release", true
	}

	return release.BumpPatch, "only fixes and maintenance since the last release", true
}

func isKnown(set map[string]struct{}, kind string) bool {
	_, ok := set[kind]
	return ok
}

// Summarize turns commit subjects, oldest first, into a changelog of at most
// five lines. When there are more, the last line counts the rest.
func Summarize(subjects []string) string {
	if len(subjects) == 0 {
		return "- maintenance release"
	}

	lines := make([]string, 0, maxChangelogLines)

	if len(subjects) <= maxChangelogLines {
		for _, s := range subjects {
			lines = append(lines, "- "+s)
		}

		return strings.Join(lines, "\n")
	}

	shown := maxChangelogLines - 1
	for _, s := range subjects[:shown] {
		lines = append(lines, "- "+s)
	}

	lines = append(lines, fmt.Sprintf("... and %d more changes", len(subjects)-shown))

	return strings.Join(lines, "\n")
}

// skipSubject reports commits that never appear in a changelog.
func skipSubject(subject string, parents int) bool {
	if parents > 1 {
		return true
	}

	lower := strings.ToLower(subject)

	return strings.HasPrefix(lower, releaseSubjectPrefix) || strings.HasPrefix(lower, "merge ")
}
