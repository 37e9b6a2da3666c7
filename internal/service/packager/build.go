package packager

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/dtq1997/steamshelf-updater/internal/domain/release"
	"github.com/dtq1997/steamshelf-updater/internal/logger"
)

// outputTail bounds how much command output ends up in an error.
const outputTail = 2048

var errEmptyCommand = errors.New("empty command")

// Step is one platform build handed to a Builder.
type Step struct {
	Platform release.Platform
	Version  release.Version
	// Command is the argv with placeholders already expanded.
	Command []string
	// Dir is the working directory.
	Dir string
}

// Builder produces a platform's output.
type Builder interface {
	Build(ctx context.Context, step Step) error
}

// BuilderFunc adapts a function to Builder.
type BuilderFunc func(ctx context.Context, step Step) error

// Build calls f.
func (f BuilderFunc) Build(ctx context.Context, step Step) error {
	return f(ctx, step)
}

// CommandBuilder runs the step's argv with STEAMSHELF_VERSION and STEAMSHELF_PLATFORM set.
type CommandBuilder struct{}

// Build runs the command and includes the tail of its output on failure.
func (CommandBuilder) Build(ctx context.Context, step Step) error {
	env := []string{
		"STEAMSHELF_VERSION=" + step.Version.String(),
		"STEAMSHELF_PLATFORM=" + string(step.Platform),
	}

	return runCommand(ctx, step.Command, step.Dir, env)
}

func runCommand(ctx context.Context, argv []string, dir string, env []string) error {
	if len(argv) == 0 {
		return errEmptyCommand
	}

	//nolint:gosec // The build matrix comes from the operator's configuration.
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), env...)

	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", argv[0], err, tail(out))
	}

	if len(out) > 0 {
		logger.DebugKV(ctx, "Command output", "command", argv[0], "output", tail(out))
	}

	return nil
}

// expand replaces "{key}" placeholders in every argument.
func expand(argv []string, values map[string]string) []string {
	pairs := make([]string, 0, len(values)*2)
	for k, v := range values {
		pairs = append(pairs, "{"+k+"}", v)
	}

	replacer := strings.NewReplacer(pairs...)

	out := make([]string, len(argv))
	for i, arg := range argv {
		out[i] = replacer.Replace(arg)
	}

	return out
}

func tail(out []byte) string {
	s := strings.TrimSpace(string(out))
	if len(s) > outputTail {
		s = "..." + s[len(s)-outputTail:]
	}

	return s
}
