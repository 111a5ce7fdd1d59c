package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/moby/patternmatcher"

	"github.com/grovetools/companion/errors"
)

const companionIgnoreFile = ".companionignore"

var defaultIgnorePatterns = []string{".git", "node_modules"}

// stepCopyWorkspace copies the host cwd's contents into the container
// workspace, skipping .git, node_modules, and anything named in a
// .companionignore file at the root of the copy.
func (p *Pipeline) stepCopyWorkspace(ctx context.Context, st *pipelineState, r ProgressReporter) error {
	if st.containerID == "" {
		return nil
	}

	r.Progress(StepCopyingWorkspace, "copying_workspace", StatusInProgress, "")

	hostCwd := st.req.HostCwd
	if st.worktreePath != "" {
		hostCwd = st.worktreePath
	}

	patterns := append([]string{}, defaultIgnorePatterns...)
	patterns = append(patterns, readCompanionIgnore(hostCwd)...)

	matcher, err := patternmatcher.New(patterns)
	if err != nil {
		return errors.FatalStep("copying_workspace", err)
	}

	files, err := collectFiles(hostCwd, matcher)
	if err != nil {
		return errors.FatalStep("copying_workspace", err)
	}

	if err := p.Container.CopyFilesToContainer(ctx, st.containerID, hostCwd, files); err != nil {
		return errors.FatalStep("copying_workspace", err)
	}

	if err := p.Container.SeedGitAuth(ctx, st.containerID); err != nil {
		log.WithError(err).Warn("copying_workspace: failed to reseed git auth; continuing")
	}

	r.Progress(StepCopyingWorkspace, "copying_workspace", StatusDone, "")
	return nil
}

func readCompanionIgnore(root string) []string {
	data, err := os.ReadFile(filepath.Join(root, companionIgnoreFile))
	if err != nil {
		return nil
	}
	var patterns []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, line)
	}
	return patterns
}

// collectFiles walks root, returning paths relative to root that
// matcher does not exclude.
func collectFiles(root string, matcher *patternmatcher.PatternMatcher) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		if rel == "." {
			return nil
		}

		excluded, matchErr := matcher.MatchesOrParentMatches(rel)
		if matchErr != nil {
			return matchErr
		}
		if excluded {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		files = append(files, rel)
		return nil
	})
	return files, err
}
