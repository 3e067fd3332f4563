// Package pathpolicy is the sole admission point for user-supplied paths:
// every other component consumes already-resolved absolute paths. It
// canonicalizes a path against a workspace root and rejects anything that
// would resolve outside that root, using
// github.com/cyphar/filepath-securejoin for the existing-prefix portion of
// the walk and a manual final-segment join for not-yet-existing files.
package pathpolicy

import (
	"os"
	"path/filepath"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"

	"github.com/jidohq/sessiond/internal/errs"
)

// Resolve expands path to an absolute, symlink-resolved location rooted at
// workspaceRoot and verifies it does not escape the workspace boundary. A
// non-existent final path segment is accepted (used when creating a new
// file); any non-existent intermediate segment is also accepted, matching
// securejoin's "resolve as far as exists" behavior.
func Resolve(path, workspaceRoot string) (string, *errs.Error) {
	root, err := filepath.Abs(workspaceRoot)
	if err != nil {
		return "", errs.Wrap(errs.FilesystemError, "failed to resolve workspace root", err)
	}

	var absPath string
	if filepath.IsAbs(path) {
		absPath = filepath.Clean(path)
	} else {
		absPath = filepath.Join(root, path)
	}

	rel, relErr := filepath.Rel(root, absPath)
	if relErr != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", boundaryError(path, workspaceRoot)
	}

	dir, base := filepath.Split(absPath)
	dir = filepath.Clean(dir)

	resolvedDir, perr := resolveExistingPrefix(dir, root)
	if perr != nil {
		return "", perr
	}

	resolved := filepath.Join(resolvedDir, base)
	if !withinRoot(resolved, root) {
		return "", boundaryError(path, workspaceRoot)
	}
	return resolved, nil
}

// resolveExistingPrefix walks dir from root downward via SecureJoin so
// that any symlink encountered along the way (including one whose target
// is absolute, which SecureJoin re-roots at root) is resolved before the
// final, possibly-nonexistent segment is appended by the caller.
func resolveExistingPrefix(dir, root string) (string, *errs.Error) {
	rel, err := filepath.Rel(root, dir)
	if err != nil {
		return "", boundaryError(dir, root)
	}
	if rel == "." {
		return root, nil
	}

	segments := strings.Split(filepath.ToSlash(rel), "/")
	current := root
	for i, seg := range segments {
		if seg == "" || seg == "." {
			continue
		}
		candidate := filepath.Join(current, seg)
		if _, statErr := os.Lstat(candidate); os.IsNotExist(statErr) {
			// Remaining segments (including this one) do not exist yet;
			// accept them unresolved so new files can be created.
			return filepath.Join(append([]string{current}, segments[i:]...)...), nil
		}

		resolved, joinErr := securejoin.SecureJoin(root, strings.Join(segments[:i+1], "/"))
		if joinErr != nil {
			return "", errs.Wrap(errs.FilesystemError, "failed to resolve path segment", joinErr)
		}
		current = resolved
	}
	return current, nil
}

func withinRoot(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || !strings.HasPrefix(rel, "..")
}

func boundaryError(path, root string) *errs.Error {
	return errs.New(errs.FilesystemError, "path escapes workspace boundary").
		WithDetails(map[string]any{
			"policy": "workspace_boundary",
			"path":   path,
			"root":   root,
		})
}
