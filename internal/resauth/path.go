// Abyss - Self-Hosted Media Proxy and Access Control Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/abyss

package resauth

import (
	"path/filepath"
	"strings"

	"github.com/tomtom215/abyss/internal/apierr"
)

// RelativePath resolves abs against root (both normalized and symlink
// resolved), rejecting any path that escapes root — via ".." components
// or via a resolved symlink — before the caller ever hashes it into a
// uid.
func RelativePath(root, abs string) (string, error) {
	if strings.Contains(abs, "..") {
		return "", apierr.New(apierr.KindMalformed, "resauth.RelativePath", apierr.ErrPathTraversal)
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", apierr.New(apierr.KindMalformed, "resauth.RelativePath", apierr.ErrPathTraversal)
	}
	absTarget, err := filepath.Abs(abs)
	if err != nil {
		return "", apierr.New(apierr.KindMalformed, "resauth.RelativePath", apierr.ErrPathTraversal)
	}

	resolvedRoot, err := resolveSymlinks(absRoot)
	if err != nil {
		return "", apierr.New(apierr.KindMalformed, "resauth.RelativePath", apierr.ErrPathTraversal)
	}
	resolvedTarget, err := resolveSymlinks(absTarget)
	if err != nil {
		return "", apierr.New(apierr.KindMalformed, "resauth.RelativePath", apierr.ErrPathTraversal)
	}

	rel, err := filepath.Rel(normalizeForCompare(resolvedRoot), normalizeForCompare(resolvedTarget))
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", apierr.New(apierr.KindMalformed, "resauth.RelativePath", apierr.ErrPathTraversal)
	}
	// The containment check above ignores case; the returned path keeps the
	// target's own case whenever the root prefix matches it exactly.
	if exact, exactErr := filepath.Rel(resolvedRoot, resolvedTarget); exactErr == nil && !strings.HasPrefix(exact, "..") {
		rel = exact
	}
	return filepath.ToSlash(rel), nil
}

// resolveSymlinks resolves symlinks in path if the path exists, and
// otherwise resolves as much of its existing prefix as possible — a
// not-yet-created file must still normalize cleanly during Include.
func resolveSymlinks(path string) (string, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err == nil {
		return resolved, nil
	}
	dir, base := filepath.Split(path)
	dir = strings.TrimSuffix(dir, string(filepath.Separator))
	if dir == "" || dir == path {
		return path, nil
	}
	resolvedDir, err := resolveSymlinks(dir)
	if err != nil {
		return "", err
	}
	return filepath.Join(resolvedDir, base), nil
}

// normalizeForCompare lower-cases the path for a case-insensitive prefix
// compare. This intentionally collapses case distinctions that matter on
// POSIX filesystems too, in exchange for one comparison routine that
// works on both.
func normalizeForCompare(path string) string {
	return strings.ToLower(path)
}

// PathComponents splits a relative path into its ordered components,
// used by the path-walk rule to require Read on every strict prefix.
func PathComponents(rel string) []string {
	rel = filepath.ToSlash(rel)
	rel = strings.Trim(rel, "/")
	if rel == "" || rel == "." {
		return nil
	}
	return strings.Split(rel, "/")
}

// Prefixes returns every strict prefix of components, joined back into
// relative-path form, shallowest first.
func Prefixes(components []string) []string {
	if len(components) <= 1 {
		return nil
	}
	out := make([]string, 0, len(components)-1)
	for i := 1; i < len(components); i++ {
		out = append(out, strings.Join(components[:i], "/"))
	}
	return out
}
