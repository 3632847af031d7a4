// Package rshpath implements the path utilities used by the VFS dispatcher
// (spec.md §4.2 "Path parsing" and §4.3 native_path classification). The
// FAT16 engine does not import it: package vfs turns paths into cleaned
// component lists here and passes those to package fat.
package rshpath

import "strings"

// Split breaks an absolute path into its components, skipping the leading
// slash and any trailing empty component, as spec.md §4.2 requires.
func Split(abs string) []string {
	trimmed := strings.Trim(abs, "/")
	if trimmed == "" {
		return nil
	}
	parts := strings.Split(trimmed, "/")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Join resolves rel against cwd: an absolute rel is returned as-is; a
// relative one is joined onto cwd before splitting, per spec.md §4.2 "A
// relative path is joined to the built-in CWD before parsing."
func Join(cwd, rel string) string {
	if strings.HasPrefix(rel, "/") {
		return rel
	}
	if cwd == "/" {
		return "/" + rel
	}
	return cwd + "/" + rel
}

// Clean performs in-place dot/dot-dot interpolation on a copy of components:
// "." is skipped, ".." drops the previous component (root is preserved),
// matching spec.md §4.2 exactly.
func Clean(components []string) []string {
	out := make([]string, 0, len(components))
	for _, c := range components {
		switch c {
		case ".":
			continue
		case "..":
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
		default:
			out = append(out, c)
		}
	}
	return out
}

// Resolve is the composition of Join/Split/Clean used throughout the VFS and
// FAT engine: turn a (possibly relative) path into a cleaned component list.
func Resolve(cwd, path string) []string {
	return Clean(Split(Join(cwd, path)))
}

// Abs renders cleaned components back into a "/"-rooted absolute path
// string, trimming the trailing slash unless the result is the root
// (spec.md §4.3 getcwd).
func Abs(components []string) string {
	if len(components) == 0 {
		return "/"
	}
	return "/" + strings.Join(components, "/")
}

// SplitParent divides a cleaned absolute path into its parent directory's
// components and its final (leaf) component. An empty leaf means path names
// the root itself.
func SplitParent(components []string) (parent []string, leaf string) {
	if len(components) == 0 {
		return nil, ""
	}
	return components[:len(components)-1], components[len(components)-1]
}

// IsBuiltinRoot reports whether an absolute path is rooted at the built-in
// file system's mount name, e.g. native_path("/image.img/x") is false when
// rootName is "image.img" (spec.md §4.3, tested in scenario 6).
func IsBuiltinRoot(abs, rootName string) bool {
	if rootName == "" {
		return false
	}
	prefix := "/" + rootName
	return abs == prefix || strings.HasPrefix(abs, prefix+"/")
}
