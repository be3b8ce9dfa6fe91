// Package location normalizes the identifiers the directory cache is keyed by.
//
// A Location is a scheme, an optional authority and a cleaned absolute path.
// Two locations are equal iff their String forms are equal, so Location is
// usable as a comparable map key.
package location

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"
)

const SchemeFile = "file"

var (
	ErrEmpty        = errors.New("location is empty")
	ErrRelativePath = errors.New("location path must be absolute")
	ErrInvalidPath  = errors.New("location path contains a NUL byte")
)

type Location struct {
	scheme string
	host   string
	path   string
}

// Parse normalizes raw. A bare absolute path is treated as a local file path.
func Parse(raw string) (Location, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Location{}, ErrEmpty
	}
	if strings.ContainsRune(trimmed, 0) {
		return Location{}, ErrInvalidPath
	}
	if !strings.Contains(trimmed, "://") {
		if !filepath.IsAbs(trimmed) {
			return Location{}, fmt.Errorf("%w: %q", ErrRelativePath, raw)
		}
		return FromPath(trimmed), nil
	}

	parsed, err := url.Parse(trimmed)
	if err != nil {
		return Location{}, fmt.Errorf("parse location %q: %w", raw, err)
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme == "" {
		return Location{}, fmt.Errorf("location %q has no scheme", raw)
	}
	if scheme == SchemeFile {
		p := parsed.Path
		if p == "" {
			p = "/"
		}
		return FromPath(filepath.FromSlash(p)), nil
	}
	return Location{
		scheme: scheme,
		host:   strings.ToLower(parsed.Host),
		path:   cleanSlashPath(parsed.Path),
	}, nil
}

// MustParse is Parse for constants and tests.
func MustParse(raw string) Location {
	loc, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return loc
}

// FromPath builds a local location from a filesystem path.
func FromPath(p string) Location {
	abs, err := filepath.Abs(p)
	if err != nil {
		abs = filepath.Clean(p)
	}
	return Location{
		scheme: SchemeFile,
		path:   cleanSlashPath(filepath.ToSlash(abs)),
	}
}

// New builds a location for a non-file scheme.
func New(scheme, host, p string) Location {
	return Location{
		scheme: strings.ToLower(scheme),
		host:   strings.ToLower(host),
		path:   cleanSlashPath(p),
	}
}

func cleanSlashPath(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

func (l Location) IsZero() bool {
	return l.scheme == ""
}

func (l Location) Scheme() string { return l.scheme }
func (l Location) Host() string   { return l.host }
func (l Location) Path() string   { return l.path }

func (l Location) IsLocal() bool {
	return l.scheme == SchemeFile
}

// LocalPath returns the native filesystem path of a local location.
func (l Location) LocalPath() string {
	if !l.IsLocal() {
		return ""
	}
	return filepath.FromSlash(l.path)
}

func (l Location) String() string {
	if l.IsZero() {
		return ""
	}
	return l.scheme + "://" + l.host + l.path
}

// Base returns the last path element, or "" for a root.
func (l Location) Base() string {
	if l.path == "/" {
		return ""
	}
	return path.Base(l.path)
}

// Join appends a single name.
func (l Location) Join(name string) Location {
	return Location{
		scheme: l.scheme,
		host:   l.host,
		path:   path.Join(l.path, name),
	}
}

// Parent returns the containing location; roots have no parent.
func (l Location) Parent() (Location, bool) {
	if l.IsZero() || l.path == "/" {
		return Location{}, false
	}
	return Location{
		scheme: l.scheme,
		host:   l.host,
		path:   path.Dir(l.path),
	}, true
}

// IsAncestorOf reports whether other lies strictly below l.
func (l Location) IsAncestorOf(other Location) bool {
	if l.scheme != other.scheme || l.host != other.host || l.path == other.path {
		return false
	}
	if l.path == "/" {
		return true
	}
	return strings.HasPrefix(other.path, l.path+"/")
}

// Rebase moves l from below oldRoot to below newRoot. It reports false when l
// is neither oldRoot nor one of its descendants.
func (l Location) Rebase(oldRoot, newRoot Location) (Location, bool) {
	if l == oldRoot {
		return newRoot, true
	}
	if !oldRoot.IsAncestorOf(l) {
		return Location{}, false
	}
	rel := strings.TrimPrefix(l.path, oldRoot.path)
	rel = strings.TrimPrefix(rel, "/")
	return Location{
		scheme: newRoot.scheme,
		host:   newRoot.host,
		path:   path.Join(newRoot.path, rel),
	}, true
}

// Canonical returns the key used to correlate watch events: the symlink-free
// filesystem path for local locations, the normalized string otherwise.
func (l Location) Canonical() string {
	if !l.IsLocal() {
		return l.String()
	}
	native := l.LocalPath()
	resolved, err := filepath.EvalSymlinks(native)
	if err != nil {
		return native
	}
	return resolved
}
