// Package ignore decides which paths are excluded from a sync.
//
// Patterns are globs matched against slash separated paths relative to the
// sync root. `*` matches within a path segment and `**` crosses segments. A
// path is ignored if a pattern matches it or any of its ancestors, so
// ignoring a directory ignores everything below it. Patterns without a `/`
// match a single segment anywhere in the tree, so `.git` ignores `a/.git/x`,
// unless they're anchored to the root with a leading `/` or `./`.
package ignore

import (
	"path"
	"strings"

	"github.com/gobwas/glob"
	gitignore "github.com/sabhiram/go-gitignore"
	"github.com/spf13/afero"

	"github.com/sidkik/remotesync/pkg/errors"
)

type pattern struct {
	glob glob.Glob

	// segment is set for patterns without a separator. They're matched
	// against each path segment instead of the whole path.
	segment bool
}

// Filter is a compiled set of ignore patterns. The zero value ignores
// nothing.
type Filter struct {
	patterns  []pattern
	gitignore *gitignore.GitIgnore
}

// Compile parses patterns. Patterns that fail to parse are left out of the
// Filter and returned, so the caller can warn about them once.
func Compile(patterns []string) (*Filter, []error) {
	f := &Filter{}
	var errs []error
	for _, raw := range patterns {
		p, err := compile(raw)
		if err != nil {
			errs = append(errs, errors.WithContext(err, "compile ignore pattern "+raw))
			continue
		}
		if p != nil {
			f.patterns = append(f.patterns, *p)
		}
	}
	return f, errs
}

func compile(raw string) (*pattern, error) {
	cleaned := strings.TrimSuffix(normalize(raw), "/")
	if cleaned == "" || cleaned == "." {
		return nil, nil
	}

	g, err := glob.Compile(cleaned, '/')
	if err != nil {
		return nil, err
	}

	anchored := cleaned != strings.TrimSuffix(raw, "/")
	return &pattern{
		glob:    g,
		segment: !anchored && !strings.Contains(cleaned, "/"),
	}, nil
}

// normalize strips the prefixes that anchor a path to the root.
func normalize(p string) string {
	for {
		switch {
		case strings.HasPrefix(p, "./"):
			p = p[2:]
		case strings.HasPrefix(p, "/"):
			p = p[1:]
		default:
			return p
		}
	}
}

// WithGitignore adds the rules of a gitignore style file to the filter. A
// missing file is ignored.
func (f *Filter) WithGitignore(fs afero.Fs, filePath string) (*Filter, error) {
	contents, err := afero.ReadFile(fs, filePath)
	if err != nil {
		if exists, statErr := afero.Exists(fs, filePath); statErr == nil && !exists {
			return f, nil
		}
		return nil, errors.WithContext(err, "read ignore file")
	}

	lines := strings.Split(strings.Replace(string(contents), "\r\n", "\n", -1), "\n")
	return &Filter{
		patterns:  f.patterns,
		gitignore: gitignore.CompileIgnoreLines(lines...),
	}, nil
}

// Match returns whether relPath, relative to the sync root, is ignored.
func (f *Filter) Match(relPath string) bool {
	if f == nil {
		return false
	}

	relPath = strings.TrimSuffix(normalize(path.Clean("/"+relPath)), "/")
	if relPath == "" {
		return false
	}

	for p := relPath; p != "." && p != ""; p = path.Dir(p) {
		if f.matchOne(p) {
			return true
		}
	}
	return false
}

func (f *Filter) matchOne(p string) bool {
	if f.gitignore != nil && f.gitignore.MatchesPath(p) {
		return true
	}

	base := path.Base(p)
	for _, pattern := range f.patterns {
		if pattern.glob.Match(p) || (pattern.segment && pattern.glob.Match(base)) {
			return true
		}
	}
	return false
}

// IsIgnored reports whether relPath matches any of patterns. Unparsable
// patterns never match.
func IsIgnored(relPath string, patterns []string) bool {
	f, _ := Compile(patterns)
	return f.Match(relPath)
}
