// Package sources collects Solidity sources and flattens each first-party
// file with its transitive imports into one self-contained unit.
package sources

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// Extension of the source files collected by Aggregate.
const Extension = ".sol"

// ErrImportNotFound is returned when an import cannot be resolved against
// the aggregated sources.
var ErrImportNotFound = errors.New("import not found")

// ImportError names the file and the import that could not be resolved.
type ImportError struct {
	File   string
	Import string
}

func (e *ImportError) Error() string {
	return fmt.Sprintf("%s: import %q: %v", e.File, e.Import, ErrImportNotFound)
}

func (e *ImportError) Unwrap() error {
	return ErrImportNotFound
}

var (
	importRegex = regexp.MustCompile(`(?m)^[ \t]*import\s+(?:"([^"]+)"|'([^']+)'|[^;"']*?["']([^"']+)["'])[^;]*;[ \t]*\r?\n?`)
	pragmaRegex = regexp.MustCompile(`(?m)^[ \t]*pragma\s+([^;]+);[ \t]*\r?\n?`)
)

// Set is the merged path -> source mapping. Paths are slash separated and
// relative to the root they were found under.
type Set struct {
	Files map[string]string
	// FirstParty lists the contract-root paths, sorted.
	FirstParty []string
}

// Aggregate reads every source file under both roots. Contract-root files
// replace library-root files with the same relative path. A missing
// library root is treated as empty.
func Aggregate(libraryRoot, contractRoot string) (*Set, error) {
	libs, err := readTree(libraryRoot)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("reading library sources: %w", err)
	}
	contracts, err := readTree(contractRoot)
	if err != nil {
		return nil, fmt.Errorf("reading contract sources: %w", err)
	}

	set := &Set{Files: make(map[string]string, len(libs)+len(contracts))}
	for p, src := range libs {
		set.Files[p] = src
	}
	for p, src := range contracts {
		set.Files[p] = src
		set.FirstParty = append(set.FirstParty, p)
	}
	sort.Strings(set.FirstParty)
	return set, nil
}

func readTree(root string) (map[string]string, error) {
	if root == "" {
		return nil, fs.ErrNotExist
	}
	files := make(map[string]string)
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(p) != Extension {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		content, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		files[filepath.ToSlash(rel)] = string(content)
		return nil
	})
	return files, err
}

// FlattenOptions controls the output of Flatten.
type FlattenOptions struct {
	StripWhitespace bool
}

// Flatten merges entry and its transitive imports into one unit.
// Dependencies come before dependents; pragmas are deduplicated and
// hoisted; import statements are dropped.
func Flatten(files map[string]string, entry string, opts FlattenOptions) (string, error) {
	if _, ok := files[entry]; !ok {
		return "", fmt.Errorf("source %s: %w", entry, fs.ErrNotExist)
	}

	f := &flattener{files: files, visited: make(map[string]bool)}
	if err := f.visit(entry); err != nil {
		return "", err
	}

	var pragmas, bodies []string
	seen := make(map[string]bool)
	for _, p := range f.order {
		src := f.files[p]
		for _, m := range pragmaRegex.FindAllStringSubmatch(src, -1) {
			stmt := "pragma " + strings.Join(strings.Fields(m[1]), " ") + ";"
			if !seen[stmt] {
				seen[stmt] = true
				pragmas = append(pragmas, stmt)
			}
		}

		body := importRegex.ReplaceAllString(src, "")
		body = pragmaRegex.ReplaceAllString(body, "")
		if opts.StripWhitespace {
			body = stripWhitespace(body)
		}
		if body = strings.TrimSpace(body); body != "" {
			bodies = append(bodies, body)
		}
	}

	var parts []string
	if len(pragmas) > 0 {
		parts = append(parts, strings.Join(pragmas, "\n"))
	}
	parts = append(parts, bodies...)
	return strings.Join(parts, "\n\n") + "\n", nil
}

type flattener struct {
	files   map[string]string
	visited map[string]bool
	order   []string
}

// visit appends p after all of its imports. Cycles terminate because a file
// is marked before its imports are followed.
func (f *flattener) visit(p string) error {
	if f.visited[p] {
		return nil
	}
	f.visited[p] = true

	for _, imp := range Imports(f.files[p]) {
		resolved := resolveImport(p, imp)
		if _, ok := f.files[resolved]; !ok {
			return &ImportError{File: p, Import: imp}
		}
		if err := f.visit(resolved); err != nil {
			return err
		}
	}
	f.order = append(f.order, p)
	return nil
}

// Imports returns the import paths of src in order of appearance.
func Imports(src string) []string {
	var out []string
	for _, m := range importRegex.FindAllStringSubmatch(src, -1) {
		for _, g := range m[1:] {
			if g != "" {
				out = append(out, g)
				break
			}
		}
	}
	return out
}

// resolveImport maps an import to a key of the aggregated set. Relative
// imports resolve against the importing file, others against the roots.
func resolveImport(from, imp string) string {
	if strings.HasPrefix(imp, "./") || strings.HasPrefix(imp, "../") {
		return path.Join(path.Dir(from), imp)
	}
	return path.Clean(imp)
}

func stripWhitespace(s string) string {
	lines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	out := lines[:0]
	blank := false
	for _, line := range lines {
		line = strings.TrimRight(line, " \t")
		if line == "" {
			if blank {
				continue
			}
			blank = true
		} else {
			blank = false
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

// FlattenAll flattens every first-party file, keyed by its path.
func FlattenAll(set *Set, opts FlattenOptions) (map[string]string, error) {
	units := make(map[string]string, len(set.FirstParty))
	for _, p := range set.FirstParty {
		flat, err := Flatten(set.Files, p, opts)
		if err != nil {
			return nil, fmt.Errorf("flattening %s: %w", p, err)
		}
		units[p] = flat
	}
	return units, nil
}

// Save replaces dir with one file per unit at the unit's relative path.
func Save(dir string, units map[string]string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("clearing %s: %w", dir, err)
	}

	keys := make([]string, 0, len(units))
	for k := range units {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		filename := filepath.Join(dir, filepath.FromSlash(k))
		if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
			return fmt.Errorf("creating directory for %s: %w", k, err)
		}
		if err := os.WriteFile(filename, []byte(units[k]), 0644); err != nil {
			return fmt.Errorf("writing %s: %w", k, err)
		}
	}
	return nil
}
