package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/mod/semver"

	m "github.com/jugglinmike/test262-harness/internal/model"
)

// SupportedTest262Major is the newest test262 major version whose layout and
// metadata conventions the corpus source understands.
const SupportedTest262Major = "v3"

const strictPrefix = "\"use strict\";\n"

var defaultIncludes = []string{"assert.js", "sta.js"}

// SourceError is a fatal problem with the test corpus itself.
type SourceError struct {
	Path string
	Err  error
}

func (e *SourceError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("corpus: %v", e.Err)
	}

	return fmt.Sprintf("corpus: %s: %v", e.Path, e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// CorpusConfig describes where test files come from and how they are assembled.
type CorpusConfig struct {
	// Patterns are files, directories or doublestar globs.
	Patterns []string
	// Test262Dir is the root of the test262 checkout. Detected from the
	// patterns when empty.
	Test262Dir string
	// IncludesDir holds the harness include files. Defaults to
	// <Test262Dir>/harness.
	IncludesDir string
	// PreludePath names a file whose contents are spliced into every
	// non-raw scenario right after the front-matter.
	PreludePath string
	// Features keeps only tests that declare at least one of them.
	Features []string
	// AcceptVersion admits a test262 release newer than the supported one.
	AcceptVersion string
	// Buffer is the prefetch depth of the scenario channel.
	Buffer int
}

// CorpusSource turns test262 files into scenarios.
type CorpusSource struct {
	cfg       CorpusConfig
	prelude   string
	validator *MetadataValidator

	mu       sync.Mutex
	includes map[string]string
}

// NewCorpusSource resolves the corpus directories, loads the prelude, checks
// the test262 version and compiles the metadata schema.
func NewCorpusSource(cfg CorpusConfig) (*CorpusSource, error) {
	if len(cfg.Patterns) == 0 {
		return nil, &SourceError{Err: errors.New("no test file patterns given")}
	}

	if cfg.Test262Dir == "" {
		dir, err := detectTest262Dir(cfg.Patterns[0])
		if err != nil && cfg.IncludesDir == "" {
			return nil, &SourceError{Path: cfg.Patterns[0], Err: err}
		}

		if err != nil {
			dir, _ = os.Getwd()
		}

		cfg.Test262Dir = dir
	}

	if cfg.IncludesDir == "" {
		cfg.IncludesDir = filepath.Join(cfg.Test262Dir, "harness")
	}

	if err := checkTest262Version(cfg.Test262Dir, cfg.AcceptVersion); err != nil {
		return nil, err
	}

	source := &CorpusSource{
		cfg:      cfg,
		includes: map[string]string{},
	}

	if cfg.PreludePath != "" {
		data, err := os.ReadFile(cfg.PreludePath)
		if err != nil {
			return nil, &SourceError{Path: cfg.PreludePath, Err: fmt.Errorf("read prelude: %w", err)}
		}

		source.prelude = string(data)
	}

	validator, err := NewMetadataValidator()
	if err != nil {
		return nil, err
	}

	source.validator = validator

	slog.Debug("corpus source ready",
		"test262_dir", cfg.Test262Dir,
		"includes_dir", cfg.IncludesDir,
		"patterns", cfg.Patterns)

	return source, nil
}

// Test262Dir returns the resolved corpus root.
func (s *CorpusSource) Test262Dir() string {
	return s.cfg.Test262Dir
}

// Files expands the configured patterns into a sorted, de-duplicated list of
// test files.
func (s *CorpusSource) Files() ([]string, error) {
	seen := map[string]bool{}

	var files []string

	add := func(path string) {
		if skipFile(path) || seen[path] {
			return
		}

		seen[path] = true
		files = append(files, path)
	}

	for _, pattern := range s.cfg.Patterns {
		info, err := os.Stat(pattern)
		if err == nil && info.IsDir() {
			err = filepath.WalkDir(pattern, func(path string, d fs.DirEntry, walkErr error) error {
				if walkErr != nil {
					return walkErr
				}

				if d.IsDir() {
					if path != pattern && strings.HasPrefix(d.Name(), ".") {
						return filepath.SkipDir
					}

					return nil
				}

				if strings.HasSuffix(path, ".js") {
					add(path)
				}

				return nil
			})
			if err != nil {
				return nil, &SourceError{Path: pattern, Err: err}
			}

			continue
		}

		matches, err := doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, &SourceError{Path: pattern, Err: fmt.Errorf("bad pattern: %w", err)}
		}

		for _, match := range matches {
			add(match)
		}
	}

	sort.Strings(files)

	return files, nil
}

// Load reads one test file and expands it into its scenarios.
func (s *CorpusSource) Load(path string) ([]*m.Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &SourceError{Path: path, Err: err}
	}

	contents := string(data)

	frontMatter, err := ParseFrontMatter(contents, s.validator)
	if err != nil {
		return nil, &SourceError{Path: path, Err: err}
	}

	md := frontMatter.Metadata
	if !s.wantsFeatures(md.Features) {
		return nil, nil
	}

	relative, err := filepath.Rel(s.cfg.Test262Dir, path)
	if err != nil || strings.HasPrefix(relative, "..") {
		relative = path
	}

	body := contents

	if !md.Flags.Raw {
		includes, err := s.includeText(md.Includes)
		if err != nil {
			return nil, &SourceError{Path: path, Err: err}
		}

		if s.prelude != "" {
			at := frontMatter.InsertionIndex
			body = contents[:at] + s.prelude + "\n" + contents[at:]
		}

		body = includes + body
	}

	var scenarios []*m.Scenario

	for _, variant := range variantsFor(md.Flags) {
		text := body
		if variant == m.VariantStrict {
			text = strictPrefix + body
		}

		scenarios = append(scenarios, &m.Scenario{
			RelativePath: m.Path(filepath.ToSlash(relative)),
			Variant:      variant,
			SourceText:   text,
			Metadata:     md,
		})
	}

	return scenarios, nil
}

// Scenarios streams every scenario of the corpus in file order. A fatal
// corpus problem is sent on the error channel and ends the stream.
func (s *CorpusSource) Scenarios(ctx context.Context) (<-chan *m.Scenario, <-chan error) {
	buffer := max(s.cfg.Buffer, 1)

	scenarios := make(chan *m.Scenario, buffer)
	errs := make(chan error, 1)

	go func() {
		defer close(errs)
		defer close(scenarios)

		files, err := s.Files()
		if err != nil {
			errs <- err
			return
		}

		slog.Debug("discovered test files", "count", len(files))

		for _, file := range files {
			loaded, err := s.Load(file)
			if err != nil {
				slog.Error("failed to load test file", "path", file, "error", err)
				errs <- err

				return
			}

			for _, scenario := range loaded {
				select {
				case scenarios <- scenario:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return scenarios, errs
}

func (s *CorpusSource) wantsFeatures(features []string) bool {
	if len(s.cfg.Features) == 0 {
		return true
	}

	for _, feature := range features {
		if slices.Contains(s.cfg.Features, feature) {
			return true
		}
	}

	return false
}

func (s *CorpusSource) includeText(listed []string) (string, error) {
	names := make([]string, 0, len(defaultIncludes)+len(listed))
	for _, name := range append(slices.Clone(defaultIncludes), listed...) {
		if !slices.Contains(names, name) {
			names = append(names, name)
		}
	}

	var b strings.Builder

	for _, name := range names {
		text, err := s.include(name)
		if err != nil {
			return "", err
		}

		b.WriteString(text)
		b.WriteString("\n")
	}

	return b.String(), nil
}

func (s *CorpusSource) include(name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if text, ok := s.includes[name]; ok {
		return text, nil
	}

	data, err := os.ReadFile(filepath.Join(s.cfg.IncludesDir, name))
	if err != nil {
		return "", fmt.Errorf("read include %s: %w", name, err)
	}

	s.includes[name] = string(data)

	return string(data), nil
}

func variantsFor(flags m.Flags) []m.Variant {
	switch {
	case flags.Raw, flags.Module, flags.NoStrict:
		return []m.Variant{m.VariantDefault}
	case flags.OnlyStrict:
		return []m.Variant{m.VariantStrict}
	default:
		return []m.Variant{m.VariantDefault, m.VariantStrict}
	}
}

func skipFile(path string) bool {
	base := filepath.Base(path)

	return strings.HasPrefix(base, ".") || strings.Contains(base, "_FIXTURE")
}

// detectTest262Dir walks up from start until it finds a directory holding
// both harness/ and test/.
func detectTest262Dir(start string) (string, error) {
	// strip any glob part so the walk starts from a real directory
	base, _ := doublestar.SplitPattern(filepath.ToSlash(start))

	dir, err := filepath.Abs(filepath.FromSlash(base))
	if err != nil {
		return "", err
	}

	for {
		if isDir(filepath.Join(dir, "harness")) && isDir(filepath.Join(dir, "test")) {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("test262 directory not found above %s", start)
		}

		dir = parent
	}
}

func isDir(path string) bool {
	info, err := os.Stat(path)

	return err == nil && info.IsDir()
}

type packageManifest struct {
	Version string `json:"version"`
}

// checkTest262Version rejects test262 releases newer than the supported major
// unless the exact version was accepted. A corpus without package.json is
// not checked.
func checkTest262Version(dir, accept string) error {
	path := filepath.Join(dir, "package.json")

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	if err != nil {
		return &SourceError{Path: path, Err: err}
	}

	var manifest packageManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return &SourceError{Path: path, Err: fmt.Errorf("parse package.json: %w", err)}
	}

	if manifest.Version == "" || manifest.Version == accept {
		return nil
	}

	version := "v" + strings.TrimPrefix(manifest.Version, "v")
	if !semver.IsValid(version) {
		return &SourceError{Path: path, Err: fmt.Errorf("invalid test262 version %q", manifest.Version)}
	}

	if semver.Compare(semver.Major(version), SupportedTest262Major) > 0 {
		return &SourceError{
			Path: path,
			Err: fmt.Errorf("test262 version %s is newer than supported %s.x; pass --accept-version %s to run it anyway",
				manifest.Version, strings.TrimPrefix(SupportedTest262Major, "v"), manifest.Version),
		}
	}

	return nil
}
