package adapter

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	m "github.com/jugglinmike/test262-harness/internal/model"
)

func writeTestFile(t *testing.T, path, contents string) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
}

func testFile(frontMatter, body string) string {
	return "// header\n/*---\n" + frontMatter + "\n---*/\n" + body + "\n"
}

// newCorpus lays out a miniature test262 checkout.
func newCorpus(t *testing.T) string {
	t.Helper()

	root := t.TempDir()
	writeTestFile(t, filepath.Join(root, "harness", "assert.js"), "// assert.js")
	writeTestFile(t, filepath.Join(root, "harness", "sta.js"), "// sta.js")
	writeTestFile(t, filepath.Join(root, "harness", "compareArray.js"), "// compareArray.js")
	writeTestFile(t, filepath.Join(root, "package.json"), `{"name": "test262", "version": "3.0.0"}`)

	writeTestFile(t, filepath.Join(root, "test", "built-ins", "plain.js"),
		testFile("description: plain\nfeatures: [Symbol]\nincludes: [compareArray.js]", "plainBody();"))
	writeTestFile(t, filepath.Join(root, "test", "built-ins", "strict.js"),
		testFile("description: strict\nflags: [onlyStrict]", "strictBody();"))
	writeTestFile(t, filepath.Join(root, "test", "language", "sloppy.js"),
		testFile("description: sloppy\nflags: [noStrict]\nfeatures: [Proxy]", "sloppyBody();"))
	writeTestFile(t, filepath.Join(root, "test", "language", "raw.js"),
		testFile("description: raw\nflags: [raw]", "rawBody();"))
	writeTestFile(t, filepath.Join(root, "test", "language", "module_FIXTURE.js"), "export default 1;")
	writeTestFile(t, filepath.Join(root, "test", "language", ".hidden.js"), "junk")

	return root
}

func collect(t *testing.T, source *CorpusSource) ([]*m.Scenario, error) {
	t.Helper()

	scenarios, errs := source.Scenarios(context.Background())

	var got []*m.Scenario
	for scenario := range scenarios {
		got = append(got, scenario)
	}

	return got, <-errs
}

func keys(scenarios []*m.Scenario) []string {
	out := make([]string, 0, len(scenarios))
	for _, s := range scenarios {
		out = append(out, s.Key())
	}

	return out
}

func TestCorpusSource_Scenarios(t *testing.T) {
	root := newCorpus(t)

	source, err := NewCorpusSource(CorpusConfig{
		Patterns: []string{filepath.Join(root, "test", "**", "*.js")},
		Buffer:   2,
	})
	require.NoError(t, err)
	assert.Equal(t, root, source.Test262Dir())

	scenarios, err := collect(t, source)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"test/built-ins/plain.js (default)",
		"test/built-ins/plain.js (strict mode)",
		"test/built-ins/strict.js (strict mode)",
		"test/language/raw.js (default)",
		"test/language/sloppy.js (default)",
	}, keys(scenarios))

	plain := scenarios[0].SourceText
	assert.True(t, strings.HasPrefix(plain, "// assert.js\n// sta.js\n// compareArray.js\n"))
	assert.Contains(t, plain, "plainBody();")

	assert.True(t, strings.HasPrefix(scenarios[1].SourceText, "\"use strict\";\n// assert.js"))
	assert.Equal(t, testFile("description: raw\nflags: [raw]", "rawBody();"), scenarios[3].SourceText)
}

func TestCorpusSource_FeatureFilter(t *testing.T) {
	root := newCorpus(t)

	source, err := NewCorpusSource(CorpusConfig{
		Patterns: []string{filepath.Join(root, "test")},
		Features: []string{"Proxy"},
	})
	require.NoError(t, err)

	scenarios, err := collect(t, source)
	require.NoError(t, err)
	assert.Equal(t, []string{"test/language/sloppy.js (default)"}, keys(scenarios))
}

func TestCorpusSource_Prelude(t *testing.T) {
	root := newCorpus(t)
	prelude := filepath.Join(t.TempDir(), "prelude.js")
	writeTestFile(t, prelude, "var PRELUDE = true;")

	source, err := NewCorpusSource(CorpusConfig{
		Patterns:    []string{filepath.Join(root, "test", "built-ins", "strict.js")},
		PreludePath: prelude,
	})
	require.NoError(t, err)

	scenarios, err := collect(t, source)
	require.NoError(t, err)
	require.Len(t, scenarios, 1)

	text := scenarios[0].SourceText
	assert.Contains(t, text, "---*/\nvar PRELUDE = true;\nstrictBody();")
}

func TestCorpusSource_MalformedMetadataIsFatal(t *testing.T) {
	root := newCorpus(t)
	writeTestFile(t, filepath.Join(root, "test", "zzz", "bad.js"), testFile("flags: [bogus]", "x();"))

	source, err := NewCorpusSource(CorpusConfig{Patterns: []string{filepath.Join(root, "test")}})
	require.NoError(t, err)

	_, err = collect(t, source)

	var sourceErr *SourceError
	require.ErrorAs(t, err, &sourceErr)
	assert.Contains(t, sourceErr.Path, "bad.js")
}

func TestCorpusSource_MissingInclude(t *testing.T) {
	root := newCorpus(t)
	writeTestFile(t, filepath.Join(root, "test", "inc.js"), testFile("includes: [missing.js]", "x();"))

	source, err := NewCorpusSource(CorpusConfig{Patterns: []string{filepath.Join(root, "test", "inc.js")}})
	require.NoError(t, err)

	_, err = collect(t, source)
	assert.ErrorContains(t, err, "missing.js")
}

func TestCorpusSource_VersionGate(t *testing.T) {
	root := newCorpus(t)
	writeTestFile(t, filepath.Join(root, "package.json"), `{"version": "4.1.0"}`)
	pattern := filepath.Join(root, "test")

	_, err := NewCorpusSource(CorpusConfig{Patterns: []string{pattern}})

	var sourceErr *SourceError
	require.ErrorAs(t, err, &sourceErr)
	assert.ErrorContains(t, err, "--accept-version 4.1.0")

	_, err = NewCorpusSource(CorpusConfig{Patterns: []string{pattern}, AcceptVersion: "4.1.0"})
	assert.NoError(t, err)
}

func TestCorpusSource_Test262DirNotFound(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, filepath.Join(dir, "a.js"), testFile("description: a", "a();"))

	_, err := NewCorpusSource(CorpusConfig{Patterns: []string{filepath.Join(dir, "a.js")}})
	assert.ErrorContains(t, err, "test262 directory not found")
}

func TestCorpusSource_ExplicitIncludesDir(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, filepath.Join(dir, "inc", "assert.js"), "// A")
	writeTestFile(t, filepath.Join(dir, "inc", "sta.js"), "// S")
	writeTestFile(t, filepath.Join(dir, "a.js"), testFile("flags: [noStrict]", "a();"))

	source, err := NewCorpusSource(CorpusConfig{
		Patterns:    []string{filepath.Join(dir, "a.js")},
		Test262Dir:  dir,
		IncludesDir: filepath.Join(dir, "inc"),
	})
	require.NoError(t, err)

	scenarios, err := collect(t, source)
	require.NoError(t, err)
	require.Len(t, scenarios, 1)
	assert.Equal(t, m.Path("a.js"), scenarios[0].RelativePath)
	assert.True(t, strings.HasPrefix(scenarios[0].SourceText, "// A\n// S\n"))
}

func TestCorpusSource_StopsOnCancel(t *testing.T) {
	root := newCorpus(t)

	source, err := NewCorpusSource(CorpusConfig{Patterns: []string{filepath.Join(root, "test")}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	scenarios, errs := source.Scenarios(ctx)

	<-scenarios
	cancel()

	for range scenarios {
	}

	assert.NoError(t, <-errs)
}
