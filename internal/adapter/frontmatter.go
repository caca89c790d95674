package adapter

import (
	_ "embed"
	"errors"
	"fmt"
	"regexp"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"

	m "github.com/jugglinmike/test262-harness/internal/model"
)

//go:embed schema/frontmatter.cue
var frontMatterSchemaSource string

var frontMatterPattern = regexp.MustCompile(`(?s)/\*---\r?\n(.*?)\r?\n?---\*/\r?\n?`)

// ErrNoFrontMatter is returned for files without a /*--- ---*/ block.
var ErrNoFrontMatter = errors.New("missing front-matter")

type rawNegative struct {
	Phase string `yaml:"phase"`
	Type  string `yaml:"type"`
}

type rawFrontMatter struct {
	Description string       `yaml:"description"`
	Info        string       `yaml:"info"`
	ESID        string       `yaml:"esid"`
	Flags       []string     `yaml:"flags"`
	Negative    *rawNegative `yaml:"negative"`
	Includes    []string     `yaml:"includes"`
	Features    []string     `yaml:"features"`
	Locale      []string     `yaml:"locale"`
}

// FrontMatter is the parsed metadata block of a test file.
type FrontMatter struct {
	Metadata m.Metadata
	// InsertionIndex is the byte offset right after the block, where a
	// prelude is spliced in.
	InsertionIndex int
}

// MetadataValidator checks decoded front-matter against the CUE schema.
// A cue context is not safe for concurrent use, hence the lock.
type MetadataValidator struct {
	mu     sync.Mutex
	ctx    *cue.Context
	schema cue.Value
}

// NewMetadataValidator compiles the embedded front-matter schema.
func NewMetadataValidator() (*MetadataValidator, error) {
	ctx := cuecontext.New()

	compiled := ctx.CompileString(frontMatterSchemaSource, cue.Filename("frontmatter.cue"))
	if err := compiled.Err(); err != nil {
		return nil, fmt.Errorf("compile front-matter schema: %w", err)
	}

	schema := compiled.LookupPath(cue.ParsePath("#FrontMatter"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("lookup #FrontMatter: %w", err)
	}

	return &MetadataValidator{ctx: ctx, schema: schema}, nil
}

// Validate unifies the decoded YAML document with the schema.
func (v *MetadataValidator) Validate(document map[string]any) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	value := v.ctx.Encode(document)
	if err := value.Err(); err != nil {
		return fmt.Errorf("encode front-matter: %w", err)
	}

	if err := v.schema.Unify(value).Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("front-matter does not match schema: %w", err)
	}

	return nil
}

// ParseFrontMatter extracts, validates and decodes the metadata block of a
// test file. A nil validator skips schema validation.
func ParseFrontMatter(contents string, validator *MetadataValidator) (FrontMatter, error) {
	loc := frontMatterPattern.FindStringSubmatchIndex(contents)
	if loc == nil {
		return FrontMatter{}, ErrNoFrontMatter
	}

	block := []byte(contents[loc[2]:loc[3]])

	if validator != nil {
		var document map[string]any
		if err := yaml.Unmarshal(block, &document); err != nil {
			return FrontMatter{}, fmt.Errorf("parse front-matter yaml: %w", err)
		}

		if document == nil {
			document = map[string]any{}
		}

		if err := validator.Validate(document); err != nil {
			return FrontMatter{}, err
		}
	}

	var raw rawFrontMatter
	if err := yaml.Unmarshal(block, &raw); err != nil {
		return FrontMatter{}, fmt.Errorf("decode front-matter: %w", err)
	}

	return FrontMatter{
		Metadata:       raw.toMetadata(),
		InsertionIndex: loc[1],
	}, nil
}

func (raw rawFrontMatter) toMetadata() m.Metadata {
	md := m.Metadata{
		Description: raw.Description,
		ESID:        raw.ESID,
		Info:        raw.Info,
		Includes:    raw.Includes,
		Features:    raw.Features,
		Locale:      raw.Locale,
	}

	for _, flag := range raw.Flags {
		switch flag {
		case "async":
			md.Flags.Async = true
		case "raw":
			md.Flags.Raw = true
		case "module":
			md.Flags.Module = true
		case "onlyStrict":
			md.Flags.OnlyStrict = true
		case "noStrict":
			md.Flags.NoStrict = true
		case "negative":
			md.Flags.Negative = true
		case "CanBlockIsFalse":
			md.Flags.CanBlockIsFalse = true
		case "CanBlockIsTrue":
			md.Flags.CanBlockIsTrue = true
		case "non-deterministic":
			md.Flags.NonDeterministic = true
		}
	}

	if raw.Negative != nil {
		md.Negative = &m.Negative{Phase: m.Phase(raw.Negative.Phase), Type: raw.Negative.Type}
	}

	return md
}
