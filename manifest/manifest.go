// Package manifest loads run manifests: YAML files listing the test files of
// a target together with the execution options shared by all of them.
package manifest

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ethereum/go-ethereum/log"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"

	"github.com/ethereum-optimism/infra/op-isorun/types"
)

//go:embed manifest.schema.json
var schemaData []byte

const schemaName = "manifest.schema.json"

var (
	manifestSchema *jsonschema.Schema
	compileOnce    sync.Once
	compileErr     error
)

// Manifest is the decoded form of a manifest file. Relative paths are
// resolved against the directory of the manifest by Load.
type Manifest struct {
	Target      string   `yaml:"target"`
	Files       []string `yaml:"files"`
	LoadPath    []string `yaml:"load_path"`
	TestOptions []string `yaml:"test_options"`
	Strict      bool     `yaml:"strict"`
	Helper      string   `yaml:"helper"`
}

func compileSchema() error {
	compileOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaData))
		if err != nil {
			compileErr = fmt.Errorf("unmarshal manifest schema: %w", err)
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(schemaName, doc); err != nil {
			compileErr = fmt.Errorf("add manifest schema resource: %w", err)
			return
		}
		manifestSchema, err = compiler.Compile(schemaName)
		if err != nil {
			compileErr = fmt.Errorf("compile manifest schema: %w", err)
		}
	})
	return compileErr
}

// Validate checks YAML manifest data against the manifest schema.
func Validate(data []byte) error {
	if err := compileSchema(); err != nil {
		return err
	}

	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parsing manifest: %w", err)
	}
	if raw == nil {
		raw = map[string]any{}
	}
	// Round-trip through JSON so the validator sees JSON types only.
	encoded, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("manifest is not representable as JSON: %w", err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("invalid manifest: %w", err)
	}
	if err := manifestSchema.Validate(doc); err != nil {
		return fmt.Errorf("manifest validation failed: %w", err)
	}
	return nil
}

// Parse validates and decodes manifest data. Paths are left as written.
func Parse(data []byte) (*Manifest, error) {
	if err := Validate(data); err != nil {
		return nil, err
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	return &m, nil
}

// Load reads, validates and decodes the manifest at path.
func Load(path string) (*Manifest, error) {
	log.Debug("Reading manifest file", "path", path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest file: %w", err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	m.resolve(filepath.Dir(path))
	return m, nil
}

func (m *Manifest) resolve(dir string) {
	for i, f := range m.Files {
		if !filepath.IsAbs(f) {
			m.Files[i] = filepath.Join(dir, f)
		}
	}
	for i, p := range m.LoadPath {
		if !filepath.IsAbs(p) {
			m.LoadPath[i] = filepath.Join(dir, p)
		}
	}
}

// TestFiles returns the manifest's files as test files.
func (m *Manifest) TestFiles() []types.TestFile {
	files := make([]types.TestFile, 0, len(m.Files))
	for _, f := range m.Files {
		files = append(files, types.TestFile(f))
	}
	return files
}
