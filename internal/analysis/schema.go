package analysis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// SchemaFile is the on-disk layout of per-step payload schemas:
//
//	steps:
//	  volatility:
//	    type: object
//	    required: [iv_rank]
type SchemaFile struct {
	Steps map[string]map[string]any `yaml:"steps"`
}

// LoadSchemas reads and compiles step schemas. An empty path yields no
// schemas, in which case only the JSON-object shape is enforced.
func LoadSchemas(path string) (map[string]*jsonschema.Schema, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read analysis schemas failed: %w", err)
	}
	var file SchemaFile
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("parse analysis schemas failed: %w", err)
	}
	out := make(map[string]*jsonschema.Schema, len(file.Steps))
	for name, def := range file.Steps {
		schema, err := CompileSchema(name, def)
		if err != nil {
			return nil, err
		}
		out[normalizeStep(name)] = schema
	}
	return out, nil
}

// CompileSchema compiles one schema document.
func CompileSchema(name string, def map[string]any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(def)
	if err != nil {
		return nil, fmt.Errorf("encode schema %s: %w", name, err)
	}
	url := normalizeStep(name) + ".json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("load schema %s: %w", name, err)
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	return schema, nil
}
