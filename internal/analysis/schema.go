package analysis

import (
	"embed"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// Schema names, matching files under schemas/.
const (
	schemaDataset  = "dataset"
	schemaPatterns = "patterns"
	schemaSummary  = "summary"
	schemaOutline  = "outline"
	schemaDetails  = "details"
)

var (
	schemasOnce sync.Once
	schemas     map[string]*gojsonschema.Schema
	schemasErr  error
)

func loadSchemas() (map[string]*gojsonschema.Schema, error) {
	schemasOnce.Do(func() {
		loaded := make(map[string]*gojsonschema.Schema)
		for _, name := range []string{schemaDataset, schemaPatterns, schemaSummary, schemaOutline, schemaDetails} {
			data, err := schemaFS.ReadFile("schemas/" + name + ".json")
			if err != nil {
				schemasErr = fmt.Errorf("failed to read %s schema: %w", name, err)
				return
			}
			schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(data))
			if err != nil {
				schemasErr = fmt.Errorf("failed to compile %s schema: %w", name, err)
				return
			}
			loaded[name] = schema
		}
		schemas = loaded
	})
	return schemas, schemasErr
}

// validateDocument checks data against the named schema. Violations are
// joined into one message.
func validateDocument(name string, data []byte) error {
	all, err := loadSchemas()
	if err != nil {
		return err
	}
	schema, ok := all[name]
	if !ok {
		return fmt.Errorf("unknown schema %q", name)
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("failed to validate: %w", err)
	}
	if !result.Valid() {
		violations := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			violations = append(violations, desc.String())
		}
		return fmt.Errorf("schema %s: %s", name, strings.Join(violations, "; "))
	}
	return nil
}
