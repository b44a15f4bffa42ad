package httpapi

import (
	"embed"
	"fmt"
	"path"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Schema names, one per JSON request body.
const (
	schemaLogin           = "login"
	schemaCheckNumber     = "check_number"
	schemaSendText        = "send_text"
	schemaSendAudioBase64 = "send_audio_base64"
)

//go:embed schemas/*.json
var schemaFS embed.FS

type schemaSet struct {
	schemas map[string]*gojsonschema.Schema
}

func loadSchemas() (*schemaSet, error) {
	entries, err := schemaFS.ReadDir("schemas")
	if err != nil {
		return nil, err
	}
	set := &schemaSet{schemas: make(map[string]*gojsonschema.Schema, len(entries))}
	for _, entry := range entries {
		raw, err := schemaFS.ReadFile(path.Join("schemas", entry.Name()))
		if err != nil {
			return nil, err
		}
		compiled, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
		if err != nil {
			return nil, fmt.Errorf("httpapi: compile schema %s: %w", entry.Name(), err)
		}
		set.schemas[strings.TrimSuffix(entry.Name(), ".json")] = compiled
	}
	return set, nil
}

func mustLoadSchemas() *schemaSet {
	set, err := loadSchemas()
	if err != nil {
		panic(err)
	}
	return set
}

// validate checks doc against the named schema and flattens violations into
// one message.
func (s *schemaSet) validate(name string, doc []byte) error {
	schema, ok := s.schemas[name]
	if !ok {
		return fmt.Errorf("unknown schema %q", name)
	}
	result, err := schema.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return fmt.Errorf("malformed JSON: %v", err)
	}
	if result.Valid() {
		return nil
	}
	problems := make([]string, 0, len(result.Errors()))
	for _, re := range result.Errors() {
		problems = append(problems, fmt.Sprintf("%s: %s", re.Field(), re.Description()))
	}
	return fmt.Errorf("validation failed: %s", strings.Join(problems, "; "))
}
