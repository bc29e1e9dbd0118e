// Package validate checks JSON request bodies against embedded JSON Schemas.
package validate

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Schema names.
const (
	Capture       = "capture"
	DocumentPatch = "document_patch"
	Content       = "content"
	FolderCreate  = "folder_create"
	FolderUpdate  = "folder_update"
	Move          = "move"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

var (
	once    sync.Once
	schemas map[string]*jsonschema.Schema
	loadErr error
)

func schemaURL(name string) string {
	return "file://schemas/" + name + ".schema.json"
}

func load() {
	entries, err := schemaFS.ReadDir("schemas")
	if err != nil {
		loadErr = err
		return
	}

	c := jsonschema.NewCompiler()
	var names []string
	for _, e := range entries {
		name := strings.TrimSuffix(e.Name(), ".schema.json")
		data, err := schemaFS.ReadFile("schemas/" + e.Name())
		if err != nil {
			loadErr = err
			return
		}
		if err := c.AddResource(schemaURL(name), bytes.NewReader(data)); err != nil {
			loadErr = fmt.Errorf("add schema %s: %w", name, err)
			return
		}
		names = append(names, name)
	}

	compiled := make(map[string]*jsonschema.Schema, len(names))
	for _, name := range names {
		s, err := c.Compile(schemaURL(name))
		if err != nil {
			loadErr = fmt.Errorf("compile schema %s: %w", name, err)
			return
		}
		compiled[name] = s
	}
	schemas = compiled
}

// Error reports why a body failed validation.
type Error struct {
	Schema string
	// Problems lists "location: message" pairs, sorted.
	Problems []string
}

func (e *Error) Error() string {
	return fmt.Sprintf("invalid %s request: %s", e.Schema, strings.Join(e.Problems, "; "))
}

// Body validates raw JSON against the named schema. A body that is not JSON
// at all is reported as an *Error too.
func Body(name string, data []byte) error {
	once.Do(load)
	if loadErr != nil {
		return loadErr
	}
	s, ok := schemas[name]
	if !ok {
		return fmt.Errorf("unknown schema %q", name)
	}

	var v interface{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return &Error{Schema: name, Problems: []string{"body: malformed JSON"}}
	}

	if err := s.Validate(v); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return &Error{Schema: name, Problems: problems(ve)}
		}
		return err
	}
	return nil
}

// problems flattens a validation error tree into its leaf causes.
func problems(ve *jsonschema.ValidationError) []string {
	var out []string
	var walk func(*jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := e.InstanceLocation
			if loc == "" {
				loc = "/"
			}
			out = append(out, loc+": "+e.Message)
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	sort.Strings(out)
	return out
}
