package manifest

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/dtq1997/steamshelf-updater/internal/domain/release"
)

// schemaURL identifies the embedded schema inside the compiler.
const schemaURL = "https://steamshelf.local/schemas/manifest.schema.json"

// ErrMalformed is returned for bodies that are not a valid manifest.
var ErrMalformed = errors.New("malformed manifest")

//go:embed manifest.schema.json
var schemaJSON []byte

//nolint:gochecknoglobals // Compiled once and shared by every decode.
var compiledSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("parse manifest schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err = compiler.AddResource(schemaURL, doc); err != nil {
		return nil, fmt.Errorf("add manifest schema: %w", err)
	}

	return compiler.Compile(schemaURL)
})

// Decode validates data against the manifest schema and returns the manifest.
// Every validation or parse failure wraps ErrMalformed.
func Decode(data []byte) (*release.Manifest, error) {
	if err := validate(data); err != nil {
		return nil, err
	}

	var m release.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	if _, err := m.ParsedVersion(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	if _, _, err := m.ParsedMinVersion(); err != nil {
		return nil, fmt.Errorf("%w: min_version: %w", ErrMalformed, err)
	}

	return &m, nil
}

// Encode renders m as indented JSON and checks that the result would be accepted by Decode.
func Encode(m *release.Manifest) ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}

	if _, err = Decode(data); err != nil {
		return nil, err
	}

	return append(data, '\n'), nil
}

func validate(data []byte) error {
	schema, err := compiledSchema()
	if err != nil {
		return err
	}

	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	if err = schema.Validate(instance); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	return nil
}
