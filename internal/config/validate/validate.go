package validate

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema/descriptor.schema.json
var DescriptorSchema []byte

//go:embed schema/config.schema.json
var ConfigSchema []byte

// ValidateAgainstSchema compiles schema under name and validates the JSON
// document data against it. ref selects a sub-schema ("#/definitions/x"),
// empty for the root.
func ValidateAgainstSchema(name string, schema []byte, data []byte, ref string) error {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, bytes.NewReader(schema)); err != nil {
		return fmt.Errorf("loading schema %s: %w", name, err)
	}
	sch, err := compiler.Compile(name + ref)
	if err != nil {
		return fmt.Errorf("compiling schema %s: %w", name, err)
	}

	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if err := sch.Validate(doc); err != nil {
		return fmt.Errorf("schema validation against %s failed: %w", name, err)
	}
	return nil
}

// ValidateDescriptorJSON validates a package descriptor already converted to JSON.
func ValidateDescriptorJSON(data []byte) error {
	return ValidateAgainstSchema("descriptor.schema.json", DescriptorSchema, data, "")
}

// ValidateConfigJSON validates the global configuration converted to JSON.
func ValidateConfigJSON(data []byte) error {
	return ValidateAgainstSchema("config.schema.json", ConfigSchema, data, "")
}
