package validate

import (
	"strings"
	"testing"
)

// FuzzValidateAgainstSchema tests schema validation with various inputs
func FuzzValidateAgainstSchema(f *testing.F) {
	basicSchema := []byte(`{
		"type": "object",
		"properties": {
			"name": {"type": "string"},
			"version": {"type": "string"}
		},
		"required": ["name"]
	}`)

	f.Add("test-schema", basicSchema, []byte(`{"name": "test", "version": "1.0"}`), "")
	f.Add("test-schema", basicSchema, []byte(`{"name": "test"}`), "")
	f.Add("test-schema", basicSchema, []byte(`{}`), "")
	f.Add("test-schema", basicSchema, []byte(`{"name": null}`), "")
	f.Add("test-schema", basicSchema, []byte(`invalid json`), "")
	f.Add("test-schema", basicSchema, []byte(`null`), "")
	f.Add("test-schema", basicSchema, []byte(`[]`), "")

	f.Fuzz(func(t *testing.T, name string, schema []byte, data []byte, ref string) {
		// Skip invalid schema names that would cause panics in the library
		if name == "" || strings.Contains(name, "#") || len(name) < 3 {
			t.Skip("Skipping invalid schema name")
		}
		if len(schema) < 10 {
			t.Skip("Skipping too small schema")
		}

		_ = ValidateAgainstSchema(name, schema, data, ref)
	})
}

// FuzzValidateDescriptorJSON tests descriptor validation
func FuzzValidateDescriptorJSON(f *testing.F) {
	f.Add([]byte(`{"identifier": "iacls-time-tracker", "version": "1.3.6", "sourceUrl": "https://example.com/a.tar.gz", "integrityDigest": "no_check", "bundlePath": "Time Tracker.app"}`))
	f.Add([]byte(`{}`))
	f.Add([]byte(`{"identifier": null}`))
	f.Add([]byte(`invalid json content`))
	f.Add([]byte(`null`))
	f.Add([]byte(`[]`))
	f.Add([]byte(`{"identifier": "x", "postInstallActions": [{"command": ""}]}`))

	f.Fuzz(func(t *testing.T, data []byte) {
		_ = ValidateDescriptorJSON(data)
	})
}

// FuzzValidateConfigJSON tests configuration validation
func FuzzValidateConfigJSON(f *testing.F) {
	f.Add([]byte(`{"workers": 4}`))
	f.Add([]byte(`{}`))
	f.Add([]byte(`{"workers": null}`))
	f.Add([]byte(`invalid json`))
	f.Add([]byte(`null`))
	f.Add([]byte(`{"logging": {"level": "trace"}}`))

	f.Fuzz(func(t *testing.T, data []byte) {
		_ = ValidateConfigJSON(data)
	})
}
