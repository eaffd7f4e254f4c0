package manifest

import "github.com/google/jsonschema-go/jsonschema"

func ptrInt(n int) *int { return &n }

// ProjectManifestSchema returns the JSON Schema for elm-watch.json, used by
// `elm-watch init` to emit an editor-friendly `$schema` companion file.
// Hand-built rather than reflected from the Go struct, the same way the
// pack's MCP tool definitions build *jsonschema.Schema values directly
// (bennypowers-cem/mcp/server.go), since the JSON shape (a map keyed by
// target name) doesn't correspond one-to-one with the Go struct's field
// layout.
func ProjectManifestSchema() *jsonschema.Schema {
	targetSchema := &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"inputs": {
				Type:     "array",
				Items:    &jsonschema.Schema{Type: "string", Pattern: `\.elm$`},
				MinItems: ptrInt(1),
			},
			"output": {Type: "string", Pattern: `\.js$`},
		},
		Required: []string{"inputs", "output"},
	}

	return &jsonschema.Schema{
		ID:   "https://elm-watch.dev/schema/elm-watch.json",
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"targets": {
				Type:                 "object",
				AdditionalProperties: targetSchema,
				MinProperties:        ptrInt(1),
			},
			"postprocess": {
				Type:  "array",
				Items: &jsonschema.Schema{Type: "string", MinLength: ptrInt(1)},
			},
			"port": {Type: "integer", Minimum: ptrFloat(1), Maximum: ptrFloat(65535)},
		},
		Required: []string{"targets"},
	}
}

func ptrFloat(f float64) *float64 { return &f }
