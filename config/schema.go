package config

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// GenerateSchema reflects EnvironmentsConfig into a JSON Schema document
// in the shape schema/environments.schema.json hand-maintains. Running
// `go run ./tools/schema-generator` regenerates that file from this
// reflection whenever EnvironmentsConfig's fields change, instead of
// editing the embedded schema by hand.
func GenerateSchema() ([]byte, error) {
	r := &jsonschema.Reflector{
		AllowAdditionalProperties: false,
		ExpandedStruct:            true,
		FieldNameTag:              "yaml",
	}

	schema := r.Reflect(&EnvironmentsConfig{})
	schema.Title = "Companion Environments Configuration"
	schema.Description = "Named, reusable environment profiles for session creation."
	schema.Version = "http://json-schema.org/draft-07/schema#"

	return json.MarshalIndent(schema, "", "  ")
}
