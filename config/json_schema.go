package config

import (
	"errors"

	"github.com/invopop/jsonschema"
)

const schemaID = "https://labml.dev/schemas/config.json"

var ErrGeneratedSchemaIsNil = errors.New("generated config schema is nil")

// JSONSchema describes config.yaml. Property names follow the mapstructure keys viper
// reads, and no key is required since every setting has a default.
func JSONSchema() ([]byte, error) {
	r := jsonschema.Reflector{
		FieldNameTag:               "mapstructure",
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
	}
	schema := r.Reflect(&Config{})
	if schema == nil {
		return nil, ErrGeneratedSchemaIsNil
	}
	schema.ID = schemaID
	schema.Title = "labml configuration"

	return schema.MarshalJSON()
}
