package config

import (
	"testing"

	"github.com/invopop/jsonschema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONSchema(t *testing.T) {
	schemaJSON, err := JSONSchema()
	require.NoError(t, err)

	schema := &jsonschema.Schema{}
	require.NoError(t, schema.UnmarshalJSON(schemaJSON))
	assert.Equal(t, "labml configuration", schema.Title)
	assert.Empty(t, schema.Required)

	_, ok := schema.Properties.Get("recognition")
	assert.True(t, ok, "top-level keys use the config.yaml names")
	assert.Contains(t, string(schemaJSON), `"confidence_threshold"`)
	assert.Contains(t, string(schemaJSON), `"augmentations_per_image"`)
	assert.NotContains(t, string(schemaJSON), `"ConfidenceThreshold"`)
}
