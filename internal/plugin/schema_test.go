// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DevkitServer Contributors

package plugin_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devkitserver/devkitserver/internal/plugin"
	"github.com/devkitserver/devkitserver/pkg/errutil"
)

func TestGenerateSchema(t *testing.T) {
	data, err := plugin.GenerateSchema()
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, plugin.SchemaID, doc["$id"])
	assert.Equal(t, "DevkitServer Plugin Manifest", doc["title"])

	props, ok := doc["properties"].(map[string]any)
	require.True(t, ok)
	for _, key := range []string{"id", "version", "requires", "permissions", "commands"} {
		assert.Contains(t, props, key)
	}
}

func TestValidateSchema_Valid(t *testing.T) {
	assert.NoError(t, plugin.ValidateSchema([]byte(welcomeManifest)))
}

func TestValidateSchema_Violations(t *testing.T) {
	tests := []struct {
		name     string
		manifest string
	}{
		{"missing version", "id: welcome"},
		{"unknown field", "id: welcome\nversion: 1.0.0\ntype: lua"},
		{"id pattern", "id: Welcome\nversion: 1.0.0"},
		{"command without message", "id: welcome\nversion: 1.0.0\ncommands:\n  - name: rules"},
		{"unknown mode", "id: welcome\nversion: 1.0.0\ncommands:\n  - name: rules\n    mode: [flying]\n    message: X"},
		{"priority type", "id: welcome\nversion: 1.0.0\ncommands:\n  - name: rules\n    priority: high\n    message: X"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := plugin.ValidateSchema([]byte(tt.manifest))
			errutil.AssertErrorCode(t, err, "SCHEMA_VIOLATION")
			assert.NotEmpty(t, plugin.FormatSchemaError(err))
		})
	}
}

func TestValidateSchema_EmptyAndBadYAML(t *testing.T) {
	errutil.AssertErrorCode(t, plugin.ValidateSchema(nil), "EMPTY_MANIFEST")
	errutil.AssertErrorCode(t, plugin.ValidateSchema([]byte("id: [")), "INVALID_MANIFEST")
	assert.Empty(t, plugin.FormatSchemaError(nil))
}
