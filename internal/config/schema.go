package config

import (
	"github.com/invopop/jsonschema"

	"dirlister/internal/schema"
)

const SettingsSchemaName = "settings"

// Schema describes the settings file. Durations are strings such as "500ms".
func Schema() *jsonschema.Schema {
	return schema.Reflect(&Settings{}, "dirlister settings", "Configuration file for the dirlister directory cache")
}

func RegisterSchema() error {
	return schema.Register(SettingsSchemaName, Schema)
}
