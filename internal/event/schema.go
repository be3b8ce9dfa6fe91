package event

import (
	"github.com/invopop/jsonschema"

	"dirlister/internal/schema"
)

const DirEventSchemaName = "dir-event"

// DirEventSchema describes the JSON form of DirEvent sent between relay
// peers.
func DirEventSchema() *jsonschema.Schema {
	return schema.Reflect(&DirEvent{}, "dirlister directory event", "Change notice exchanged between directory cache processes")
}

func RegisterSchema() error {
	return schema.Register(DirEventSchemaName, DirEventSchema)
}
