package schema

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// ListSchemaURL names the built-in list schema.
const ListSchemaURL = "https://github.com/stevemurr/list-sync-server/list.schema.json"

// List is the shape of a shopping list document.
type List struct {
	Version int64    `json:"version" jsonschema:"minimum=0,description=Number of accepted updates"`
	Title   string   `json:"title,omitempty" jsonschema:"maxLength=200"`
	Items   []string `json:"items" jsonschema:"description=Entries in display order"`
}

// ForList returns the schema reflected from the List type.
func ForList() (*Schema, error) {
	r := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	raw, err := json.Marshal(r.Reflect(&List{}))
	if err != nil {
		return nil, fmt.Errorf("marshal list schema: %w", err)
	}
	return Parse(ListSchemaURL, raw)
}

// Resolve loads the schema at path, or falls back to ForList when path is
// empty.
func Resolve(path string) (*Schema, error) {
	if path == "" {
		return ForList()
	}
	return LoadFile(path)
}
