package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ErrCorrupt indicates a checkpoint that cannot be trusted. Restore refuses
// to start the engine rather than guess at partially applied state.
var ErrCorrupt = errors.New("checkpoint corrupt")

// manifestSchema validates the manifest shape before any field is trusted.
const manifestSchema = `{
  "type": "object",
  "required": ["version", "batch_id", "variant", "created_at", "state_codec", "queries", "ledger"],
  "properties": {
    "version":     {"type": "integer", "minimum": 1},
    "batch_id":    {"type": "integer", "minimum": 0},
    "variant":     {"type": "string", "minLength": 1},
    "created_at":  {"type": "string", "minLength": 1},
    "state_codec": {"type": "string", "minLength": 1},
    "queries":     {"type": "array", "items": {"type": "string"}},
    "ledger": {
      "type": "object",
      "required": ["committed", "quarantined"],
      "properties": {
        "committed":   {"type": "object", "additionalProperties": {"type": "integer"}},
        "quarantined": {"type": "object", "additionalProperties": {"type": "string"}}
      }
    }
  }
}`

// parseManifest validates raw manifest bytes against the embedded JSON
// schema, then unmarshals. Any schema violation reports ErrCorrupt.
func parseManifest(raw []byte) (*Manifest, error) {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(manifestSchema),
		gojsonschema.NewBytesLoader(raw),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: manifest is not valid JSON: %w", ErrCorrupt, err)
	}

	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}

		return nil, fmt.Errorf("%w: manifest schema violation: %s", ErrCorrupt, strings.Join(details, "; "))
	}

	var manifest Manifest

	unmarshalErr := json.Unmarshal(raw, &manifest)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("%w: unmarshal manifest: %w", ErrCorrupt, unmarshalErr)
	}

	return &manifest, nil
}
