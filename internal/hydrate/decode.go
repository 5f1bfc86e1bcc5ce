package hydrate

import (
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
)

// Decode copies a model into a struct whose fields carry `db` tags. Related models
// decode into nested struct, pointer or slice fields under the relation name.
// Input is weakly typed so driver values such as []byte-backed strings and int64
// columns land in narrower Go types.
func Decode[T any](m *Model) (T, error) {
	var out T
	if m == nil {
		return out, fmt.Errorf("cannot decode a nil model")
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "db",
		WeaklyTypedInput: true,
		Result:           &out,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeHookFunc(time.RFC3339),
			mapstructure.StringToTimeDurationHookFunc(),
		),
	})
	if err != nil {
		return out, fmt.Errorf("failed to create decoder for %s: %w", m.Entity, err)
	}
	if err := decoder.Decode(m.Map()); err != nil {
		return out, fmt.Errorf("failed to decode %s: %w", m.Entity, err)
	}
	return out, nil
}

// DecodeAll decodes every model in order.
func DecodeAll[T any](models []*Model) ([]T, error) {
	out := make([]T, 0, len(models))
	for _, m := range models {
		v, err := Decode[T](m)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
