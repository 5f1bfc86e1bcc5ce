// Package output writes hydrated records in the formats the CLI supports.
package output

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
	"gopkg.in/yaml.v3"
)

// Encoder writes one record at a time. Close finishes the stream and must be
// called once after the last record; it does not close the underlying writer.
type Encoder interface {
	Encode(record map[string]any) error
	Close() error
}

// New returns an encoder for format: jsonl, json, yaml or msgpack.
// pretty indents json output and is ignored by the other formats.
func New(format string, w io.Writer, pretty bool) (Encoder, error) {
	switch format {
	case "jsonl", "":
		return &jsonLinesEncoder{enc: json.NewEncoder(w)}, nil
	case "json":
		return &jsonArrayEncoder{w: w, pretty: pretty}, nil
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		return &yamlEncoder{enc: enc}, nil
	case "msgpack":
		enc := msgpack.NewEncoder(w)
		enc.SetSortMapKeys(true)
		return &msgpackEncoder{enc: enc}, nil
	default:
		return nil, fmt.Errorf("unsupported output format %q", format)
	}
}

type jsonLinesEncoder struct {
	enc *json.Encoder
}

func (e *jsonLinesEncoder) Encode(record map[string]any) error {
	return e.enc.Encode(record)
}

func (e *jsonLinesEncoder) Close() error { return nil }

// jsonArrayEncoder streams records as the elements of one JSON array.
type jsonArrayEncoder struct {
	w      io.Writer
	pretty bool
	count  int
}

func (e *jsonArrayEncoder) Encode(record map[string]any) error {
	var (
		data []byte
		err  error
	)
	if e.pretty {
		data, err = json.MarshalIndent(record, "  ", "  ")
	} else {
		data, err = json.Marshal(record)
	}
	if err != nil {
		return err
	}

	sep := ",\n  "
	if e.count == 0 {
		sep = "[\n  "
	}
	e.count++
	if _, err := io.WriteString(e.w, sep); err != nil {
		return err
	}
	_, err = e.w.Write(data)
	return err
}

func (e *jsonArrayEncoder) Close() error {
	closing := "\n]\n"
	if e.count == 0 {
		closing = "[]\n"
	}
	_, err := io.WriteString(e.w, closing)
	return err
}

// yamlEncoder writes one YAML document per record.
type yamlEncoder struct {
	enc *yaml.Encoder
}

func (e *yamlEncoder) Encode(record map[string]any) error {
	return e.enc.Encode(record)
}

func (e *yamlEncoder) Close() error {
	return e.enc.Close()
}

// msgpackEncoder writes a stream of concatenated MessagePack maps.
type msgpackEncoder struct {
	enc *msgpack.Encoder
}

func (e *msgpackEncoder) Encode(record map[string]any) error {
	return e.enc.Encode(record)
}

func (e *msgpackEncoder) Close() error { return nil }
