package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/golobby/cast"

	"github.com/nerrad567/p2plant-ioc/internal/pv"
)

// errEmptyPayload is returned for a put message with no content.
var errEmptyPayload = errors.New("empty payload")

// decodePut extracts the request ID and raw value from a put payload for
// a PV of type t. JSON envelopes and bare JSON values are decoded with
// numbers kept exact; anything else is treated as text.
func decodePut(payload []byte, t pv.Type) (id string, raw any, err error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return "", nil, errEmptyPayload
	}

	switch payload[0] {
	case '{':
		var msg PutMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			return "", nil, fmt.Errorf("invalid put message: %w", err)
		}
		if len(msg.Value) == 0 {
			return msg.ID, nil, errors.New(`put message has no "value"`)
		}
		raw, err := decodeJSON(msg.Value)
		return msg.ID, raw, err
	case '[', '"':
		raw, err := decodeJSON(payload)
		return "", raw, err
	}

	raw, err = fromText(string(payload), t)
	return "", raw, err
}

func decodeJSON(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("invalid JSON value: %w", err)
	}
	return v, nil
}

// fromText converts a plain text payload. Enumerations accept either an
// index or the choice text; vectors accept comma or space separated
// elements.
func fromText(text string, t pv.Type) (any, error) {
	switch t.Kind {
	case pv.KindEnum:
		if idx, err := cast.FromType(text, reflect.TypeFor[int]()); err == nil {
			return idx, nil
		}
		return text, nil
	case pv.KindVector:
		fields := strings.FieldsFunc(text, func(r rune) bool {
			return r == ',' || r == ' ' || r == '\t'
		})
		out := make([]any, len(fields))
		for i, f := range fields {
			el, err := castElem(f, t.Elem)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			out[i] = el
		}
		return out, nil
	default:
		return castElem(text, t.Elem)
	}
}

// castElem parses one element. Numbers are parsed wide so range checks
// happen in one place, when the value is coerced to the PV's type.
func castElem(text string, e pv.Elem) (any, error) {
	if e == pv.Char {
		return text, nil
	}
	if v, err := cast.FromType(text, reflect.TypeFor[int64]()); err == nil {
		return v, nil
	}
	if v, err := cast.FromType(text, reflect.TypeFor[uint64]()); err == nil {
		return v, nil
	}
	return nil, fmt.Errorf("%w: %q is not a valid %s", pv.ErrTypeMismatch, text, e)
}
