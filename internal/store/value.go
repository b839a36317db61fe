package store

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
)

// encodeValue serializes a runtime value to its storage string and infers
// the DataType tag. Precedence: bool, number, array, object, then string
// as the catch-all.
func encodeValue(v any) (string, DataType, error) {
	switch x := v.(type) {
	case bool:
		return strconv.FormatBool(x), TypeBool, nil
	case int:
		return strconv.FormatInt(int64(x), 10), TypeNumber, nil
	case int32:
		return strconv.FormatInt(int64(x), 10), TypeNumber, nil
	case int64:
		return strconv.FormatInt(x, 10), TypeNumber, nil
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32), TypeNumber, nil
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64), TypeNumber, nil
	case json.Number:
		return x.String(), TypeNumber, nil
	case string:
		return x, TypeString, nil
	case nil:
		return "", TypeString, fmt.Errorf("cannot store nil value")
	}

	switch rv := reflect.ValueOf(v); rv.Kind() {
	case reflect.Slice, reflect.Array:
		raw, err := json.Marshal(v)
		if err != nil {
			return "", "", fmt.Errorf("encode array: %w", err)
		}
		return string(raw), TypeArray, nil
	case reflect.Map, reflect.Struct:
		raw, err := json.Marshal(v)
		if err != nil {
			return "", "", fmt.Errorf("encode object: %w", err)
		}
		return string(raw), TypeObject, nil
	case reflect.Pointer:
		if rv.IsNil() {
			return "", TypeString, fmt.Errorf("cannot store nil value")
		}
		return encodeValue(rv.Elem().Interface())
	}

	// Anything else is stored by its string form.
	return fmt.Sprint(v), TypeString, nil
}

// decodeValue reconstructs a typed value from its storage string.
func decodeValue(raw string, dt DataType) (any, error) {
	switch dt {
	case TypeString:
		return raw, nil
	case TypeBool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("decode bool %q: %w", raw, err)
		}
		return b, nil
	case TypeNumber:
		n, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("decode number %q: %w", raw, err)
		}
		return n, nil
	case TypeArray:
		var out []any
		if err := json.Unmarshal([]byte(raw), &out); err != nil {
			return nil, fmt.Errorf("decode array: %w", err)
		}
		return out, nil
	case TypeObject:
		var out map[string]any
		if err := json.Unmarshal([]byte(raw), &out); err != nil {
			return nil, fmt.Errorf("decode object: %w", err)
		}
		return out, nil
	}
	return nil, fmt.Errorf("unknown data type %q", dt)
}
