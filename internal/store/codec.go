package store

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/jmehdipour/nyx-sync/internal/model"
)

// encodeValue converts a record field to the driver value for column c.
func encodeValue(d Dialect, c model.Column, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch c.Type {
	case model.TypeTimestamp:
		switch x := v.(type) {
		case time.Time:
			return d.BindTimestamp(x), nil
		case string:
			t, err := model.ParseTimestamp(x)
			if err != nil {
				return nil, fmt.Errorf("column %s: %w", c.Name, err)
			}
			return d.BindTimestamp(t), nil
		default:
			return nil, fmt.Errorf("column %s: timestamp from %T", c.Name, v)
		}

	case model.TypeJSON:
		if s, ok := v.(string); ok && json.Valid([]byte(s)) {
			return s, nil
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", c.Name, err)
		}
		return string(raw), nil

	case model.TypeInteger:
		switch x := v.(type) {
		case float64:
			if x != math.Trunc(x) {
				return nil, fmt.Errorf("column %s: %v is not an integer", c.Name, x)
			}
			return int64(x), nil
		case json.Number:
			return x.Int64()
		case string:
			return strconv.ParseInt(x, 10, 64)
		default:
			return v, nil
		}

	case model.TypeBoolean:
		switch x := v.(type) {
		case bool:
			return x, nil
		case float64:
			return x != 0, nil
		case string:
			return strconv.ParseBool(x)
		default:
			return v, nil
		}

	case model.TypeString, model.TypeText:
		switch x := v.(type) {
		case string:
			return x, nil
		default:
			return fmt.Sprint(x), nil
		}

	default:
		return v, nil
	}
}

// decodeValue normalises what a driver scanned back into the shape records
// carry regardless of the backing store.
func decodeValue(c model.Column, raw any) any {
	if raw == nil {
		return nil
	}
	if b, ok := raw.([]byte); ok {
		raw = string(b)
	}

	switch c.Type {
	case model.TypeTimestamp:
		switch x := raw.(type) {
		case time.Time:
			return model.FormatTimestamp(x)
		case string:
			if t, err := model.ParseTimestamp(x); err == nil {
				return model.FormatTimestamp(t)
			}
			return x
		}

	case model.TypeJSON:
		if s, ok := raw.(string); ok {
			var out any
			if err := json.Unmarshal([]byte(s), &out); err == nil {
				return out
			}
			return s
		}

	case model.TypeInteger:
		switch x := raw.(type) {
		case string:
			if n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64); err == nil {
				return n
			}
		case float64:
			return int64(x)
		case int32:
			return int64(x)
		}

	case model.TypeReal:
		switch x := raw.(type) {
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(x), 64); err == nil {
				return f
			}
		case int64:
			return float64(x)
		case float32:
			return float64(x)
		}

	case model.TypeBoolean:
		switch x := raw.(type) {
		case int64:
			return x != 0
		case string:
			if b, err := strconv.ParseBool(x); err == nil {
				return b
			}
		}
	}
	return raw
}
