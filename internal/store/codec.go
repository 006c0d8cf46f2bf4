package store

import (
	"encoding/json"
	"fmt"

	"github.com/alexjbarnes/medsync/internal/models"
	"github.com/alexjbarnes/medsync/internal/resource"
	"golang.org/x/text/unicode/norm"
)

// encodeValue converts a row value into what the column stores. Strings
// are NFC-normalized so the same name typed on different keyboards
// compares equal.
func encodeValue(c resource.Column, v any) (any, error) {
	if v == nil {
		return nil, nil
	}

	switch c.Kind {
	case resource.KindText:
		switch s := v.(type) {
		case string:
			return norm.NFC.String(s), nil
		case models.SyncStatus:
			return string(s), nil
		}
	case resource.KindInt:
		if n, ok := models.ToInt64(v); ok {
			return n, nil
		}
	case resource.KindReal:
		switch n := v.(type) {
		case float64:
			return n, nil
		case float32:
			return float64(n), nil
		default:
			if i, ok := models.ToInt64(v); ok {
				return float64(i), nil
			}
		}
	case resource.KindBool:
		if b, ok := v.(bool); ok {
			if b {
				return int64(1), nil
			}

			return int64(0), nil
		}

		if n, ok := models.ToInt64(v); ok {
			if n != 0 {
				return int64(1), nil
			}

			return int64(0), nil
		}
	case resource.KindJSON:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("column %s: encoding json: %w", c.Name, err)
		}

		return string(data), nil
	}

	return nil, fmt.Errorf("column %s: unsupported value of type %T", c.Name, v)
}

// decodeValue converts a scanned SQLite value back into the row form.
func decodeValue(c resource.Column, raw any) (any, error) {
	if b, ok := raw.([]byte); ok {
		raw = string(b)
	}

	if raw == nil {
		return nil, nil
	}

	switch c.Kind {
	case resource.KindInt:
		if n, ok := models.ToInt64(raw); ok {
			return n, nil
		}
	case resource.KindReal:
		switch n := raw.(type) {
		case float64:
			return n, nil
		case int64:
			return float64(n), nil
		}
	case resource.KindBool:
		if n, ok := models.ToInt64(raw); ok {
			return n != 0, nil
		}
	case resource.KindText:
		if s, ok := raw.(string); ok {
			return s, nil
		}
	case resource.KindJSON:
		s, ok := raw.(string)
		if !ok {
			break
		}

		var v any
		if err := json.Unmarshal([]byte(s), &v); err != nil {
			return nil, fmt.Errorf("column %s: decoding json: %w", c.Name, err)
		}

		return v, nil
	}

	return nil, fmt.Errorf("column %s: unexpected stored type %T", c.Name, raw)
}
