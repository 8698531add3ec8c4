package document

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// coerce converts a raw document value to the canonical in-memory value of
// kind. The rules are deterministic and shared with toDocValue: numeric to
// numeric by value, numeric to string via canonical text, bool to string via
// case-insensitive "true"/"false", bool to numeric via zero/non-zero, and
// same-type passthrough.
func coerce(raw any, kind Kind) (any, error) {
	switch kind {
	case KindString:
		return asString(raw)
	case KindInt64:
		return asInt64(raw)
	case KindFloat64:
		return asFloat64(raw)
	case KindBool:
		return asBool(raw)
	case KindDecimal:
		return asDecimal(raw)
	case KindTimeMillis:
		millis, err := asInt64(raw)
		if err != nil {
			return nil, err
		}
		if millis == 0 {
			return time.Time{}, nil
		}
		return time.UnixMilli(millis).UTC(), nil
	default:
		return nil, fmt.Errorf("%w: unknown kind %d", ErrMapping, kind)
	}
}

// toDocValue converts a canonical in-memory value to the scalar stored in the
// document: strings, int64, float64 and bool pass through, decimals become
// float64 and times become epoch milliseconds.
func toDocValue(value any, kind Kind) (any, error) {
	switch kind {
	case KindString:
		return asString(value)
	case KindInt64:
		return asInt64(value)
	case KindFloat64:
		return asFloat64(value)
	case KindBool:
		return asBool(value)
	case KindDecimal:
		d, err := asDecimal(value)
		if err != nil {
			return nil, err
		}
		f, _ := d.Float64()
		return f, nil
	case KindTimeMillis:
		t, ok := value.(time.Time)
		if !ok {
			return nil, fmt.Errorf("%w: %T is not a time", ErrMapping, value)
		}
		if t.IsZero() {
			return int64(0), nil
		}
		return t.UnixMilli(), nil
	default:
		return nil, fmt.Errorf("%w: unknown kind %d", ErrMapping, kind)
	}
}

func asString(v any) (string, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case []byte:
		return string(x), nil
	case bool:
		return strconv.FormatBool(x), nil
	case int:
		return strconv.Itoa(x), nil
	case int32:
		return strconv.FormatInt(int64(x), 10), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32), nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	case decimal.Decimal:
		return x.String(), nil
	default:
		return "", fmt.Errorf("%w: %T is not string-convertible", ErrMapping, v)
	}
}

func asInt64(v any) (int64, error) {
	switch x := v.(type) {
	case int:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int64:
		return x, nil
	case uint:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case uint64:
		return int64(x), nil
	case float32:
		return int64(x), nil
	case float64:
		return int64(x), nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not an integer", ErrMapping, x)
		}
		return i, nil
	case decimal.Decimal:
		return x.IntPart(), nil
	default:
		return 0, fmt.Errorf("%w: %T is not an integer", ErrMapping, v)
	}
}

func asFloat64(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not a number", ErrMapping, x)
		}
		return f, nil
	case decimal.Decimal:
		f, _ := x.Float64()
		return f, nil
	default:
		return 0, fmt.Errorf("%w: %T is not a number", ErrMapping, v)
	}
}

func asBool(v any) (bool, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "true":
			return true, nil
		case "false":
			return false, nil
		default:
			return false, fmt.Errorf("%w: %q is not a boolean", ErrMapping, x)
		}
	case int:
		return x != 0, nil
	case int32:
		return x != 0, nil
	case int64:
		return x != 0, nil
	case float32:
		return x != 0, nil
	case float64:
		return x != 0, nil
	default:
		return false, fmt.Errorf("%w: %T is not a boolean", ErrMapping, v)
	}
}

func asDecimal(v any) (decimal.Decimal, error) {
	switch x := v.(type) {
	case decimal.Decimal:
		return x, nil
	case float64:
		return decimal.NewFromFloat(x), nil
	case float32:
		return decimal.NewFromFloat32(x), nil
	case int:
		return decimal.NewFromInt(int64(x)), nil
	case int32:
		return decimal.NewFromInt32(x), nil
	case int64:
		return decimal.NewFromInt(x), nil
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(x))
		if err != nil {
			return decimal.Zero, fmt.Errorf("%w: %q is not a decimal", ErrMapping, x)
		}
		return d, nil
	default:
		return decimal.Zero, fmt.Errorf("%w: %T is not a decimal", ErrMapping, v)
	}
}
