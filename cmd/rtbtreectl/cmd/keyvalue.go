package cmd

import (
	"fmt"
	"strconv"

	"github.com/ssargent/rtbtree/pkg/rtkey"
)

// parseKey converts a raw command-line key and an optional --type flag
// value into an rtkey.Value. typ defaults to "string".
func parseKey(raw, typ string) (rtkey.Value, error) {
	switch typ {
	case "", "string":
		return rtkey.String(raw), nil
	case "number":
		n, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return rtkey.Value{}, fmt.Errorf("invalid number %q: %w", raw, err)
		}
		return rtkey.Number(n), nil
	case "bool":
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return rtkey.Value{}, fmt.Errorf("invalid bool %q: %w", raw, err)
		}
		return rtkey.Bool(b), nil
	case "date":
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return rtkey.Value{}, fmt.Errorf("invalid date (epoch ms) %q: %w", raw, err)
		}
		return rtkey.Date(ms), nil
	default:
		return rtkey.Value{}, fmt.Errorf("unsupported key type %q", typ)
	}
}

// formatKey renders an rtkey.Value for display.
func formatKey(v rtkey.Value) string {
	switch v.Tag {
	case rtkey.TagString:
		return v.Str
	case rtkey.TagNumber:
		return strconv.FormatFloat(v.Num, 'g', -1, 64)
	case rtkey.TagBool:
		return strconv.FormatBool(v.Bool)
	case rtkey.TagDate:
		return strconv.FormatInt(v.DateMS, 10)
	default:
		return "<absent>"
	}
}
