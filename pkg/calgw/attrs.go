package calgw

import (
	"strconv"
	"time"
)

// Attribute helpers for the loosely typed JSON the services return. Numeric
// fields arrive as JSON numbers from ArcGIS but sometimes as strings from the
// CKAN DataStore; missing and null both map to nil.

func attrString(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func attrFloat(m map[string]any, key string) *float64 {
	switch v := m[key].(type) {
	case float64:
		return &v
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return &f
		}
	}
	return nil
}

func attrInt(m map[string]any, key string) *int {
	if f := attrFloat(m, key); f != nil {
		i := int(*f)
		return &i
	}
	return nil
}

// attrDate converts a millisecond epoch attribute to a YYYY-MM-DD string.
func attrDate(m map[string]any, key string) string {
	f := attrFloat(m, key)
	if f == nil {
		return ""
	}
	return time.UnixMilli(int64(*f)).UTC().Format("2006-01-02")
}
