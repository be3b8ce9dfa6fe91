// Package flatkeys flattens nested TOML or YAML documents into normalized
// dotted keys ("section.some-key").
package flatkeys

import (
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

type Store struct {
	flat map[string]any
}

func (s Store) Flat() map[string]any {
	flat := make(map[string]any, len(s.flat))
	for key, value := range s.flat {
		flat[key] = value
	}
	return flat
}

func DecodeTOML(data []byte) (Store, error) {
	raw := map[string]any{}
	if _, err := toml.Decode(string(data), &raw); err != nil {
		return Store{}, err
	}
	return FromRaw(raw), nil
}

func DecodeYAML(data []byte) (Store, error) {
	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Store{}, err
	}
	return FromRaw(raw), nil
}

// DecodeFile picks the decoder from the file extension. Anything that is not
// .yaml or .yml is read as TOML.
func DecodeFile(name string, data []byte) (Store, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		return DecodeYAML(data)
	default:
		return DecodeTOML(data)
	}
}

func FromRaw(raw map[string]any) Store {
	flat := make(map[string]any)
	flattenMap("", raw, flat)

	normalized := make(map[string]any, len(flat))
	keys := make([]string, 0, len(flat))
	for key := range flat {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		normalizedKey := NormalizeKey(key)
		if _, exists := normalized[normalizedKey]; exists {
			continue
		}
		normalized[normalizedKey] = flat[key]
	}

	return Store{flat: normalized}
}

func (s Store) GetBool(key string) (bool, bool) {
	value, ok := s.flat[NormalizeKey(key)]
	if !ok {
		return false, false
	}
	return AsBool(value)
}

func (s Store) GetInt(key string) (int64, bool) {
	value, ok := s.flat[NormalizeKey(key)]
	if !ok {
		return 0, false
	}
	return AsInt64(value)
}

func (s Store) GetString(key string) (string, bool) {
	value, ok := s.flat[NormalizeKey(key)]
	if !ok {
		return "", false
	}
	typed, ok := value.(string)
	return typed, ok
}

// NormalizeKey lowercases each dotted part and maps underscores to dashes.
func NormalizeKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return ""
	}
	parts := strings.Split(key, ".")
	for i, part := range parts {
		lowered := strings.ToLower(strings.TrimSpace(part))
		parts[i] = strings.ReplaceAll(lowered, "_", "-")
	}
	return strings.Join(parts, ".")
}

// AsBool accepts booleans and their string forms, as environment values
// arrive as strings.
func AsBool(value any) (bool, bool) {
	switch typed := value.(type) {
	case bool:
		return typed, true
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(typed))
		return parsed, err == nil
	}
	return false, false
}

func AsInt64(value any) (int64, bool) {
	switch typed := value.(type) {
	case int64:
		return typed, true
	case int:
		return int64(typed), true
	case int32:
		return int64(typed), true
	case uint64:
		return int64(typed), true
	case uint32:
		return int64(typed), true
	case float64:
		if typed == float64(int64(typed)) {
			return int64(typed), true
		}
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(typed), 10, 64)
		return parsed, err == nil
	}
	return 0, false
}

func AsFloat64(value any) (float64, bool) {
	switch typed := value.(type) {
	case float64:
		return typed, true
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(typed), 64)
		return parsed, err == nil
	}
	if parsed, ok := AsInt64(value); ok {
		return float64(parsed), true
	}
	return 0, false
}

// AsDuration accepts Go duration strings ("150ms") and bare integers, which
// are read as milliseconds.
func AsDuration(value any) (time.Duration, bool) {
	if text, ok := value.(string); ok {
		text = strings.TrimSpace(text)
		if parsed, err := time.ParseDuration(text); err == nil {
			return parsed, true
		}
	}
	if millis, ok := AsInt64(value); ok {
		return time.Duration(millis) * time.Millisecond, true
	}
	return 0, false
}

func flattenMap(prefix string, raw map[string]any, out map[string]any) {
	for key, value := range raw {
		flattenValue(joinKey(prefix, key), value, out)
	}
}

func flattenValue(key string, value any, out map[string]any) {
	switch typed := value.(type) {
	case map[string]any:
		flattenMap(key, typed, out)
	case map[any]any:
		converted := make(map[string]any, len(typed))
		for nestedKey, nestedValue := range typed {
			converted[fmt.Sprint(nestedKey)] = nestedValue
		}
		flattenMap(key, converted, out)
	default:
		out[key] = value
	}
}

func joinKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}
