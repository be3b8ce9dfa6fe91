// Package schema keeps the JSON schemas dirlister publishes: the settings
// file layout and the relay wire event.
package schema

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
)

// Provider builds the schema registered under a name.
type Provider func() *jsonschema.Schema

var (
	registryMu sync.RWMutex
	registry   = map[string]Provider{}

	cacheMu sync.RWMutex
	cache   = map[string]*jsonschema.Schema{}
)

// Register installs or replaces the provider under name.
func Register(name string, provider Provider) error {
	name = normalizeName(name)
	if name == "" {
		return fmt.Errorf("schema name is required for registration")
	}
	if provider == nil {
		return fmt.Errorf("schema provider is required")
	}

	registryMu.Lock()
	registry[name] = provider
	registryMu.Unlock()

	cacheMu.Lock()
	delete(cache, name)
	cacheMu.Unlock()
	return nil
}

// Resolve returns the schema for name, building it once.
func Resolve(name string) (*jsonschema.Schema, error) {
	name = normalizeName(name)
	if name == "" {
		return nil, fmt.Errorf("schema name is required for lookup")
	}

	cacheMu.RLock()
	if s, ok := cache[name]; ok {
		cacheMu.RUnlock()
		return s, nil
	}
	cacheMu.RUnlock()

	registryMu.RLock()
	provider, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown schema %q", name)
	}

	s := provider()
	cacheMu.Lock()
	cache[name] = s
	cacheMu.Unlock()
	return s, nil
}

// Names lists registered schema names in order.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Marshal renders the named schema as indented JSON.
func Marshal(name string) ([]byte, error) {
	s, err := Resolve(name)
	if err != nil {
		return nil, err
	}
	payload, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal schema %q: %w", name, err)
	}
	return append(payload, '\n'), nil
}

// Reflect builds an inlined schema for value that rejects unknown fields.
// Only fields tagged jsonschema:"required" are required.
func Reflect(value any, title, description string) *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties:  false,
		DoNotReference:             true,
		RequiredFromJSONSchemaTags: true,
	}
	s := reflector.Reflect(value)
	s.Title = title
	s.Description = description
	return s
}

// ClearCache drops every built schema.
func ClearCache() {
	cacheMu.Lock()
	cache = map[string]*jsonschema.Schema{}
	cacheMu.Unlock()
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
