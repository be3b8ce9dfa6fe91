// Package fileitem defines the immutable value describing one directory entry.
package fileitem

import (
	"io/fs"
	"sort"
	"strings"
	"time"
)

type Kind string

const (
	KindUnknown Kind = "unknown"
	KindFile    Kind = "file"
	KindDir     Kind = "dir"
	KindSymlink Kind = "symlink"
	KindOther   Kind = "other"
)

// KindFromMode maps a file mode to a Kind.
func KindFromMode(mode fs.FileMode) Kind {
	switch {
	case mode&fs.ModeSymlink != 0:
		return KindSymlink
	case mode.IsDir():
		return KindDir
	case mode.IsRegular():
		return KindFile
	default:
		return KindOther
	}
}

// Item is one directory entry. Values are never mutated after construction;
// an update replaces the whole Item.
type Item struct {
	Name       string
	Kind       Kind
	Size       int64
	Mode       fs.FileMode
	ModTime    time.Time
	AccessTime time.Time
	Owner      string
	Group      string
	LinkTarget string
	Attrs      Attributes
}

func (item Item) IsDir() bool {
	return item.Kind == KindDir
}

// IsHidden reports a dotfile name.
func (item Item) IsHidden() bool {
	return strings.HasPrefix(item.Name, ".") && item.Name != "." && item.Name != ".."
}

// IsZero reports whether item carries no name.
func (item Item) IsZero() bool {
	return item.Name == ""
}

// Changed reports whether other differs from item in any metadata callers
// can observe. Names are not compared.
func (item Item) Changed(other Item) bool {
	if item.Kind != other.Kind ||
		item.Size != other.Size ||
		item.Mode != other.Mode ||
		!item.ModTime.Equal(other.ModTime) ||
		!item.AccessTime.Equal(other.AccessTime) ||
		item.Owner != other.Owner ||
		item.Group != other.Group ||
		item.LinkTarget != other.LinkTarget {
		return true
	}
	return !item.Attrs.Equal(other.Attrs)
}

// WithName returns a copy of item renamed to name.
func (item Item) WithName(name string) Item {
	item.Name = name
	return item
}

// Value is either numeric or a string.
type Value struct {
	num   int64
	str   string
	isNum bool
}

func Int(v int64) Value     { return Value{num: v, isNum: true} }
func String(v string) Value { return Value{str: v} }

func (v Value) IsNumber() bool { return v.isNum }

func (v Value) Int() (int64, bool) {
	return v.num, v.isNum
}

func (v Value) Str() (string, bool) {
	return v.str, !v.isNum
}

// Attributes is an immutable key/value bag for protocol specific metadata.
// The zero value is empty and ready to use.
type Attributes struct {
	values map[string]Value
}

// NewAttributes copies values into a new bag.
func NewAttributes(values map[string]Value) Attributes {
	if len(values) == 0 {
		return Attributes{}
	}
	copied := make(map[string]Value, len(values))
	for key, value := range values {
		copied[key] = value
	}
	return Attributes{values: copied}
}

func (a Attributes) Len() int {
	return len(a.values)
}

func (a Attributes) Get(key string) (Value, bool) {
	value, ok := a.values[key]
	return value, ok
}

// With returns a new bag with key set; a is left unchanged.
func (a Attributes) With(key string, value Value) Attributes {
	copied := make(map[string]Value, len(a.values)+1)
	for k, v := range a.values {
		copied[k] = v
	}
	copied[key] = value
	return Attributes{values: copied}
}

// Keys returns the keys in sorted order.
func (a Attributes) Keys() []string {
	keys := make([]string, 0, len(a.values))
	for key := range a.values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func (a Attributes) Equal(other Attributes) bool {
	if len(a.values) != len(other.values) {
		return false
	}
	for key, value := range a.values {
		otherValue, ok := other.values[key]
		if !ok || otherValue != value {
			return false
		}
	}
	return true
}
