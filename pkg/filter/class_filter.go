// Package filter classifies managed type names so reports can separate
// application types from the runtime and common libraries.
package filter

import (
	"strings"
	"sync"
)

// ClassCategory represents the category of a type.
type ClassCategory int

const (
	// CategoryUnknown is returned for empty names.
	CategoryUnknown ClassCategory = iota
	// CategoryPrimitive covers built-in value types, strings and arrays of them.
	CategoryPrimitive
	// CategoryRuntime covers the base class library and the runtime itself.
	CategoryRuntime
	// CategoryFramework covers widely used third-party libraries.
	CategoryFramework
	// CategoryApplication is everything else.
	CategoryApplication
)

// String returns the string representation of the category.
func (c ClassCategory) String() string {
	switch c {
	case CategoryPrimitive:
		return "primitive"
	case CategoryRuntime:
		return "runtime"
	case CategoryFramework:
		return "framework"
	case CategoryApplication:
		return "application"
	default:
		return "unknown"
	}
}

// ClassFilter classifies type names. It is safe for concurrent use.
type ClassFilter struct {
	mu sync.RWMutex

	primitives        map[string]bool
	runtimePrefixes   []string
	frameworkPrefixes []string
	// appPrefixes win over every other rule.
	appPrefixes []string

	cache     map[string]ClassCategory
	cacheSize int
}

// NewClassFilter creates a filter with the default rules.
func NewClassFilter() *ClassFilter {
	f := &ClassFilter{
		primitives: make(map[string]bool),
		cache:      make(map[string]ClassCategory),
		cacheSize:  10000,
	}
	for _, name := range []string{
		"System.Boolean", "System.Byte", "System.SByte", "System.Char",
		"System.Int16", "System.UInt16", "System.Int32", "System.UInt32",
		"System.Int64", "System.UInt64", "System.IntPtr", "System.UIntPtr",
		"System.Single", "System.Double", "System.Decimal", "System.String",
		"System.Object",
	} {
		f.primitives[name] = true
	}
	f.runtimePrefixes = []string{
		"System.", "Mono.", "Microsoft.", "Internal.", "<Module>", "<PrivateImplementationDetails>",
	}
	f.frameworkPrefixes = []string{
		"Newtonsoft.Json.", "NUnit.", "Xunit.", "log4net.", "Serilog.", "NLog.",
		"Npgsql.", "MySql.", "Castle.", "Autofac.", "Google.Protobuf.", "Grpc.",
		"Gtk.", "GLib.", "Xamarin.",
	}
	return f
}

// Classify returns the category of a type name.
func (f *ClassFilter) Classify(name string) ClassCategory {
	if name == "" {
		return CategoryUnknown
	}

	f.mu.RLock()
	if c, ok := f.cache[name]; ok {
		f.mu.RUnlock()
		return c
	}
	f.mu.RUnlock()

	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.classifyLocked(name)
	if len(f.cache) < f.cacheSize {
		f.cache[name] = c
	}
	return c
}

func (f *ClassFilter) classifyLocked(name string) ClassCategory {
	base := elementType(name)
	for _, p := range f.appPrefixes {
		if strings.HasPrefix(base, p) {
			return CategoryApplication
		}
	}
	if f.primitives[base] {
		return CategoryPrimitive
	}
	for _, p := range f.runtimePrefixes {
		if strings.HasPrefix(base, p) {
			return CategoryRuntime
		}
	}
	for _, p := range f.frameworkPrefixes {
		if strings.HasPrefix(base, p) {
			return CategoryFramework
		}
	}
	return CategoryApplication
}

// elementType strips generic arguments and array ranks, so
// "System.Collections.Generic.List`1<Shop.Order>[]" classifies as its
// generic definition and "System.Byte[,]" as System.Byte.
func elementType(name string) string {
	if i := strings.IndexByte(name, '<'); i > 0 {
		name = name[:i]
	}
	for strings.HasSuffix(name, "]") {
		i := strings.LastIndexByte(name, '[')
		if i <= 0 {
			break
		}
		name = name[:i]
	}
	return name
}

// IsPrimitive reports whether name is a built-in type or an array of one.
func (f *ClassFilter) IsPrimitive(name string) bool {
	return f.Classify(name) == CategoryPrimitive
}

// IsRuntime reports whether name belongs to the base class library.
func (f *ClassFilter) IsRuntime(name string) bool {
	return f.Classify(name) == CategoryRuntime
}

// IsApplication reports whether name is application code.
func (f *ClassFilter) IsApplication(name string) bool {
	return f.Classify(name) == CategoryApplication
}

// AddApplicationPrefix marks every type under prefix as application code,
// overriding the built-in rules.
func (f *ClassFilter) AddApplicationPrefix(prefix string) {
	if prefix == "" {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.appPrefixes {
		if p == prefix {
			return
		}
	}
	f.appPrefixes = append(f.appPrefixes, prefix)
	f.cache = make(map[string]ClassCategory)
}

// AddApplicationPrefixes adds several prefixes.
func (f *ClassFilter) AddApplicationPrefixes(prefixes []string) {
	for _, p := range prefixes {
		f.AddApplicationPrefix(p)
	}
}

// AddFrameworkPrefix adds a library namespace.
func (f *ClassFilter) AddFrameworkPrefix(prefix string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frameworkPrefixes = append(f.frameworkPrefixes, prefix)
	f.cache = make(map[string]ClassCategory)
}

// CacheStats returns the cache size and its limit.
func (f *ClassFilter) CacheStats() (size int, maxSize int) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.cache), f.cacheSize
}

// SetCacheSize sets the maximum cache size and clears the cache.
func (f *ClassFilter) SetCacheSize(size int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cacheSize = size
	f.cache = make(map[string]ClassCategory)
}

// DefaultFilter is the shared filter with the default rules.
var DefaultFilter = NewClassFilter()

// Classify classifies a type name using the default filter.
func Classify(name string) ClassCategory {
	return DefaultFilter.Classify(name)
}
