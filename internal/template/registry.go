// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package template

import "strings"

// Registry looks up a Template by protocol name, falling back to the
// single pkt_data template for unregistered protocols (spec.md §4.4).
type Registry struct {
	templates map[string]*Template
	fallback  *Template
}

// NewRegistry builds the registry of built-in protocol templates.
func NewRegistry() *Registry {
	return &Registry{
		templates: map[string]*Template{
			"http": newHTTP(),
			"sip":  newSIP(),
		},
		fallback: newFallback(),
	}
}

// Lookup returns the named protocol's template, or the fallback template if
// name is unregistered. Lookup is case-insensitive.
func (r *Registry) Lookup(name string) *Template {
	if t, ok := r.templates[strings.ToLower(name)]; ok {
		return t
	}
	return r.fallback
}
