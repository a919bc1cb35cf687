package mcpservice

import (
	"fmt"

	"github.com/NEARWEEK/MCP/mcp"
)

// Family is a named group of capabilities registered together. Families are
// ordered: when two claim the same tool name or resource URI, the family
// registered first wins.
type Family struct {
	Name      string
	Tools     []Tool
	Resources []StaticResource
	Templates []ResourceTemplate
}

// Shadow records a capability hidden by an earlier family's claim.
type Shadow struct {
	Kind   string // "tool", "resource" or "template"
	Name   string
	Family string
	Winner string
}

type toolEntry struct {
	tool   Tool
	family string
}

// Registry is the immutable capability catalog shared by every transport.
// It is safe for concurrent use.
type Registry struct {
	tools     []toolEntry
	toolIndex map[string]int
	resources []StaticResource
	templates []ResourceTemplate
	shadowed  []Shadow
}

// NewRegistry builds a Registry from families in precedence order. A family
// that declares the same tool name, resource URI or template twice is a
// programming error and is reported.
func NewRegistry(families ...Family) (*Registry, error) {
	r := &Registry{toolIndex: make(map[string]int)}
	resourceOwner := map[string]string{}
	templateOwner := map[string]string{}

	for _, fam := range families {
		seen := map[string]bool{}
		for _, t := range fam.Tools {
			name := t.Descriptor.Name
			if name == "" || t.Handler == nil {
				return nil, fmt.Errorf("family %q: tool %q must have a name and handler", fam.Name, name)
			}
			if seen["tool:"+name] {
				return nil, fmt.Errorf("family %q: duplicate tool %q", fam.Name, name)
			}
			seen["tool:"+name] = true
			if idx, taken := r.toolIndex[name]; taken {
				r.shadowed = append(r.shadowed, Shadow{Kind: "tool", Name: name, Family: fam.Name, Winner: r.tools[idx].family})
				continue
			}
			r.toolIndex[name] = len(r.tools)
			r.tools = append(r.tools, toolEntry{tool: t, family: fam.Name})
		}

		for _, res := range fam.Resources {
			uri := stripQuery(res.Descriptor.URI)
			if uri == "" || res.Handler == nil {
				return nil, fmt.Errorf("family %q: resource %q must have a URI and handler", fam.Name, uri)
			}
			if seen["res:"+uri] {
				return nil, fmt.Errorf("family %q: duplicate resource %q", fam.Name, uri)
			}
			seen["res:"+uri] = true
			if owner, taken := resourceOwner[uri]; taken {
				r.shadowed = append(r.shadowed, Shadow{Kind: "resource", Name: uri, Family: fam.Name, Winner: owner})
				continue
			}
			resourceOwner[uri] = fam.Name
			r.resources = append(r.resources, res)
		}

		for _, tpl := range fam.Templates {
			key := tpl.Descriptor.URITemplate
			if key == "" || tpl.Handler == nil || tpl.prefix == "" {
				return nil, fmt.Errorf("family %q: template %q must be built with NewResourceTemplate", fam.Name, key)
			}
			if seen["tpl:"+key] {
				return nil, fmt.Errorf("family %q: duplicate template %q", fam.Name, key)
			}
			seen["tpl:"+key] = true
			if owner, taken := templateOwner[key]; taken {
				r.shadowed = append(r.shadowed, Shadow{Kind: "template", Name: key, Family: fam.Name, Winner: owner})
				continue
			}
			templateOwner[key] = fam.Name
			r.templates = append(r.templates, tpl)
		}
	}
	return r, nil
}

// Tools lists tool descriptors in registration order.
func (r *Registry) Tools() []mcp.Tool {
	out := make([]mcp.Tool, len(r.tools))
	for i, e := range r.tools {
		out[i] = e.tool.Descriptor
	}
	return out
}

// Resources lists static resource descriptors in registration order.
func (r *Registry) Resources() []mcp.Resource {
	out := make([]mcp.Resource, len(r.resources))
	for i, res := range r.resources {
		out[i] = res.Descriptor
	}
	return out
}

// ResourceTemplates lists template descriptors in registration order.
func (r *Registry) ResourceTemplates() []mcp.ResourceTemplate {
	out := make([]mcp.ResourceTemplate, len(r.templates))
	for i, t := range r.templates {
		out[i] = t.Descriptor
	}
	return out
}

// Shadowed lists capabilities hidden by earlier families.
func (r *Registry) Shadowed() []Shadow {
	return append([]Shadow(nil), r.shadowed...)
}

// Tool returns the winning tool for name and the family that owns it.
func (r *Registry) Tool(name string) (Tool, string, bool) {
	idx, ok := r.toolIndex[name]
	if !ok {
		return Tool{}, "", false
	}
	e := r.tools[idx]
	return e.tool, e.family, true
}

// ResolveResource matches uri against static resources, then templates, in
// registration order.
func (r *Registry) ResolveResource(uri string) (ResourceHandler, *ResourceRequest, bool) {
	for _, res := range r.resources {
		if req, ok := res.match(uri); ok {
			return res.Handler, req, true
		}
	}
	for _, tpl := range r.templates {
		if req, ok := tpl.Match(uri); ok {
			return tpl.Handler, req, true
		}
	}
	return nil, nil, false
}
