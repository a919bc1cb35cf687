package mcpservice

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/NEARWEEK/MCP/mcp"
)

// ResourceRequest is the typed input to a resource handler.
type ResourceRequest struct {
	// URI is the full requested URI, query string included.
	URI string
	// Params holds the value extracted for a template's placeholder.
	Params map[string]string
	// Query holds the URI's query parameters.
	Query url.Values
}

// Param returns the named template parameter.
func (r *ResourceRequest) Param(name string) string { return r.Params[name] }

// ResourceHandler produces the contents of a resource.
type ResourceHandler func(ctx context.Context, req *ResourceRequest) ([]mcp.ResourceContents, error)

// ResourceOption configures a resource or template descriptor.
type ResourceOption func(*resourceConfig)

type resourceConfig struct {
	description string
	mimeType    string
}

// WithResourceDescription sets the listing description.
func WithResourceDescription(desc string) ResourceOption {
	return func(c *resourceConfig) { c.description = desc }
}

// WithResourceMimeType sets the declared content type.
func WithResourceMimeType(mt string) ResourceOption {
	return func(c *resourceConfig) { c.mimeType = mt }
}

// StaticResource is a resource addressed by one fixed URI. Query parameters
// on a read do not affect matching.
type StaticResource struct {
	Descriptor mcp.Resource
	Handler    ResourceHandler
}

// NewStaticResource builds a StaticResource.
func NewStaticResource(uri, name string, h ResourceHandler, opts ...ResourceOption) StaticResource {
	cfg := resourceConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	return StaticResource{
		Descriptor: mcp.Resource{URI: uri, Name: name, Description: cfg.description, MimeType: cfg.mimeType},
		Handler:    h,
	}
}

func (s StaticResource) match(uri string) (*ResourceRequest, bool) {
	path, query := splitQuery(uri)
	if path != stripQuery(s.Descriptor.URI) {
		return nil, false
	}
	return &ResourceRequest{URI: uri, Params: map[string]string{}, Query: query}, true
}

// ResourceTemplate is a resource family addressed by a URI template with a
// single {placeholder}, optionally followed by a fixed suffix, for example
// near://account/{accountId} or near://contract/{contractId}/readme.
type ResourceTemplate struct {
	Descriptor mcp.ResourceTemplate
	Handler    ResourceHandler

	prefix string
	param  string
	suffix string
}

// NewResourceTemplate parses uriTemplate and builds a ResourceTemplate.
func NewResourceTemplate(uriTemplate, name string, h ResourceHandler, opts ...ResourceOption) (ResourceTemplate, error) {
	open := strings.IndexByte(uriTemplate, '{')
	closing := strings.IndexByte(uriTemplate, '}')
	if open < 0 || closing < open+2 {
		return ResourceTemplate{}, fmt.Errorf("uri template %q must contain one {placeholder}", uriTemplate)
	}
	suffix := uriTemplate[closing+1:]
	if strings.ContainsAny(suffix, "{}") {
		return ResourceTemplate{}, fmt.Errorf("uri template %q must contain exactly one placeholder", uriTemplate)
	}
	cfg := resourceConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	return ResourceTemplate{
		Descriptor: mcp.ResourceTemplate{URITemplate: uriTemplate, Name: name, Description: cfg.description, MimeType: cfg.mimeType},
		Handler:    h,
		prefix:     uriTemplate[:open],
		param:      uriTemplate[open+1 : closing],
		suffix:     suffix,
	}, nil
}

// MustResourceTemplate is NewResourceTemplate for package-level catalogs;
// it panics on a malformed template.
func MustResourceTemplate(uriTemplate, name string, h ResourceHandler, opts ...ResourceOption) ResourceTemplate {
	t, err := NewResourceTemplate(uriTemplate, name, h, opts...)
	if err != nil {
		panic(err)
	}
	return t
}

// Match reports whether uri fits the template and extracts the parameter.
// The parameter is one non-empty path segment.
func (t ResourceTemplate) Match(uri string) (*ResourceRequest, bool) {
	path, query := splitQuery(uri)
	if !strings.HasPrefix(path, t.prefix) || !strings.HasSuffix(path, t.suffix) {
		return nil, false
	}
	if len(path) < len(t.prefix)+len(t.suffix) {
		return nil, false
	}
	value := path[len(t.prefix) : len(path)-len(t.suffix)]
	if value == "" || strings.Contains(value, "/") {
		return nil, false
	}
	if unescaped, err := url.PathUnescape(value); err == nil {
		value = unescaped
	}
	return &ResourceRequest{URI: uri, Params: map[string]string{t.param: value}, Query: query}, true
}

func stripQuery(uri string) string {
	path, _ := splitQuery(uri)
	return path
}

func splitQuery(uri string) (string, url.Values) {
	path, rawQuery, found := strings.Cut(uri, "?")
	if !found {
		return path, url.Values{}
	}
	q, err := url.ParseQuery(rawQuery)
	if err != nil {
		return path, url.Values{}
	}
	return path, q
}
