// Package mcpserver exposes the acquisition knowledge base over the Model
// Context Protocol so other assistants can search and read templates.
package mcpserver

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"

	"github.com/jonbmost/acquisition-assistant/internal/knowledge"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ResourcePrefix prefixes every knowledge-base resource URI.
const ResourcePrefix = "acquisition://knowledge-base/"

// FARReference is the knowledge-base document get_far_guidance returns.
const FARReference = "FAR-Quick-Reference"

const farFooter = "\n\n---\n\nFor more detailed information, consult:\n" +
	"- Federal Acquisition Regulation: https://www.acquisition.gov/browse/index/far\n" +
	"- FAR Overhaul: https://www.acquisition.gov/far-overhaul"

// SearchArgs are the search_knowledge_base arguments.
type SearchArgs struct {
	Query string `json:"query" jsonschema:"Search query to find relevant information in the knowledge base"`
}

// TemplateArgs are the get_template arguments.
type TemplateArgs struct {
	TemplateName string `json:"template_name" jsonschema:"Name of the template, e.g. PWS Template, QASP-Template, SOO Template"`
}

// GuidanceArgs are the get_far_guidance arguments.
type GuidanceArgs struct {
	Topic string `json:"topic" jsonschema:"The FAR topic or regulation you need guidance on, e.g. agile contracting or commercial items"`
}

// ListArgs are the (empty) list_templates arguments.
type ListArgs struct{}

// Server serves one knowledge base.
type Server struct {
	kb     *knowledge.Base
	logger *slog.Logger
	mcp    *mcp.Server
}

// New builds an MCP server with the knowledge-base resources and tools
// registered.
func New(kb *knowledge.Base, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Server{
		kb:     kb,
		logger: logger.With("component", "mcpserver"),
		mcp: mcp.NewServer(&mcp.Implementation{
			Name:    "acquisition-assistant",
			Version: version,
		}, nil),
	}

	for _, doc := range kb.Templates() {
		s.mcp.AddResource(&mcp.Resource{
			URI:         ResourceURI(doc.Name),
			Name:        DisplayName(doc.Name),
			Description: "Federal acquisition template/reference: " + doc.Title(),
			MIMEType:    "text/markdown",
		}, s.readResource)
	}

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search_knowledge_base",
		Description: "Search through federal acquisition templates and references for specific information",
	}, s.search)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get_template",
		Description: "Retrieve a specific federal acquisition template or reference document",
	}, s.getTemplate)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get_far_guidance",
		Description: "Get guidance on Federal Acquisition Regulation (FAR) topics and compliance",
	}, s.farGuidance)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "list_templates",
		Description: "List all available federal acquisition templates and references",
	}, s.listTemplates)

	return s
}

// MCP returns the underlying server, for callers that connect their own
// transport.
func (s *Server) MCP() *mcp.Server { return s.mcp }

// RunStdio serves over stdin/stdout until ctx ends or the client hangs up.
func (s *Server) RunStdio(ctx context.Context) error {
	s.logger.Info("mcp server running on stdio", "resources", len(s.kb.Templates()))
	return s.mcp.Run(ctx, &mcp.StdioTransport{})
}

// ResourceURI returns the resource URI of a knowledge-base file.
func ResourceURI(name string) string {
	return ResourcePrefix + url.PathEscape(name)
}

// DisplayName turns "FAR-Quick-Reference.md" into "FAR Quick Reference".
func DisplayName(name string) string {
	return strings.ReplaceAll(strings.TrimSuffix(name, ".md"), "-", " ")
}

func (s *Server) readResource(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	uri := req.Params.URI
	rest, ok := strings.CutPrefix(uri, ResourcePrefix)
	if !ok {
		return nil, mcp.ResourceNotFoundError(uri)
	}
	name, err := url.PathUnescape(rest)
	if err != nil {
		return nil, mcp.ResourceNotFoundError(uri)
	}
	doc, err := s.kb.Lookup(name)
	if err != nil {
		return nil, mcp.ResourceNotFoundError(uri)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{URI: uri, MIMEType: "text/markdown", Text: doc.Content}},
	}, nil
}

func (s *Server) search(ctx context.Context, req *mcp.CallToolRequest, args SearchArgs) (*mcp.CallToolResult, any, error) {
	query := strings.ToLower(strings.TrimSpace(args.Query))
	if query == "" {
		return nil, nil, fmt.Errorf("query is required")
	}
	s.logger.Debug("search", "query", query)
	return textResult(FormatSearch(query, s.kb.Search(query))), nil, nil
}

// FormatSearch renders search matches the way the tool reports them.
func FormatSearch(query string, matches []knowledge.Match) string {
	if len(matches) == 0 {
		return fmt.Sprintf("No matches found for \"%s\"", query)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d file(s) with matches for \"%s\":\n\n", len(matches), query)
	for i, m := range matches {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "**%s**:", m.File)
		for _, line := range m.Lines {
			sb.WriteString("\n  - " + line)
		}
	}
	return sb.String()
}

func (s *Server) getTemplate(ctx context.Context, req *mcp.CallToolRequest, args TemplateArgs) (*mcp.CallToolResult, any, error) {
	name := strings.TrimSpace(args.TemplateName)
	doc, err := s.kb.Lookup(name)
	if err != nil {
		return nil, nil, fmt.Errorf("template %q: %w", name, err)
	}
	return textResult(fmt.Sprintf("# %s\n\n%s", name, doc.Content)), nil, nil
}

func (s *Server) farGuidance(ctx context.Context, req *mcp.CallToolRequest, args GuidanceArgs) (*mcp.CallToolResult, any, error) {
	doc, err := s.kb.Lookup(FARReference)
	if err != nil {
		return nil, nil, fmt.Errorf("FAR reference: %w", err)
	}
	return textResult(fmt.Sprintf("# FAR Guidance on: %s\n\n%s%s", args.Topic, doc.Content, farFooter)), nil, nil
}

func (s *Server) listTemplates(ctx context.Context, req *mcp.CallToolRequest, _ ListArgs) (*mcp.CallToolResult, any, error) {
	var sb strings.Builder
	sb.WriteString("Available Federal Acquisition Templates and References:\n")
	for i, doc := range s.kb.Templates() {
		fmt.Fprintf(&sb, "\n%d. %s", i+1, DisplayName(doc.Name))
	}
	return textResult(sb.String()), nil, nil
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}
}
