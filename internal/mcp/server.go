// Package mcp exposes vault metadata to AI agents over the Model Context
// Protocol. Tools report titles, folders and counts; payloads never leave
// the process.
package mcp

import (
	"context"
	"errors"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/forest6511/nimbusvault/pkg/audit"
	"github.com/forest6511/nimbusvault/pkg/vault"
	"github.com/forest6511/nimbusvault/pkg/weather"
)

// Version is reported to clients in the initialize handshake.
const Version = "0.1.0"

// Server is an MCP server bound to one unlocked vault.
type Server struct {
	server    *mcp.Server
	vault     *vault.Vault
	locations weather.LocationStore
	policy    *Policy
	logger    *slog.Logger
	tools     []string
}

// Option configures a Server.
type Option func(*Server)

// WithPolicy replaces the policy loaded from the vault directory.
func WithPolicy(p *Policy) Option {
	return func(s *Server) { s.policy = p }
}

// WithLocations enables weather_list_locations.
func WithLocations(l weather.LocationStore) Option {
	return func(s *Server) { s.locations = l }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// NewServer builds a server for v. Unless WithPolicy is given, the policy
// is read from the vault directory; a missing file means DefaultPolicy and
// any other load failure is an error.
func NewServer(v *vault.Vault, opts ...Option) (*Server, error) {
	s := &Server{vault: v, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	if s.policy == nil {
		p, err := LoadPolicy(v.Dir())
		switch {
		case errors.Is(err, ErrPolicyNotFound):
			p = DefaultPolicy()
		case err != nil:
			return nil, err
		}
		s.policy = p
	}

	s.server = mcp.NewServer(&mcp.Implementation{Name: "nimbusvault", Version: Version}, nil)
	s.registerTools()
	return s, nil
}

// register adds a tool when the policy allows it.
func register[In, Out any](s *Server, name, description string, h mcp.ToolHandlerFor[In, Out]) {
	if allowed, reason := s.policy.IsToolAllowed(name); !allowed {
		s.logger.Debug("mcp tool disabled", slog.String("tool", name), slog.String("reason", reason))
		return
	}
	mcp.AddTool(s.server, &mcp.Tool{Name: name, Description: description}, h)
	s.tools = append(s.tools, name)
}

func (s *Server) registerTools() {
	register(s, ToolCounts,
		"Count items by type, starred items, folders and trash entries.",
		s.handleCounts)
	register(s, ToolListItems,
		"List item metadata, optionally filtered by type (note, credential, document, other), folder path, root-only or starred-only. Does NOT return payloads.",
		s.handleListItems)
	register(s, ToolSearch,
		"Search item titles by substring (case-insensitive). Does NOT return payloads.",
		s.handleSearch)
	register(s, ToolRecent,
		"List the most recently opened items. Does NOT return payloads.",
		s.handleRecent)
	register(s, ToolListFolders,
		"List every folder with its full path and item counts.",
		s.handleListFolders)
	register(s, ToolListTrash,
		"List trash entries with their deletion time.",
		s.handleListTrash)
	if s.locations != nil {
		register(s, ToolListLocations,
			"List saved weather locations and which one is the default.",
			s.handleListLocations)
	}
	register(s, ToolPasswordHealth,
		"Rate password and token fields of credentials and report reused values by title. Values are never returned.",
		s.handlePasswordHealth)
}

// Tools returns the names of the registered tools.
func (s *Server) Tools() []string { return s.tools }

// Run serves over stdio until ctx ends or the client disconnects. The
// vault is locked on return.
func (s *Server) Run(ctx context.Context) error {
	defer s.vault.Lock(audit.WithSource(context.Background(), audit.SourceMCP))
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// Connect serves over an arbitrary transport and returns the session.
func (s *Server) Connect(ctx context.Context, t mcp.Transport) (*mcp.ServerSession, error) {
	return s.server.Connect(ctx, t, nil)
}

// Close locks the vault.
func (s *Server) Close() error {
	s.vault.Lock(audit.WithSource(context.Background(), audit.SourceMCP))
	return nil
}
