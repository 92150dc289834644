package mcp

import (
	"context"
	"errors"
	"fmt"
	"os"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nvandessel/epistate/internal/events"
	"github.com/nvandessel/epistate/internal/immunity"
	"github.com/nvandessel/epistate/internal/snapshot"
	"github.com/nvandessel/epistate/internal/store"
)

// Store is the read side of the run store the tools query.
type Store interface {
	Runs(ctx context.Context) ([]store.Run, error)
	Snapshots(ctx context.Context, runID string) ([]store.SnapshotInfo, error)
	LoadSnapshot(ctx context.Context, runID string, day int) (*snapshot.State, error)
	LatestSnapshot(ctx context.Context, runID string) (*snapshot.State, error)
	Events(ctx context.Context, f store.EventFilter) ([]events.Event, error)
}

// Server wraps the MCP SDK server and exposes stored runs as tools.
type Server struct {
	server      *sdk.Server
	store       Store
	immunity    *immunity.Model
	beta        float64
	limiters    toolLimiters
	auditLogger *AuditLogger

	snapshotDirs []string
}

// Config holds server configuration.
type Config struct {
	Name    string // Server name (e.g., "epistate")
	Version string // Server version
	Store   Store
	// Immunity evaluates antibody levels; Beta converts them to protection.
	Immunity *immunity.Model
	Beta     float64
	// AuditDir receives audit.jsonl. Empty disables auditing.
	AuditDir string
	// SnapshotDirs are the directories epistate_export may write to. The
	// first is the default destination. Empty disables the tool.
	SnapshotDirs []string
}

// NewServer creates a new MCP server with epistate tools.
func NewServer(cfg *Config) (*Server, error) {
	if cfg.Store == nil {
		return nil, errors.New("mcp server needs a store")
	}
	if cfg.Immunity == nil {
		return nil, errors.New("mcp server needs an antibody model")
	}

	mcpServer := sdk.NewServer(&sdk.Implementation{
		Name:    cfg.Name,
		Version: cfg.Version,
	}, nil)

	s := &Server{
		server:   mcpServer,
		store:    cfg.Store,
		immunity: cfg.Immunity,
		beta:     cfg.Beta,
		limiters: newToolLimiters(),

		snapshotDirs: cfg.SnapshotDirs,
	}
	if cfg.AuditDir != "" {
		s.auditLogger = NewAuditLogger(cfg.AuditDir)
	}

	if err := s.registerTools(); err != nil {
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}
	s.registerResources()
	return s, nil
}

// Run starts the MCP server over stdio transport.
// This blocks until the client disconnects or the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	notifySignals(sigChan)
	go func() {
		select {
		case <-sigChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	err := s.server.Run(ctx, &sdk.StdioTransport{})
	if closeErr := s.Close(); err == nil {
		err = closeErr
	}
	return err
}

// Close releases the audit log. The store belongs to the caller.
func (s *Server) Close() error {
	return s.auditLogger.Close()
}
