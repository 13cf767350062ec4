// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 plugscan Contributors

// Package goplugin runs plugin candidates as isolated child processes using
// HashiCorp's go-plugin system over gRPC and reads their catalogs.
package goplugin

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	hashiplug "github.com/hashicorp/go-plugin"

	catalogv1 "github.com/plugscan/plugscan/internal/rpc/catalogv1"
	"github.com/plugscan/plugscan/pkg/pluginsdk"
)

// DefaultStartTimeout bounds how long a candidate may take to complete the handshake.
const DefaultStartTimeout = 10 * time.Second

// Sentinel errors for programmatic error checking.
var (
	// ErrSandboxClosed is returned when describing in a closed sandbox.
	ErrSandboxClosed = errors.New("sandbox is closed")
	// ErrNotCatalog is returned when a plugin dispenses something other than a catalog.
	ErrNotCatalog = errors.New("plugin does not serve a catalog")
)

// PluginClient wraps go-plugin client for testability.
type PluginClient interface {
	// Client returns the gRPC client protocol, starting the process if needed.
	Client() (hashiplug.ClientProtocol, error)
	// Kill terminates the plugin process.
	Kill()
}

// ClientFactory creates plugin clients.
type ClientFactory interface {
	// NewClient creates a client for the given executable path.
	NewClient(execPath string) (PluginClient, error)
}

// DefaultClientFactory creates real go-plugin clients.
type DefaultClientFactory struct {
	// Logger receives the plugin's hclog output. Defaults to a null logger.
	Logger hclog.Logger
	// StartTimeout defaults to DefaultStartTimeout.
	StartTimeout time.Duration
}

// NewClient creates a real go-plugin client. The executable's checksum is
// pinned at creation so a file swapped before launch is refused.
func (f *DefaultClientFactory) NewClient(execPath string) (PluginClient, error) {
	sum, err := checksum(execPath)
	if err != nil {
		return nil, err
	}
	logger := f.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	timeout := f.StartTimeout
	if timeout <= 0 {
		timeout = DefaultStartTimeout
	}
	return hashiplug.NewClient(&hashiplug.ClientConfig{
		HandshakeConfig:  HandshakeConfig,
		Plugins:          PluginMap,
		Cmd:              exec.Command(execPath), // #nosec G204 -- execPath is a discovered plugin candidate
		AllowedProtocols: []hashiplug.Protocol{hashiplug.ProtocolGRPC},
		SecureConfig:     &hashiplug.SecureConfig{Checksum: sum, Hash: sha256.New()},
		StartTimeout:     timeout,
		Logger:           logger.Named("plugin"),
	}), nil
}

func checksum(path string) ([]byte, error) {
	f, err := os.Open(path) // #nosec G304 -- path is a discovered plugin candidate
	if err != nil {
		return nil, fmt.Errorf("open plugin %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return nil, fmt.Errorf("checksum plugin %s: %w", path, err)
	}
	return h.Sum(nil), nil
}

// Sandbox is an isolated context for describing plugins. Every process it
// launches is killed when its description completes or, at the latest, when
// the sandbox is closed. Nothing from a plugin is loaded into the host.
type Sandbox struct {
	factory ClientFactory
	mu      sync.Mutex
	active  map[PluginClient]struct{}
	closed  bool
}

// NewSandbox creates a sandbox launching plugins through factory.
// Panics if factory is nil.
func NewSandbox(factory ClientFactory) *Sandbox {
	if factory == nil {
		panic("goplugin: factory cannot be nil")
	}
	return &Sandbox{
		factory: factory,
		active:  make(map[PluginClient]struct{}),
	}
}

// Describe launches the plugin at path and returns its catalog.
func (s *Sandbox) Describe(ctx context.Context, path string) (*catalogv1.DescribeResponse, error) {
	client, err := s.launch(path)
	if err != nil {
		return nil, err
	}
	defer s.release(client)

	rpcClient, err := client.Client()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to plugin %s: %w", path, err)
	}

	raw, err := rpcClient.Dispense(pluginsdk.PluginName)
	if err != nil {
		return nil, fmt.Errorf("failed to dispense plugin %s: %w", path, err)
	}

	catalog, ok := raw.(catalogv1.CatalogClient)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotCatalog, path)
	}

	resp, err := catalog.Describe(ctx, &catalogv1.DescribeRequest{})
	if err != nil {
		return nil, fmt.Errorf("plugin %s Describe failed: %w", path, err)
	}
	return resp, nil
}

func (s *Sandbox) launch(path string) (PluginClient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrSandboxClosed
	}
	client, err := s.factory.NewClient(path)
	if err != nil {
		return nil, err
	}
	s.active[client] = struct{}{}
	return client, nil
}

func (s *Sandbox) release(client PluginClient) {
	s.mu.Lock()
	_, ok := s.active[client]
	delete(s.active, client)
	s.mu.Unlock()

	if ok {
		client.Kill()
	}
}

// Active returns the number of plugin processes currently owned by the sandbox.
func (s *Sandbox) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Close kills every process still running in the sandbox and refuses
// further launches. It is safe to call more than once.
func (s *Sandbox) Close() {
	s.mu.Lock()
	clients := make([]PluginClient, 0, len(s.active))
	for c := range s.active {
		clients = append(clients, c)
	}
	clear(s.active)
	s.closed = true
	s.mu.Unlock()

	for _, c := range clients {
		c.Kill()
	}
}
