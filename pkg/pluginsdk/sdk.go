// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 plugscan Contributors

// Package pluginsdk provides the SDK for building plugscan plugins.
//
// A plugin is an executable that registers its composable parts and serves a
// catalog describing them. The plugscan host never loads the plugin into its
// own process: it launches the executable through HashiCorp go-plugin, asks
// for the catalog over gRPC and kills the process again.
//
// Example usage:
//
//	package main
//
//	import "github.com/plugscan/plugscan/pkg/pluginsdk"
//
//	type Greeter interface{ Greet(name string) string }
//
//	type English struct {
//		Log Logger `plugin:"import,contract=logger,optional"`
//	}
//
//	func (e *English) Greet(name string) string { return "Hello, " + name }
//
//	func main() {
//		pluginsdk.Serve(&pluginsdk.ServeConfig{
//			Parts: []pluginsdk.Part{{
//				Value:   (*English)(nil),
//				Exports: []pluginsdk.Export{{Contract: "greeter", Capability: (*Greeter)(nil)}},
//			}},
//		})
//	}
package pluginsdk

import (
	"context"
	"errors"
	"os"

	"github.com/hashicorp/go-hclog"
	hashiplug "github.com/hashicorp/go-plugin"
	"google.golang.org/grpc"

	catalogv1 "github.com/plugscan/plugscan/internal/rpc/catalogv1"
)

// Version is the SDK version reported to the host with every catalog.
const Version = "1.0.0"

// PluginName is the name the catalog is dispensed under.
const PluginName = "catalog"

// HandshakeConfig is the go-plugin handshake configuration.
// Both host and plugins must use the same values.
var HandshakeConfig = hashiplug.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "PLUGSCAN_PLUGIN",
	MagicCookieValue: "plugscan-catalog-v1",
}

// Export declares a capability a part provides.
type Export struct {
	// Contract names the export. Defaults to the capability's full name.
	Contract string
	// Capability is a nil pointer to the interface the part provides, e.g.
	// (*Greeter)(nil). Nil exports the part's own type.
	Capability any
}

// Part registers a composable type.
type Part struct {
	// Value is a value or typed nil pointer of the part's struct type.
	Value   any
	Exports []Export
}

// ServeConfig configures the plugin server.
type ServeConfig struct {
	// Parts are the composable types of the plugin.
	Parts []Part
	// Types are additional exported types to describe that are not parts.
	Types []any
	// Logger receives SDK diagnostics. Defaults to Logger().
	Logger hclog.Logger
}

// Logger returns an hclog logger writing JSON lines to stderr. go-plugin
// forwards these lines to the host's log as structured records.
func Logger() hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:       "plugin",
		Level:      hclog.Trace,
		Output:     os.Stderr,
		JSONFormat: true,
	})
}

// Serve describes the configured parts and serves the catalog. This should
// be called from main(). It blocks and never returns under normal operation.
func Serve(config *ServeConfig) {
	if config == nil {
		panic("pluginsdk: config cannot be nil")
	}
	if len(config.Parts) == 0 && len(config.Types) == 0 {
		panic("pluginsdk: config must register at least one part or type")
	}
	logger := config.Logger
	if logger == nil {
		logger = Logger()
	}

	catalog := Describe(config)
	for _, d := range catalog.Diagnostics {
		logDiagnostic(logger, d)
	}

	hashiplug.Serve(&hashiplug.ServeConfig{
		HandshakeConfig: HandshakeConfig,
		Plugins: map[string]hashiplug.Plugin{
			PluginName: &grpcPlugin{server: &catalogServer{catalog: catalog}},
		},
		GRPCServer: hashiplug.DefaultGRPCServer,
		Logger:     logger,
	})
}

func logDiagnostic(logger hclog.Logger, d catalogv1.Diagnostic) {
	args := make([]any, 0, 2*len(d.Attrs))
	for k, v := range d.Attrs {
		args = append(args, k, v)
	}
	switch d.Level {
	case catalogv1.LevelError:
		logger.Error(d.Message, args...)
	case catalogv1.LevelWarn:
		logger.Warn(d.Message, args...)
	case catalogv1.LevelInfo:
		logger.Info(d.Message, args...)
	default:
		logger.Debug(d.Message, args...)
	}
}

// grpcPlugin implements go-plugin's GRPCPlugin interface on the plugin side.
type grpcPlugin struct {
	hashiplug.NetRPCUnsupportedPlugin
	server catalogv1.CatalogServer
}

// GRPCServer registers the catalog server (called by plugin process).
func (p *grpcPlugin) GRPCServer(_ *hashiplug.GRPCBroker, s *grpc.Server) error {
	if p.server == nil {
		return errors.New("pluginsdk: catalog server is nil")
	}
	catalogv1.RegisterCatalogServer(s, p.server)
	return nil
}

// GRPCClient returns a catalog client (called by host process).
func (p *grpcPlugin) GRPCClient(_ context.Context, _ *hashiplug.GRPCBroker, c *grpc.ClientConn) (interface{}, error) {
	return catalogv1.NewCatalogClient(c), nil
}

// catalogServer serves a catalog built once at startup.
type catalogServer struct {
	catalogv1.UnimplementedCatalogServer
	catalog *catalogv1.DescribeResponse
}

// Describe implements catalogv1.CatalogServer.
func (s *catalogServer) Describe(_ context.Context, _ *catalogv1.DescribeRequest) (*catalogv1.DescribeResponse, error) {
	return s.catalog, nil
}
