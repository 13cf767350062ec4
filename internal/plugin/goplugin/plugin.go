// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 plugscan Contributors

package goplugin

import (
	"context"
	"errors"

	goplugin "github.com/hashicorp/go-plugin"
	"google.golang.org/grpc"

	catalogv1 "github.com/plugscan/plugscan/internal/rpc/catalogv1"
	"github.com/plugscan/plugscan/pkg/pluginsdk"
)

// HandshakeConfig is imported from pluginsdk to ensure host and plugins
// use identical configuration. Do not define locally to prevent drift.
var HandshakeConfig = pluginsdk.HandshakeConfig

// PluginMap is the map of plugins we can dispense.
var PluginMap = map[string]goplugin.Plugin{
	pluginsdk.PluginName: &GRPCPlugin{},
}

// GRPCPlugin implements go-plugin's Plugin interface for the catalog service.
type GRPCPlugin struct {
	goplugin.NetRPCUnsupportedPlugin
	// Impl is used by the plugin-side (not used by host).
	Impl catalogv1.CatalogServer
}

// GRPCServer registers the catalog server (called by plugin process).
func (p *GRPCPlugin) GRPCServer(_ *goplugin.GRPCBroker, s *grpc.Server) error {
	if p.Impl == nil {
		return errors.New("goplugin: catalog implementation is nil")
	}
	catalogv1.RegisterCatalogServer(s, p.Impl)
	return nil
}

// GRPCClient returns a catalog client (called by host process).
func (p *GRPCPlugin) GRPCClient(_ context.Context, _ *goplugin.GRPCBroker, c *grpc.ClientConn) (interface{}, error) {
	return catalogv1.NewCatalogClient(c), nil
}
