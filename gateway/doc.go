// Package gateway implements the MCP gateway between agents and the
// storefront REST API.
//
// Upstream calls the storefront directly and is what the gateway process runs.
// Client is the agents' side: it posts requests to a running gateway's
// /mcp/request endpoint. Both implement core.Gateway and never return Go
// errors; failures are carried in GatewayResponse. Storefront wraps either
// one with the well-known product, cart, order and user calls, and Server
// exposes the gateway over HTTP.
package gateway
