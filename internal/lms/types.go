// Package lms provides the wire-facing clients for a Logitech Media Server:
// the JSON RPC endpoint (jsonrpc.js) and the CLI notification port.
package lms

import (
	"fmt"
)

// Player identifies one renderer attached to the server. The monitor never
// mutates it; it only derives connection parameters from it.
type Player struct {
	ID     string // player identifier on the wire (MAC address)
	UUID   string
	Name   string
	Server ServerRef
}

// ServerRef locates the media server a player is attached to.
type ServerRef struct {
	Host    string
	RPCPort int // jsonrpc.js HTTP port (default 9000)
	CLIPort int // CLI telnet port (default 9090)
}

// Credentials holds optional server authentication material.
type Credentials struct {
	Username string
	Password string
}

// Protocol tags for BuildConnectParams.
const (
	ProtoRPC = "rpc"
	ProtoCLI = "cli"
)

// ConnectParams is the per-call connection bundle. It is derived fresh from a
// player/credentials pair for every request and never stored long-term.
type ConnectParams struct {
	Host     string
	Port     int
	Username string
	Password string
	Proto    string
}

// BuildConnectParams derives connection parameters for the given transport
// protocol tag (ProtoRPC or ProtoCLI).
func BuildConnectParams(server ServerRef, creds Credentials, proto string) ConnectParams {
	port := server.RPCPort
	if proto == ProtoCLI {
		port = server.CLIPort
	}
	return ConnectParams{
		Host:     server.Host,
		Port:     port,
		Username: creds.Username,
		Password: creds.Password,
		Proto:    proto,
	}
}

// Addr returns the host:port form of the connection parameters.
func (p ConnectParams) Addr() string {
	return fmt.Sprintf("%s:%d", p.Host, p.Port)
}

// Notification is one discrete event delivered on the CLI port.
type Notification struct {
	Kind     string   // "play", "pause", "sync", ...
	PlayerID string   // target player, empty for server-global notifications
	Params   []string // remaining tokens, URL-decoded, in wire order
}
