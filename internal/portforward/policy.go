// Package portforward implements the direct-tcpip (local) and
// tcpip-forward/cancel-tcpip-forward (remote) forwarding paths of §4.5.
// Local forwards never give the gateway routable access to a container's
// private network: they run a "socat" relay exec inside the container
// instead of dialing the container's IP directly. Remote forwards bind a
// listener on the gateway host and relay accepted connections back to the
// client as forwarded-tcpip channels.
package portforward

import (
	"github.com/theykk/agentman-gateway/internal/config"
	"github.com/theykk/agentman-gateway/internal/gwerrors"
)

// isLocalhost reports whether host is one of the literal spellings the
// spec treats as "the gateway/container itself" for forwarding purposes.
func isLocalhost(host string) bool {
	switch host {
	case "localhost", "127.0.0.1", "::1", "[::1]", "0.0.0.0":
		return true
	default:
		return false
	}
}

// ResolveLocalTarget applies the direct-tcpip policy of §4.5: refuse
// outright if local forwarding is disabled; rewrite any localhost
// spelling to 127.0.0.1; refuse non-local destinations unless the
// policy explicitly allows them.
func ResolveLocalTarget(cfg config.PortForwardingConfig, host string) (string, error) {
	if !cfg.AllowLocal {
		return "", gwerrors.ValidationError("local port forwarding is disabled")
	}
	if isLocalhost(host) {
		return "127.0.0.1", nil
	}
	if !cfg.AllowNonlocalDestinations {
		return "", gwerrors.ValidationError("destination %q is not local and nonlocal forwarding is disabled", host)
	}
	return host, nil
}

// BindAddr applies the tcpip-forward bind-address policy of §4.5.
func BindAddr(cfg config.PortForwardingConfig, requested string) string {
	switch {
	case requested == "" || requested == "0.0.0.0" || requested == "*":
		if cfg.AllowGatewayPorts {
			return "0.0.0.0"
		}
		return "127.0.0.1"
	case isLocalhost(requested):
		return "127.0.0.1"
	default:
		if cfg.AllowGatewayPorts {
			return requested
		}
		return "127.0.0.1"
	}
}

// AllowRemote is a one-line gate checked before BindAddr is consulted at
// all, kept as its own function so the tcpip-forward handler reads the
// same way the spec's table does: "allow_remote=false -> refuse".
func AllowRemote(cfg config.PortForwardingConfig) bool {
	return cfg.AllowRemote
}
