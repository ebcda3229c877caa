package portforward

import (
	"testing"

	"github.com/theykk/agentman-gateway/internal/config"
)

func TestResolveLocalTarget_Disabled(t *testing.T) {
	cfg := config.PortForwardingConfig{AllowLocal: false}
	if _, err := ResolveLocalTarget(cfg, "127.0.0.1"); err == nil {
		t.Error("expected error when AllowLocal is false")
	}
}

func TestResolveLocalTarget_RewritesLocalhostVariants(t *testing.T) {
	cfg := config.PortForwardingConfig{AllowLocal: true}
	for _, host := range []string{"localhost", "127.0.0.1", "::1", "[::1]", "0.0.0.0"} {
		got, err := ResolveLocalTarget(cfg, host)
		if err != nil {
			t.Fatalf("ResolveLocalTarget(%q) unexpected error: %v", host, err)
		}
		if got != "127.0.0.1" {
			t.Errorf("ResolveLocalTarget(%q) = %q, want 127.0.0.1", host, got)
		}
	}
}

func TestResolveLocalTarget_NonlocalRefusedByDefault(t *testing.T) {
	cfg := config.PortForwardingConfig{AllowLocal: true, AllowNonlocalDestinations: false}
	if _, err := ResolveLocalTarget(cfg, "example.internal"); err == nil {
		t.Error("expected error for nonlocal destination when AllowNonlocalDestinations is false")
	}
}

func TestResolveLocalTarget_NonlocalAllowed(t *testing.T) {
	cfg := config.PortForwardingConfig{AllowLocal: true, AllowNonlocalDestinations: true}
	got, err := ResolveLocalTarget(cfg, "example.internal")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "example.internal" {
		t.Errorf("got %q, want unchanged host", got)
	}
}

// TestBindAddr_WildcardWithoutGatewayPorts exercises spec testable
// property #8: given allow_gateway_ports=false and a request for
// 0.0.0.0, the bound address must be 127.0.0.1.
func TestBindAddr_WildcardWithoutGatewayPorts(t *testing.T) {
	cfg := config.PortForwardingConfig{AllowGatewayPorts: false}
	if got := BindAddr(cfg, "0.0.0.0"); got != "127.0.0.1" {
		t.Errorf("BindAddr(0.0.0.0) = %q, want 127.0.0.1", got)
	}
	if got := BindAddr(cfg, ""); got != "127.0.0.1" {
		t.Errorf("BindAddr(\"\") = %q, want 127.0.0.1", got)
	}
	if got := BindAddr(cfg, "*"); got != "127.0.0.1" {
		t.Errorf("BindAddr(*) = %q, want 127.0.0.1", got)
	}
}

func TestBindAddr_WildcardWithGatewayPorts(t *testing.T) {
	cfg := config.PortForwardingConfig{AllowGatewayPorts: true}
	if got := BindAddr(cfg, "0.0.0.0"); got != "0.0.0.0" {
		t.Errorf("BindAddr(0.0.0.0) = %q, want 0.0.0.0", got)
	}
}

func TestBindAddr_LoopbackLiteralAlwaysLocal(t *testing.T) {
	cfg := config.PortForwardingConfig{AllowGatewayPorts: true}
	if got := BindAddr(cfg, "127.0.0.1"); got != "127.0.0.1" {
		t.Errorf("BindAddr(127.0.0.1) = %q, want 127.0.0.1", got)
	}
}

func TestBindAddr_OtherLiteralRespectsGatewayPorts(t *testing.T) {
	allowed := config.PortForwardingConfig{AllowGatewayPorts: true}
	if got := BindAddr(allowed, "10.0.0.5"); got != "10.0.0.5" {
		t.Errorf("BindAddr(10.0.0.5) with gateway ports allowed = %q, want 10.0.0.5", got)
	}
	denied := config.PortForwardingConfig{AllowGatewayPorts: false}
	if got := BindAddr(denied, "10.0.0.5"); got != "127.0.0.1" {
		t.Errorf("BindAddr(10.0.0.5) with gateway ports denied = %q, want 127.0.0.1", got)
	}
}
