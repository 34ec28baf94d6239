package util

import (
	"os"
	"path/filepath"
	"testing"
)

func TestValidIPv4(t *testing.T) {
	tests := []struct {
		name string
		ip   string
		want bool
	}{
		{name: "plain", ip: "8.8.8.8", want: true},
		{name: "private", ip: "192.168.1.1", want: true},
		{name: "ipv6", ip: "2001:4860:4860::8888", want: false},
		{name: "garbage", ip: "not-an-ip", want: false},
		{name: "empty", ip: "", want: false},
		{name: "out of range", ip: "300.1.1.1", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidIPv4(tt.ip); got != tt.want {
				t.Errorf("ValidIPv4(%q) = %t, want %t", tt.ip, got, tt.want)
			}
		})
	}
}

func TestResolversFromFile(t *testing.T) {
	raw := `# Generated by NetworkManager
search lan
nameserver 192.168.1.1
nameserver 2001:4860:4860::8888
nameserver 1.1.1.1
options edns0
`
	path := filepath.Join(t.TempDir(), "resolv.conf")
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatal(err)
	}

	got := resolversFromFile(path)
	want := []string{"192.168.1.1", "1.1.1.1"}
	if len(got) != len(want) {
		t.Fatalf("resolversFromFile() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("resolversFromFile()[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestResolversFromFileMissing(t *testing.T) {
	if got := resolversFromFile("/nonexistent/resolv.conf"); got != nil {
		t.Errorf("resolversFromFile() = %v, want nil", got)
	}
}

func TestDhclientServerIP(t *testing.T) {
	raw := `lease {
  interface "eth0";
  fixed-address 192.168.1.23;
  option dhcp-server-identifier 192.168.1.1;
}
lease {
  interface "eth0";
  fixed-address 192.168.1.23;
  option dhcp-server-identifier 192.168.1.254;
}
`
	path := filepath.Join(t.TempDir(), "dhclient.leases")
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatal(err)
	}

	// the last lease in the file wins
	if got := dhclientServerIP(path); got != "192.168.1.254" {
		t.Errorf("dhclientServerIP() = %q, want 192.168.1.254", got)
	}
}

func TestNetworkdServerIP(t *testing.T) {
	raw := `# This is private data. Do not parse.
ADDRESS=192.168.1.23
SERVER_ADDRESS=192.168.1.2
DHCP_SERVER_IDENTIFIER=192.168.1.1
`
	path := filepath.Join(t.TempDir(), "lease")
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatal(err)
	}

	if got := networkdServerIP(path); got != "192.168.1.1" {
		t.Errorf("networkdServerIP() = %q, want identifier to win", got)
	}
}

func TestHostname(t *testing.T) {
	if len(Hostname()) == 0 {
		t.Error("Hostname() empty")
	}
}
