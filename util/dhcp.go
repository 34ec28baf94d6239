package util

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

var dhclientLeaseGlobs = []string{
	"/var/lib/dhcp/dhclient*.leases",
	"/var/lib/dhcp3/dhclient*.leases",
	"/var/lib/dhcpcd/*.lease",
}

const networkdLeaseDir = "/run/systemd/netif/leases"

// DHCPServers returns the DHCP server IPs found in local lease files.
// These are typically the gateway handing out the ISP resolvers, so they
// join the ISP-assigned set.
func DHCPServers() []string {
	var ips []string
	seen := make(map[string]struct{})

	add := func(ip string) {
		if len(ip) == 0 {
			return
		}
		if _, ok := seen[ip]; ok {
			return
		}
		seen[ip] = struct{}{}
		ips = append(ips, ip)
	}

	for _, pattern := range dhclientLeaseGlobs {
		paths, _ := filepath.Glob(pattern)
		for _, path := range paths {
			add(dhclientServerIP(path))
		}
	}

	entries, err := os.ReadDir(networkdLeaseDir)
	if err == nil {
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			add(networkdServerIP(filepath.Join(networkdLeaseDir, entry.Name())))
		}
	}

	return ips
}

// dhclientServerIP extracts the last dhcp-server-identifier of a
// dhclient-style lease file, which is the most recent lease.
func dhclientServerIP(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer func() { _ = f.Close() }()

	var last string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.Contains(line, "dhcp-server-identifier") {
			continue
		}

		fields := strings.Fields(strings.TrimSuffix(line, ";"))
		if len(fields) == 0 {
			continue
		}
		if candidate := fields[len(fields)-1]; ValidIPv4(candidate) {
			last = candidate
		}
	}

	return last
}

// networkdServerIP reads a systemd-networkd lease file. The identifier key
// wins over the plain server address when both are present.
func networkdServerIP(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer func() { _ = f.Close() }()

	var identifier, address string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(line, "DHCP_SERVER_IDENTIFIER="):
			if v := strings.TrimPrefix(line, "DHCP_SERVER_IDENTIFIER="); ValidIPv4(v) {
				identifier = v
			}
		case strings.HasPrefix(line, "SERVER_ADDRESS="):
			if v := strings.TrimPrefix(line, "SERVER_ADDRESS="); ValidIPv4(v) {
				address = v
			}
		}
	}

	if len(identifier) > 0 {
		return identifier
	}
	return address
}
