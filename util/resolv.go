package util

import (
	"github.com/miekg/dns"
)

const resolvConfPath = "/etc/resolv.conf"

// SystemResolvers returns the nameserver IPs the host itself is configured
// with. Only IPv4 entries are kept since the probe targets are IPv4.
func SystemResolvers() []string {
	return resolversFromFile(resolvConfPath)
}

func resolversFromFile(path string) []string {
	cc, err := dns.ClientConfigFromFile(path)
	if err != nil {
		return nil
	}

	var ips []string
	for _, server := range cc.Servers {
		if ValidIPv4(server) {
			ips = append(ips, server)
		}
	}

	return ips
}
