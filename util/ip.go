package util

import (
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"
)

const publicIPTimeout = 5 * time.Second

var publicIPURLs = []string{
	"https://api.ipify.org?format=text",
	"https://ifconfig.me/ip",
}

// GetPublicIP asks the first reachable lookup endpoint for the host's
// public address. Returns nil when every endpoint fails.
func GetPublicIP() net.IP {
	client := &http.Client{Timeout: publicIPTimeout}

	for _, url := range publicIPURLs {
		res, err := client.Get(url)
		if err != nil {
			continue
		}

		raw, err := io.ReadAll(io.LimitReader(res.Body, 64))
		_ = res.Body.Close()
		if err != nil || res.StatusCode != http.StatusOK {
			continue
		}

		if ip := net.ParseIP(strings.TrimSpace(string(raw))); ip != nil {
			return ip
		}
	}

	return nil
}

// Hostname never fails, an undeterminable name becomes "unknown".
func Hostname() string {
	name, err := os.Hostname()
	if err != nil || len(name) == 0 {
		return "unknown"
	}
	return name
}

// ValidIPv4 reports whether s is a plain dotted-quad IPv4 address.
func ValidIPv4(s string) bool {
	ip := net.ParseIP(s)
	return ip != nil && ip.To4() != nil
}
