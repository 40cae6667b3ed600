package discovery

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// Service represents a WBEM server found on the network
type Service struct {
	// Instance is the advertised instance name (e.g., "rack-12")
	Instance string

	// Hostname is the mDNS hostname (e.g., "rack-12.local.")
	Hostname string

	// IP is the preferred address, IPv4 when available
	IP string

	// Port is the CIM-XML port (typically 5988 or 5989)
	Port int

	// Secure is true for "_wbems._tcp" entries
	Secure bool

	// Metadata contains the TXT record attributes
	// Common fields: "template-type=wbem", "communication-mechanism=CIM-XML"
	Metadata map[string]string

	// DiscoveredAt is when the service was seen
	DiscoveredAt time.Time
}

// String returns a human-readable string representation of the service
func (s *Service) String() string {
	return fmt.Sprintf("WBEM Server %s (%s) at %s", s.Instance, s.Hostname, s.Address())
}

// Address returns host:port suitable for a dial.
func (s *Service) Address() string {
	return net.JoinHostPort(s.IP, strconv.Itoa(s.Port))
}

// Scheme returns "https" for secure services and "http" otherwise.
func (s *Service) Scheme() string {
	if s.Secure {
		return "https"
	}
	return "http"
}

// URL returns the CIM-XML endpoint URL.
func (s *Service) URL() string {
	return fmt.Sprintf("%s://%s/cimom", s.Scheme(), s.Address())
}

// GetMetadata retrieves a metadata value by key, or returns empty string if not found
func (s *Service) GetMetadata(key string) string {
	if s.Metadata == nil {
		return ""
	}
	return s.Metadata[key]
}
