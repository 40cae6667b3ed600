package discovery

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/grandcat/zeroconf"
	"github.com/muurk/wbemd/internal/logging"
	"github.com/muurk/wbemd/internal/version"
	"go.uber.org/zap"
)

// Attributes carried in every announcement.
var txtRecords = []string{
	"template-type=wbem",
	"communication-mechanism=CIM-XML",
	"protocol-version=" + version.CIMProtocolVersion,
}

// Announcement describes one listener to publish.
type Announcement struct {
	Instance string
	Port     int
	Secure   bool
}

func (a Announcement) serviceType() string {
	if a.Secure {
		return SecureServiceType
	}
	return ServiceType
}

// TXT returns the TXT records for the announcement.
func (a Announcement) TXT() []string {
	txt := make([]string, 0, len(txtRecords)+1)
	txt = append(txt, txtRecords...)
	if a.Secure {
		return append(txt, "security=tls")
	}
	return txt
}

// DefaultInstance returns the host name without its domain.
func DefaultInstance() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "wbemd"
	}
	if i := strings.IndexByte(host, '.'); i > 0 {
		host = host[:i]
	}
	return host
}

// Advertise registers every announcement and keeps them published until
// ctx is done.
func Advertise(ctx context.Context, announcements []Announcement) error {
	if len(announcements) == 0 {
		return errors.New("nothing to advertise")
	}

	servers := make([]*zeroconf.Server, 0, len(announcements))
	defer func() {
		for _, srv := range servers {
			srv.Shutdown()
		}
	}()

	for _, a := range announcements {
		instance := a.Instance
		if instance == "" {
			instance = DefaultInstance()
		}
		srv, err := zeroconf.Register(instance, a.serviceType(), ServiceDomain, a.Port, a.TXT(), nil)
		if err != nil {
			return fmt.Errorf("failed to register %s on port %d: %w", a.serviceType(), a.Port, err)
		}
		servers = append(servers, srv)
		logging.Info("Advertising WBEM service",
			zap.String("instance", instance),
			zap.String("service", a.serviceType()),
			zap.Int("port", a.Port),
		)
	}

	<-ctx.Done()
	logging.Debug("Withdrawing WBEM service advertisements")
	return nil
}
