package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/muurk/wbemd/internal/logging"
	"github.com/muurk/wbemd/internal/monitor"
	"github.com/muurk/wbemd/internal/protocol"
	"github.com/muurk/wbemd/internal/transport"
	"github.com/muurk/wbemd/internal/version"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// pollInterval is the monitor pass timeout used by the client.
const pollInterval = 100 * time.Millisecond

// Client sends CIM-XML requests over a single connection. It runs its own
// monitor loop in the background.
type Client struct {
	target    transport.Target
	monitor   *monitor.Monitor
	connector *transport.Connector
	conn      *transport.Connection

	cancel context.CancelFunc
	group  *errgroup.Group
}

// Dial connects to target and starts the client's monitor loop.
func Dial(ctx context.Context, target transport.Target) (*Client, error) {
	m, err := monitor.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create monitor: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(runCtx)
	connector := transport.NewConnector(m, nil)
	g.Go(func() error { return m.Serve(gctx, pollInterval) })
	g.Go(func() error { return connector.Run(gctx) })

	c := &Client{
		target:    target,
		monitor:   m,
		connector: connector,
		cancel:    cancel,
		group:     g,
	}

	conn, err := connector.Connect(ctx, target, nil)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.conn = conn
	return c, nil
}

// Do sends one complete request and waits for the response. A connection
// the server closed is reopened once.
func (c *Client) Do(ctx context.Context, request []byte) (*protocol.Message, error) {
	if c.conn == nil || c.conn.NeedsReconnect() {
		if err := c.reconnect(ctx); err != nil {
			return nil, err
		}
	}

	resp, err := c.conn.RoundTrip(ctx, request)
	if err != nil && (transport.IsRetryable(err) || errors.Is(err, transport.ErrConnectionClosed)) && ctx.Err() == nil {
		logging.Debug("Retrying request on a new connection", zap.Error(err))
		if rerr := c.reconnect(ctx); rerr != nil {
			return nil, err
		}
		return c.conn.RoundTrip(ctx, request)
	}
	return resp, err
}

func (c *Client) reconnect(ctx context.Context) error {
	if c.conn != nil {
		c.connector.Disconnect(c.conn)
		c.conn = nil
	}
	conn, err := c.connector.Connect(ctx, c.target, nil)
	if err != nil {
		return err
	}
	c.conn = conn
	return nil
}

// Close disconnects and stops the monitor loop.
func (c *Client) Close() error {
	c.connector.Close()
	c.cancel()
	err := c.group.Wait()
	if cerr := c.monitor.Close(); err == nil {
		err = cerr
	}
	return err
}

// Request describes a CIM-XML operation request.
type Request struct {
	Host string
	URI  string // Defaults to /cimom

	// MPost sends the request with the M-POST extension framework and
	// prefixed CIM headers.
	MPost bool

	Operation string // CIMOperation, defaults to MethodCall
	Method    string // CIMMethod, optional
	Object    string // CIMObject, optional

	Body []byte
}

// manPrefix is the namespace number used for M-POST extension headers.
const manPrefix = "73"

// Build returns the complete wire form of r.
func (r Request) Build() []byte {
	uri := r.URI
	if uri == "" {
		uri = "/cimom"
	}
	operation := r.Operation
	if operation == "" {
		operation = "MethodCall"
	}

	method := http.MethodPost
	prefix := ""
	fields := protocol.Headers{
		{Name: protocol.HeaderHost, Value: r.Host},
		{Name: protocol.HeaderUserAgent, Value: version.Token()},
		{Name: protocol.HeaderContentType, Value: "application/xml; charset=utf-8"},
		{Name: protocol.HeaderTE, Value: protocol.CodingTrailers},
	}
	if r.MPost {
		method = "M-POST"
		prefix = manPrefix + "-"
		fields = append(fields, protocol.Header{
			Name:  protocol.HeaderMan,
			Value: "http://www.dmtf.org/cim/mapping/http/v1.0 ; ns=" + manPrefix,
		})
	}
	fields = append(fields, protocol.Header{Name: prefix + protocol.HeaderCIMOperation, Value: operation})
	if r.Method != "" {
		fields = append(fields, protocol.Header{Name: prefix + protocol.HeaderCIMMethod, Value: r.Method})
	}
	if r.Object != "" {
		fields = append(fields, protocol.Header{Name: prefix + protocol.HeaderCIMObject, Value: r.Object})
	}
	return protocol.BuildRequest(method, uri, fields, r.Body)
}

// IsRawRequest reports whether data already starts with a request line,
// in which case it is sent unchanged.
func IsRawRequest(data []byte) bool {
	for _, m := range []string{"POST ", "M-POST ", "OPTIONS ", "GET ", "HEAD ", "PUT ", "DELETE "} {
		if bytes.HasPrefix(data, []byte(m)) {
			return true
		}
	}
	return false
}

// Summary is the decoded outcome of a response.
type Summary struct {
	StatusCode int
	Reason     string
	BodyLength int
	CIMStatus  *protocol.CIMStatus
	CIMError   string
}

// Summarize parses the status line and CIM headers of a response.
func Summarize(resp *protocol.Message) (Summary, error) {
	startLine, fields, _, err := resp.Parse()
	if err != nil {
		return Summary{}, fmt.Errorf("failed to parse response: %w", err)
	}
	_, code, reason, ok := protocol.ParseStatusLine(startLine)
	if !ok {
		return Summary{}, fmt.Errorf("malformed status line %q", startLine)
	}
	s := Summary{
		StatusCode: code,
		Reason:     reason,
		BodyLength: len(resp.Body()),
		CIMStatus:  resp.Status,
	}
	if v, ok := fields.Lookup(protocol.HeaderCIMError, true); ok {
		s.CIMError = v
	}
	if s.CIMStatus == nil {
		if v, ok := fields.Lookup(protocol.HeaderCIMStatusCode, true); ok {
			if n, err := strconv.ParseUint(v, 10, 32); err == nil && n > 0 {
				desc, _ := fields.Lookup(protocol.HeaderCIMStatusCodeDescription, true)
				s.CIMStatus = &protocol.CIMStatus{Code: uint32(n), Description: desc}
			}
		}
	}
	return s, nil
}
