package server

import (
	"bufio"
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/muurk/wbemd/internal/config"
	"github.com/muurk/wbemd/internal/logging"
	"github.com/muurk/wbemd/internal/message"
	"github.com/muurk/wbemd/internal/protocol"
	"github.com/muurk/wbemd/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func request(raw string) *protocol.Message {
	msg := protocol.NewMessage([]byte(strings.ReplaceAll(raw, "\n", "\r\n")))
	msg.QueueID = 42
	return msg
}

func TestResponder_Respond(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		chunkSize  int
		wantFrags  int
		wantStatus string
		verify     func(t *testing.T, frags []*protocol.Message)
	}{
		{
			name:       "options advertises capabilities",
			raw:        "OPTIONS /cimom HTTP/1.1\nHost: x\n\n",
			wantFrags:  1,
			wantStatus: "HTTP/1.1 200 OK",
			verify: func(t *testing.T, frags []*protocol.Message) {
				assert.Contains(t, string(frags[0].Buffer), "CIMProtocolVersion: 1.0")
			},
		},
		{
			name:       "post echoes the body",
			raw:        "POST /cimom HTTP/1.1\nContent-Type: application/xml\nCIMOperation: MethodCall\nContent-Length: 5\n\nhello",
			wantFrags:  1,
			wantStatus: "HTTP/1.1 200 OK",
			verify: func(t *testing.T, frags []*protocol.Message) {
				f := frags[0]
				assert.True(t, f.First)
				assert.True(t, f.Complete)
				assert.Equal(t, "hello", string(f.Body()))
				assert.Contains(t, string(f.Buffer), "CIMOperation: MethodResponse")
				assert.Contains(t, string(f.Buffer), "Content-Type: application/xml")
			},
		},
		{
			name:       "m-post splits into fragments",
			raw:        "M-POST /cimom HTTP/1.1\nMan: http://www.dmtf.org/cim/mapping/http/v1.0; ns=73\n73-CIMOperation: MethodCall\nContent-Length: 10\n\n0123456789",
			chunkSize:  4,
			wantFrags:  3,
			wantStatus: "HTTP/1.1 200 OK",
			verify: func(t *testing.T, frags []*protocol.Message) {
				assert.Contains(t, string(frags[0].Buffer), "73-CIMOperation: MethodResponse")
				assert.Contains(t, string(frags[0].Buffer), defaultContentType)
				assert.Equal(t, "0123", string(frags[0].Body()))
				assert.Equal(t, "4567", string(frags[1].Buffer))
				assert.Equal(t, "89", string(frags[2].Buffer))
				for i, f := range frags {
					assert.Equal(t, uint32(i), f.Index)
					assert.Equal(t, i == 0, f.First)
					assert.Equal(t, i == len(frags)-1, f.Complete)
					assert.Equal(t, uint32(42), f.QueueID)
				}
			},
		},
		{
			name:       "get is not found",
			raw:        "GET / HTTP/1.1\nHost: x\n\n",
			wantFrags:  1,
			wantStatus: "HTTP/1.1 404 Not Found",
		},
		{
			name:       "put is not allowed",
			raw:        "PUT /cimom HTTP/1.1\nContent-Length: 0\n\n",
			wantFrags:  1,
			wantStatus: "HTTP/1.1 405 Method Not Allowed",
		},
		{
			name:       "malformed start line",
			raw:        "POST\nContent-Length: 0\n\n",
			wantFrags:  1,
			wantStatus: "HTTP/1.1 400 Bad Request",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResponder(tt.chunkSize)
			frags := r.Respond(request(tt.raw))
			require.Len(t, frags, tt.wantFrags)
			assert.True(t, strings.HasPrefix(string(frags[0].Buffer), tt.wantStatus),
				"got %q", firstLine(frags[0].Buffer))
			if tt.verify != nil {
				tt.verify(t, frags)
			}
		})
	}
}

func firstLine(b []byte) string {
	s, _, _ := strings.Cut(string(b), "\r\n")
	return s
}

func TestResponder_CloseConnectOnLastFragment(t *testing.T) {
	req := request("POST /cimom HTTP/1.1\nContent-Length: 6\n\nabcdef")
	req.CloseConnect = true
	frags := NewResponder(2).Respond(req)
	require.Len(t, frags, 3)
	assert.False(t, frags[0].CloseConnect)
	assert.True(t, frags[2].CloseConnect)
}

type recordingQueue struct {
	id   uint32
	msgs []message.Message
}

func (q *recordingQueue) QueueID() uint32 { return q.id }
func (q *recordingQueue) Enqueue(msg message.Message) error {
	q.msgs = append(q.msgs, msg)
	return nil
}

func TestResponder_HandleRoutesByQueueID(t *testing.T) {
	q := &recordingQueue{id: 42}
	r := NewResponder(3)
	r.lookup = func(id uint32) message.Queue {
		if id == q.id {
			return q
		}
		return nil
	}

	r.Handle(request("POST /cimom HTTP/1.1\nContent-Length: 7\n\npayload"))
	assert.Len(t, q.msgs, 3)

	// Unknown connections and foreign message types are dropped.
	orphan := request("OPTIONS / HTTP/1.1\n\n")
	orphan.QueueID = 7
	r.Handle(orphan)
	r.Handle(&message.CloseConnectionMessage{Fd: 3})
	assert.Len(t, q.msgs, 3)
}

func TestListenerPlan(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   []string // kind/port/tls
	}{
		{
			name: "defaults",
			want: []string{"ipv4/5988/false"},
		},
		{
			name: "everything",
			mutate: func(c *config.Config) {
				c.EnableHTTPS = true
				c.EnableIPv6 = true
				c.EnableLocal = true
			},
			want: []string{"local/0/false", "ipv4/5988/false", "ipv6/5988/false", "ipv4/5989/true", "ipv6/5989/true"},
		},
		{
			name: "ipv6 listen address drops ipv4",
			mutate: func(c *config.Config) {
				c.ListenAddress = "::1"
				c.EnableIPv6 = true
			},
			want: []string{"ipv6/5988/false"},
		},
		{
			name: "ipv4 listen address drops ipv6",
			mutate: func(c *config.Config) {
				c.ListenAddress = "127.0.0.1"
				c.EnableIPv6 = true
			},
			want: []string{"ipv4/5988/false"},
		},
		{
			name: "https only",
			mutate: func(c *config.Config) {
				c.EnableHTTP = false
				c.EnableHTTPS = true
			},
			want: []string{"ipv4/5989/true"},
		},
	}

	tlsConfig := &tls.Config{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			if tt.mutate != nil {
				tt.mutate(cfg)
			}
			settings := transport.NewSettingsStore(settingsFrom(cfg))
			var got []string
			for _, p := range listenerPlan(cfg, tlsConfig, settings) {
				got = append(got, p.Kind.String()+"/"+strconv.Itoa(p.Port)+"/"+strconv.FormatBool(p.TLS != nil))
				assert.Same(t, settings, p.Settings)
				assert.Equal(t, cfg.ListenBacklog, p.Backlog)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSettingsFrom(t *testing.T) {
	cfg := config.Default()
	cfg.IdleConnectionTimeout = time.Minute
	s := settingsFrom(cfg)
	assert.Equal(t, time.Minute, s.IdleTimeout)
	assert.Equal(t, cfg.SocketWriteTimeout, s.WriteTimeout)
	assert.Equal(t, cfg.SSLAcceptTimeout, s.HandshakeTimeout)
}

// startServer runs a loopback server on an ephemeral port.
func startServer(t *testing.T, mutate func(*config.Config)) (*Server, string, context.CancelFunc) {
	t.Helper()
	cfg := config.Default()
	cfg.ListenAddress = "127.0.0.1"
	cfg.HTTPPort = 0
	cfg.MonitorTimeout = 50 * time.Millisecond
	if mutate != nil {
		mutate(cfg)
	}

	srv, err := New(cfg, "")
	require.NoError(t, err)
	require.NoError(t, srv.Bind())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(15 * time.Second):
			t.Error("Run did not return")
		}
		srv.Close()
	})

	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(srv.Acceptors()[0].PortNumber()))
	return srv, addr, cancel
}

func TestServer_EchoOverHTTP(t *testing.T) {
	_, addr, _ := startServer(t, nil)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Post("http://"+addr+"/cimom", "application/xml", strings.NewReader("<CIM/>"))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "<CIM/>", string(body))
	assert.Equal(t, "application/xml", resp.Header.Get("Content-Type"))
}

func TestServer_ChunkedEcho(t *testing.T) {
	_, addr, _ := startServer(t, func(c *config.Config) { c.Responder.ChunkSize = 3 })

	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(10*time.Second)))

	body := "abcdefghij"
	_, err = io.WriteString(conn, "M-POST /cimom HTTP/1.1\r\n"+
		"Host: localhost\r\n"+
		"TE: trailers\r\n"+
		"Man: http://www.dmtf.org/cim/mapping/http/v1.0; ns=73\r\n"+
		"73-CIMOperation: MethodCall\r\n"+
		"Content-Length: "+strconv.Itoa(len(body))+"\r\n\r\n"+body)
	require.NoError(t, err)

	resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, []string{"chunked"}, resp.TransferEncoding)
	assert.Equal(t, "MethodResponse", resp.Header.Get("73-CIMOperation"))
	got, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, body, string(got))
}

func TestServer_ReloadUpdatesSettings(t *testing.T) {
	srv, _, _ := startServer(t, nil)

	next := config.Default()
	next.IdleConnectionTimeout = 3 * time.Second
	next.SocketWriteTimeout = 7 * time.Second
	next.SSLAcceptTimeout = time.Hour
	srv.applyReload(next)

	got := srv.Settings().Load()
	assert.Equal(t, 3*time.Second, got.IdleTimeout)
	assert.Equal(t, 7*time.Second, got.WriteTimeout)
	assert.Equal(t, config.Default().SSLAcceptTimeout, got.HandshakeTimeout, "handshake timeout is not reloaded")
}

func TestServer_ReloadFollowsLogLevel(t *testing.T) {
	srv, _, _ := startServer(t, nil)
	saved := logging.Level()
	defer func() { _ = logging.SetLevel(saved) }()

	next := config.Default()
	next.LogLevel = "error"
	srv.applyReload(next)
	assert.Equal(t, "error", logging.Level())

	next.LogLevel = "chatty"
	srv.applyReload(next)
	assert.Equal(t, "error", logging.Level(), "unknown level is ignored")
}

func TestServer_ShutdownStopsAccepting(t *testing.T) {
	srv, addr, cancel := startServer(t, nil)

	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return srv.ConnectionCount() == 1 }, 5*time.Second, 20*time.Millisecond)

	cancel()
	require.Eventually(t, func() bool {
		c, err := net.DialTimeout("tcp", addr, 200*time.Millisecond)
		if err != nil {
			return true
		}
		c.Close()
		return false
	}, 5*time.Second, 50*time.Millisecond)
}

func TestServer_BindConflict(t *testing.T) {
	_, addr, _ := startServer(t, nil)
	_, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	cfg := config.Default()
	cfg.ListenAddress = "127.0.0.1"
	cfg.HTTPPort = port
	srv, err := New(cfg, "")
	require.NoError(t, err)
	defer srv.Close()

	err = srv.Bind()
	require.Error(t, err)
	assert.True(t, transport.IsBindError(err))
	assert.Empty(t, srv.Acceptors())
}
