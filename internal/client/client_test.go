package client

import (
	"context"
	"testing"
	"time"

	"github.com/muurk/wbemd/internal/config"
	"github.com/muurk/wbemd/internal/protocol"
	"github.com/muurk/wbemd/internal/server"
	"github.com/muurk/wbemd/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequest_Build(t *testing.T) {
	tests := []struct {
		name      string
		req       Request
		startLine string
		want      map[string]string
	}{
		{
			name:      "post defaults",
			req:       Request{Host: "localhost:5988", Body: []byte("<CIM/>")},
			startLine: "POST /cimom HTTP/1.1",
			want: map[string]string{
				protocol.HeaderHost:         "localhost:5988",
				protocol.HeaderCIMOperation: "MethodCall",
				protocol.HeaderTE:           protocol.CodingTrailers,
			},
		},
		{
			name: "m-post prefixes CIM headers",
			req: Request{
				Host:   "cimom",
				URI:    "/cimom/root",
				MPost:  true,
				Method: "EnumerateInstances",
				Object: "root/cimv2",
			},
			startLine: "M-POST /cimom/root HTTP/1.1",
			want: map[string]string{
				"73-" + protocol.HeaderCIMOperation: "MethodCall",
				"73-" + protocol.HeaderCIMMethod:    "EnumerateInstances",
				"73-" + protocol.HeaderCIMObject:    "root/cimv2",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			startLine, fields, contentLength, err := protocol.Parse(tt.req.Build())
			require.NoError(t, err)
			assert.Equal(t, tt.startLine, startLine)
			assert.Equal(t, len(tt.req.Body), contentLength)
			for name, value := range tt.want {
				got, ok := fields.Lookup(name, false)
				assert.True(t, ok, "missing %s", name)
				assert.Equal(t, value, got, name)
			}
		})
	}
}

func TestIsRawRequest(t *testing.T) {
	assert.True(t, IsRawRequest([]byte("POST /cimom HTTP/1.1\r\n\r\n")))
	assert.True(t, IsRawRequest([]byte("M-POST /cimom HTTP/1.1\r\n\r\n")))
	assert.False(t, IsRawRequest([]byte("<?xml version=\"1.0\"?><CIM/>")))
	assert.False(t, IsRawRequest(nil))
}

func TestSummarize(t *testing.T) {
	t.Run("error response", func(t *testing.T) {
		s, err := Summarize(protocol.NewMessage(protocol.ErrorResponse(400, protocol.CIMErrorHeaderMismatch, "")))
		require.NoError(t, err)
		assert.Equal(t, 400, s.StatusCode)
		assert.Equal(t, protocol.CIMErrorHeaderMismatch, s.CIMError)
		assert.Nil(t, s.CIMStatus)
	})

	t.Run("cim status trailer fields", func(t *testing.T) {
		buf := protocol.ResponseHeader(200, protocol.Headers{
			{Name: protocol.HeaderCIMStatusCode, Value: "6"},
			{Name: protocol.HeaderCIMStatusCodeDescription, Value: "not found"},
		})
		s, err := Summarize(protocol.NewMessage(buf))
		require.NoError(t, err)
		assert.Equal(t, 200, s.StatusCode)
		require.NotNil(t, s.CIMStatus)
		assert.Equal(t, uint32(6), s.CIMStatus.Code)
		assert.Equal(t, "not found", s.CIMStatus.Description)
	})

	t.Run("not a response", func(t *testing.T) {
		_, err := Summarize(protocol.NewMessage([]byte("POST / HTTP/1.1\r\n\r\n")))
		assert.Error(t, err)
	})
}

func TestClient_DialAndDo(t *testing.T) {
	cfg := config.Default()
	cfg.ListenAddress = "127.0.0.1"
	cfg.HTTPPort = 0
	cfg.MonitorTimeout = 50 * time.Millisecond

	srv, err := server.New(cfg, "")
	require.NoError(t, err)
	require.NoError(t, srv.Bind())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
		srv.Close()
	})

	target := transport.Target{Host: "127.0.0.1", Port: srv.Acceptors()[0].PortNumber()}
	reqCtx, reqCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer reqCancel()

	c, err := Dial(reqCtx, target)
	require.NoError(t, err)
	defer c.Close()

	for i := 0; i < 2; i++ {
		resp, err := c.Do(reqCtx, Request{Host: target.Address(), Body: []byte("<CIM/>")}.Build())
		require.NoError(t, err)

		s, err := Summarize(resp)
		require.NoError(t, err)
		assert.Equal(t, 200, s.StatusCode)
		assert.Equal(t, "<CIM/>", string(resp.Body()))
	}
}

func TestDial_Refused(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Port 1 on loopback is not expected to be listening.
	_, err := Dial(ctx, transport.Target{Host: "127.0.0.1", Port: 1})
	assert.Error(t, err)
}
