package transport

import (
	"bytes"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/muurk/wbemd/internal/logging"
	"github.com/muurk/wbemd/internal/message"
	"github.com/muurk/wbemd/internal/monitor"
	"github.com/muurk/wbemd/internal/protocol"
	"go.uber.org/zap"
)

// transition is the entry state change a finished write asks for.
type transition int

const (
	stay transition = iota
	toIdle
	toClose
)

// Enqueue implements message.Queue. On a server connection msg is one
// fragment of a response; on a client connection it is a complete request.
func (c *Connection) Enqueue(msg message.Message) error {
	m, ok := msg.(*protocol.Message)
	if !ok {
		return fmt.Errorf("connection %d: unexpected %s message", c.id, msg.Type())
	}
	if !c.refs.acquire() {
		return ErrConnectionClosed
	}
	defer c.refs.release()

	var (
		next transition
		err  error
	)
	c.mu.Lock()
	if c.server {
		next = c.writeResponseLocked(m)
	} else {
		err = c.writeRequestLocked(m)
	}
	c.mu.Unlock()

	switch next {
	case toIdle:
		c.setState(monitor.StatusIdle)
	case toClose:
		c.setState(monitor.StatusDying)
	}
	return err
}

func (c *Connection) setState(status monitor.Status) {
	if err := c.monitor.SetState(c.handle, status); err != nil {
		logging.Debug("Connection entry already gone",
			zap.String("remote_addr", c.remoteAddr),
			zap.String("status", status.String()),
			zap.Error(err),
		)
	}
}

func (c *Connection) writeRequestLocked(m *protocol.Message) error {
	if c.closePending.Load() {
		return ErrConnectionClosed
	}
	if hl := m.HeaderLength(); hl >= 0 {
		if _, err := protocol.SetContentLength(m.Buffer, hl, len(m.Buffer)-hl); err != nil {
			return err
		}
	}
	c.awaitingResponse.Store(true)
	if _, err := c.writeAllLocked(m.Buffer); err != nil {
		c.awaitingResponse.Store(false)
		return err
	}
	return nil
}

// writeResponseLocked sends one response fragment. Fragments after a
// failure are dropped until the last one, which closes the connection.
func (c *Connection) writeResponseLocked(m *protocol.Message) transition {
	o := &c.out
	switch {
	case m.First:
		o.started = true
		o.prevIndex = m.Index
		o.chunked = false
		o.mpostPrefix = ""
		o.buf = nil
		o.status = nil
		o.errorResponse = nil
		o.languages = nil
		o.langConflict = false
		o.written = 0
	case !o.started || m.Index != o.prevIndex+1:
		if !o.internalError {
			logging.Error("Response fragment out of sequence",
				zap.String("remote_addr", c.remoteAddr),
				zap.Uint32("expected", o.prevIndex+1),
				zap.Uint32("got", m.Index),
			)
		}
		o.internalError = true
	default:
		o.prevIndex = m.Index
	}

	if !o.internalError {
		if err := c.sendFragmentLocked(m); err != nil {
			logging.Warn("Failed to send response",
				zap.String("remote_addr", c.remoteAddr),
				zap.Error(err),
			)
			o.internalError = true
		}
	}

	if !m.Complete {
		return stay
	}
	return c.finishResponseLocked(m)
}

func (c *Connection) sendFragmentLocked(m *protocol.Message) error {
	o := &c.out

	headerLen := -1
	if m.First {
		headerLen = m.HeaderLength()
		if headerLen < 0 {
			return protocol.Internal("response fragment has no header")
		}
		o.chunked = o.acceptsChunked && (len(m.Buffer) > headerLen || !m.Complete)
	}

	// The first CIM error of a response wins.
	if m.Status != nil && o.status == nil {
		o.status = m.Status
		if !o.chunked {
			o.errorResponse = bytes.Clone(m.Buffer)
		}
	}

	if len(m.ContentLanguages) > 0 && !o.langConflict {
		switch {
		case o.languages == nil:
			o.languages = slices.Clone(m.ContentLanguages)
		case !slices.Equal(o.languages, m.ContentLanguages):
			o.languages = nil
			o.langConflict = true
		}
	}

	if o.chunked {
		return c.sendChunkedLocked(m, headerLen)
	}
	return c.sendBufferedLocked(m)
}

// sendBufferedLocked collects fragments and sends the whole response with
// its content length once the last fragment arrived.
func (c *Connection) sendBufferedLocked(m *protocol.Message) error {
	o := &c.out
	if m.First || m.Status == nil {
		o.buf = append(o.buf, m.Buffer...)
	}
	if !m.Complete {
		return nil
	}

	out := o.buf
	if o.errorResponse != nil {
		out = o.errorResponse
	}
	headerLen := protocol.HeaderLength(out)
	if headerLen < 0 {
		return protocol.Internal("response has no header")
	}
	if len(o.languages) > 0 {
		_, fields, _, _ := protocol.Parse(out[:headerLen])
		if _, ok := fields.Lookup(protocol.HeaderContentLanguage, false); !ok {
			out, headerLen = protocol.InsertField(out, headerLen,
				protocol.HeaderContentLanguage, strings.Join(o.languages, ", "))
		}
	}
	if _, err := protocol.SetContentLength(out, headerLen, len(out)-headerLen); err != nil {
		return err
	}
	return c.sendLocked(out)
}

// sendChunkedLocked streams the fragment as chunks. The first fragment
// sends the header with its content-length field turned into
// transfer-encoding; the last one sends the trailer.
func (c *Connection) sendChunkedLocked(m *protocol.Message, headerLen int) error {
	o := &c.out
	var body []byte
	if m.First {
		head := bytes.Clone(m.Buffer[:headerLen])
		_, fields, _, _ := protocol.Parse(head)
		o.mpostPrefix = fields.Prefix(protocol.HeaderCIMOperation)

		overlaid, err := protocol.OverlayTransferEncoding(head, headerLen)
		if err != nil {
			return err
		}
		hl := headerLen
		if !overlaid {
			head, hl = protocol.InsertField(head, hl, protocol.HeaderTransferEncoding, protocol.CodingChunked)
		}
		head, _ = protocol.InsertField(head, hl, protocol.HeaderTrailer, protocol.TrailerNames(o.mpostPrefix))
		if err := c.sendLocked(head); err != nil {
			return err
		}
		body = m.Buffer[headerLen:]
	} else if m.Status == nil {
		body = m.Buffer
	}

	if len(body) > 0 {
		if err := c.sendLocked(protocol.AppendChunk(nil, body)); err != nil {
			return err
		}
	}
	if m.Complete {
		return c.sendLocked(protocol.AppendLastChunk(nil, o.mpostPrefix, o.status, o.languages))
	}
	return nil
}

// finishResponseLocked resets the response state after the last fragment
// and decides what happens to the connection.
func (c *Connection) finishResponseLocked(m *protocol.Message) transition {
	o := c.out
	c.out = outgoing{}
	c.responsePending.Store(false)
	logging.LogHTTPResponse(c.remoteAddr, o.written, c.requestCount.Load())

	if o.internalError {
		logging.Warn("Internal server error. Connection with IP address "+c.remoteAddr+" closed.",
			zap.String("remote_addr", c.remoteAddr),
		)
		c.closePending.Store(true)
		return toClose
	}
	if m.CloseConnect || o.closeConnect {
		logging.Debug("Closing connection after response",
			zap.String("remote_addr", c.remoteAddr),
		)
		c.closePending.Store(true)
		return toClose
	}
	c.idleStart.Store(time.Now().UnixNano())
	return toIdle
}

func (c *Connection) sendLocked(b []byte) error {
	n, err := c.writeAllLocked(b)
	c.out.written += n
	return err
}

// writeAllLocked writes b in slices of at most TCPBufferSize bytes.
func (c *Connection) writeAllLocked(b []byte) (int, error) {
	c.socket.SetWriteTimeout(c.settings.Load().WriteTimeout)
	written := 0
	for written < len(b) {
		end := min(written+protocol.TCPBufferSize, len(b))
		n, err := c.socket.Write(b[written:end])
		written += n
		if err != nil {
			return written, fmt.Errorf("%w: %w", ErrSocketWrite, err)
		}
	}
	logging.LogRawBytes("Sent to "+c.remoteAddr, b)
	return written, nil
}
