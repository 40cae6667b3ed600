package transport

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/muurk/wbemd/internal/logging"
	"github.com/muurk/wbemd/internal/monitor"
	"github.com/muurk/wbemd/internal/protocol"
	"github.com/muurk/wbemd/internal/secure"
	"go.uber.org/zap"
)

// Request methods accepted on the CIM port. GET and HEAD are added when
// web access is enabled.
var (
	cimMethods = []string{"POST", "PUT", "OPTIONS", "DELETE", "M-POST"}
	webMethods = []string{"GET", "HEAD"}
)

// longestMethod bounds how many bytes may arrive before the method token
// must be complete.
const longestMethod = len("OPTIONS")

// reserveLimit caps the buffer growth done up front for an announced body.
const reserveLimit = 16 << 20

// HandleReadable implements monitor.Connection. It drains the socket,
// advances the message parser and delivers a complete message to the
// sink.
func (c *Connection) HandleReadable(now time.Time) monitor.Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closePending.Load() {
		return monitor.OutcomeClose
	}

	if c.acceptPending.Load() {
		state, err := c.socket.Accept()
		switch state {
		case secure.HandshakePending:
			return monitor.OutcomeIdle
		case secure.HandshakeFailed:
			logging.Debug("Dropping connection after failed handshake",
				zap.String("remote_addr", c.remoteAddr),
				zap.Error(err),
			)
			return c.closeLocked()
		}
		c.acceptPending.Store(false)
		c.idleStart.Store(now.UnixNano())
	}

	eof, incomplete := c.readAvailableLocked()
	in := &c.in

	if c.server && !in.methodChecked && len(in.buf) > 5 {
		valid, decided := c.checkMethod(in.buf)
		if decided {
			if !valid {
				return c.readFailedLocked(protocol.NotImplemented("unsupported HTTP method"))
			}
			in.methodChecked = true
		}
	}

	if !in.headerFound && len(in.buf) > 0 {
		hb, found, err := protocol.ScanHeaderBlock(in.buf)
		if err != nil {
			return c.readFailedLocked(err)
		}
		if found {
			in.header = hb
			in.headerFound = true
			if want := hb.ContentOffset + min(hb.ContentLength, reserveLimit); hb.ContentLength > 0 && cap(in.buf) < want {
				grown := make([]byte, len(in.buf), want)
				copy(grown, in.buf)
				in.buf = grown
			}
		}
	}

	if in.headerFound && in.header.Chunked && in.header.ContentLength < 0 {
		complete, trailer, err := in.decoder.Decode(&in.buf, in.header.ContentOffset)
		if err != nil {
			return c.readFailedLocked(err)
		}
		if complete {
			in.header.ContentLength = len(in.buf) - in.header.ContentOffset
			if len(trailer) > 0 {
				if outcome, done := c.applyTrailerLocked(trailer); done {
					return outcome
				}
			}
		}
	}

	end := -1
	if in.headerFound && in.header.ContentLength >= 0 {
		end = in.header.ContentOffset + in.header.ContentLength
	}
	complete := (eof && !incomplete) || (end >= 0 && len(in.buf) >= end)
	if !complete {
		if eof {
			return c.closeLocked()
		}
		return monitor.OutcomeIdle
	}

	if len(in.buf) == 0 {
		if !c.server && c.awaitingResponse.Swap(false) {
			c.deliverLocked(protocol.NewMessage(nil))
		}
		return c.closeLocked()
	}

	return c.completeLocked(end, eof)
}

// readAvailableLocked appends everything the socket has to the incoming
// buffer. eof is set once the peer closed or the socket failed.
func (c *Connection) readAvailableLocked() (eof, incomplete bool) {
	for {
		n, err := c.socket.Read(c.readBuf)
		if n > 0 {
			c.in.buf = append(c.in.buf, c.readBuf[:n]...)
		}
		switch {
		case err == nil && n > 0:
			continue
		case errors.Is(err, secure.ErrWouldBlock):
			return false, c.socket.Incomplete()
		case err != nil && !errors.Is(err, io.EOF):
			logging.Debug("Socket read failed",
				zap.String("remote_addr", c.remoteAddr),
				zap.Error(err),
			)
		}
		return true, false
	}
}

// checkMethod looks at the request method once it can be told apart.
func (c *Connection) checkMethod(buf []byte) (valid, decided bool) {
	sp := bytes.IndexByte(buf, ' ')
	if sp < 0 {
		return false, len(buf) > longestMethod
	}
	method := string(buf[:sp])
	for _, m := range cimMethods {
		if method == m {
			return true, true
		}
	}
	if c.enableWeb {
		for _, m := range webMethods {
			if method == m {
				return true, true
			}
		}
	}
	return false, true
}

// applyTrailerLocked folds the trailer of a chunked message into the
// message. done is set when the message was rejected.
func (c *Connection) applyTrailerLocked(trailer protocol.Headers) (monitor.Outcome, bool) {
	in := &c.in
	t := protocol.InterpretTrailer(trailer)
	head := in.buf[:in.header.ContentOffset]

	if t.CIMError != "" {
		// A trailer error on a success status still fails the request.
		code := http.StatusBadRequest
		start, _, _, _ := protocol.Parse(head)
		if _, sc, _, ok := protocol.ParseStatusLine(start); ok && sc != 0 && sc != http.StatusOK {
			code = sc
		}
		return c.readFailedLocked(&protocol.StatusError{
			Code:     code,
			CIMError: t.CIMError,
			Detail:   "CIMError reported in chunk trailer",
		}), true
	}

	if t.Status != nil {
		// The body is discarded; the status moves into the header.
		_, fields, _, _ := protocol.Parse(head)
		prefix := fields.Prefix(protocol.HeaderCIMOperation)
		cut := len(head) - 1
		if bytes.HasSuffix(head, []byte(protocol.CRLF+protocol.CRLF)) {
			cut = len(head) - 2
		}
		rebuilt := make([]byte, 0, cut+128)
		rebuilt = append(rebuilt, head[:cut]...)
		rebuilt = protocol.AppendStatusFields(rebuilt, prefix, t.Status)
		rebuilt = append(rebuilt, protocol.CRLF...)
		in.buf = rebuilt
		in.header.ContentOffset = len(rebuilt)
		in.header.ContentLength = 0
	}

	if t.LanguagesSet {
		in.header.ContentLanguages = t.Languages
	}
	return monitor.OutcomeIdle, false
}

// completeLocked hands the accumulated message to the sink and resets the
// read state. Bytes beyond end belong to the next message.
func (c *Connection) completeLocked(end int, eof bool) monitor.Outcome {
	in := &c.in
	var leftover []byte
	if end >= 0 && len(in.buf) > end {
		leftover = bytes.Clone(in.buf[end:])
		in.buf = in.buf[:end]
	}

	msg := protocol.NewMessage(in.buf)
	msg.QueueID = c.id
	msg.RemoteAddr = c.remoteAddr
	msg.ContentLanguages = in.header.ContentLanguages
	c.requestCount.Add(1)

	start, fields, _, _ := protocol.Parse(in.buf)
	if c.server {
		method, uri, _, _ := protocol.ParseRequestLine(start)
		logging.LogHTTPRequest(c.remoteAddr, method, uri, len(msg.Buffer))

		c.out.acceptsChunked = in.header.AcceptsChunked()
		if v, ok := fields.Lookup(protocol.HeaderConnection, false); ok {
			c.out.closeConnect = strings.EqualFold(strings.TrimSpace(v), "close")
		}
		msg.CloseConnect = c.out.closeConnect
		c.responsePending.Store(true)
	} else {
		c.awaitingResponse.Store(false)
	}

	c.resetIncomingLocked(leftover)

	if !c.deliverLocked(msg) {
		if c.server {
			c.responsePending.Store(false)
		}
		return c.closeLocked()
	}
	if c.server {
		return monitor.OutcomeBusy
	}
	if eof {
		return c.closeLocked()
	}
	return monitor.OutcomeIdle
}

func (c *Connection) deliverLocked(msg *protocol.Message) bool {
	msg.QueueID = c.id
	msg.RemoteAddr = c.remoteAddr
	if err := c.sink.Enqueue(msg); err != nil {
		logging.Warn("Failed to deliver message",
			zap.String("remote_addr", c.remoteAddr),
			zap.Uint32("queue_id", c.sink.QueueID()),
			zap.Error(err),
		)
		return false
	}
	return true
}

// readFailedLocked reports a malformed message. A server answers with an
// error response; a client hands the error to its sink. Either way the
// connection closes.
func (c *Connection) readFailedLocked(err error) monitor.Outcome {
	se := protocol.AsStatusError(err)
	logging.Warn("Malformed HTTP message",
		zap.String("remote_addr", c.remoteAddr),
		zap.String("status", se.Status()),
		zap.String("detail", se.Detail),
	)
	resp := protocol.ErrorResponse(se.Code, se.CIMError, se.Detail)
	c.resetIncomingLocked(nil)

	if c.server {
		if _, werr := c.writeAllLocked(resp); werr != nil {
			logging.Debug("Failed to send error response",
				zap.String("remote_addr", c.remoteAddr),
				zap.Error(werr),
			)
		}
	} else {
		c.awaitingResponse.Store(false)
		c.deliverLocked(protocol.NewMessage(resp))
	}
	return c.closeLocked()
}

func (c *Connection) resetIncomingLocked(leftover []byte) {
	c.in = incoming{buf: leftover}
	if len(leftover) > 0 {
		c.pendingInput.Store(true)
	}
}

func (c *Connection) closeLocked() monitor.Outcome {
	c.closePending.Store(true)
	return monitor.OutcomeClose
}
