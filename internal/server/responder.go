package server

import (
	"net/http"
	"strings"

	"github.com/muurk/wbemd/internal/logging"
	"github.com/muurk/wbemd/internal/message"
	"github.com/muurk/wbemd/internal/protocol"
	"github.com/muurk/wbemd/internal/version"
	"go.uber.org/zap"
)

const defaultContentType = "application/xml; charset=utf-8"

// Responder answers requests taken from the server's sink queue. It stands
// in for a CIM operation dispatcher: POST and M-POST bodies are echoed back
// in fragments of ChunkSize bytes.
type Responder struct {
	ChunkSize int

	lookup func(queueID uint32) message.Queue
}

// NewResponder creates a responder that routes replies through the message
// registry.
func NewResponder(chunkSize int) *Responder {
	return &Responder{ChunkSize: chunkSize, lookup: message.Lookup}
}

// Handle answers one request. It is safe for concurrent use.
func (r *Responder) Handle(msg message.Message) {
	req, ok := msg.(*protocol.Message)
	if !ok {
		logging.Warn("Responder ignoring message", zap.Stringer("type", msg.Type()))
		return
	}

	frags := r.Respond(req)
	q := r.lookup(req.QueueID)
	if q == nil {
		logging.Debug("Dropping response for closed connection",
			zap.Uint32("queue_id", req.QueueID),
			zap.String("remote_addr", req.RemoteAddr),
		)
		return
	}
	for _, f := range frags {
		if err := q.Enqueue(f); err != nil {
			logging.Debug("Connection refused response fragment",
				zap.Uint32("queue_id", req.QueueID),
				zap.Uint32("index", f.Index),
				zap.Error(err),
			)
			return
		}
	}
}

// Respond builds the response fragments for req.
func (r *Responder) Respond(req *protocol.Message) []*protocol.Message {
	startLine, fields, _, err := req.Parse()
	if err != nil {
		return r.single(req, protocol.ErrorResponseFor(err))
	}
	method, _, _, err := protocol.ParseRequestLine(startLine)
	if err != nil {
		return r.single(req, protocol.ErrorResponseFor(err))
	}

	switch method {
	case http.MethodOptions:
		return r.single(req, protocol.ResponseHeader(http.StatusOK, optionsHeaders()))
	case http.MethodPost, "M-POST":
		return r.echo(req, fields)
	case http.MethodGet, http.MethodHead:
		return r.single(req, protocol.ErrorResponse(http.StatusNotFound, "", ""))
	default:
		return r.single(req, protocol.ErrorResponse(http.StatusMethodNotAllowed, "", method))
	}
}

func optionsHeaders() protocol.Headers {
	return protocol.Headers{
		{Name: protocol.HeaderServer, Value: version.Token()},
		{Name: protocol.HeaderCIMProtocolVersion, Value: version.CIMProtocolVersion},
		{Name: protocol.HeaderCIMSupportedFunctionalGroups, Value: "basic-read, basic-write"},
		{Name: protocol.HeaderCIMSupportsMultipleOperations, Value: "false"},
	}
}

// echo returns the request body as a CIM operation response. The first
// fragment carries the header block.
func (r *Responder) echo(req *protocol.Message, fields protocol.Headers) []*protocol.Message {
	body := req.Body()

	contentType, ok := fields.Lookup(protocol.HeaderContentType, false)
	if !ok || strings.TrimSpace(contentType) == "" {
		contentType = defaultContentType
	}
	headers := protocol.Headers{
		{Name: protocol.HeaderServer, Value: version.Token()},
		{Name: protocol.HeaderContentType, Value: contentType},
	}
	if _, ok := fields.Lookup(protocol.HeaderCIMOperation, true); ok {
		prefix := fields.Prefix(protocol.HeaderCIMOperation)
		headers = append(headers, protocol.Header{Name: prefix + protocol.HeaderCIMOperation, Value: "MethodResponse"})
	}
	head := protocol.ResponseHeader(http.StatusOK, headers)

	size := r.ChunkSize
	if size <= 0 || size >= len(body) {
		return r.single(req, append(head, body...))
	}

	var frags []*protocol.Message
	first := append(head, body[:size]...)
	frags = append(frags, &protocol.Message{Buffer: first, QueueID: req.QueueID, First: true})
	for off := size; off < len(body); off += size {
		end := min(off+size, len(body))
		chunk := make([]byte, end-off)
		copy(chunk, body[off:end])
		frags = append(frags, &protocol.Message{
			Buffer:  chunk,
			QueueID: req.QueueID,
			Index:   uint32(len(frags)),
		})
	}
	last := frags[len(frags)-1]
	last.Complete = true
	last.CloseConnect = req.CloseConnect
	return frags
}

func (r *Responder) single(req *protocol.Message, buf []byte) []*protocol.Message {
	resp := protocol.NewMessage(buf)
	resp.QueueID = req.QueueID
	resp.CloseConnect = req.CloseConnect
	return []*protocol.Message{resp}
}
