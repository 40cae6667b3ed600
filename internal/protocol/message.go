package protocol

import "github.com/muurk/wbemd/internal/message"

// Message is a complete HTTP message or one fragment of a response.
type Message struct {
	Buffer []byte

	// QueueID names the connection the message arrived on or is routed to.
	QueueID uint32

	// Fragment sequencing for multi-part responses.
	Index    uint32
	First    bool
	Complete bool

	RemoteAddr       string
	ContentLanguages []string

	// Status is the CIM error carried by a response fragment, if any.
	Status *CIMStatus

	// CloseConnect asks the connection to close once the message is sent.
	CloseConnect bool
}

// NewMessage wraps buf as a single, self-contained message.
func NewMessage(buf []byte) *Message {
	return &Message{Buffer: buf, First: true, Complete: true}
}

// Type implements message.Message
func (*Message) Type() message.Type { return message.TypeHTTP }

// Parse parses the start line and headers of the message.
func (m *Message) Parse() (string, Headers, int, error) {
	return Parse(m.Buffer)
}

// HeaderLength returns the length of the header block including its
// terminator, or -1 if the buffer has none.
func (m *Message) HeaderLength() int {
	return HeaderLength(m.Buffer)
}

// Body returns the bytes after the header block.
func (m *Message) Body() []byte {
	n := m.HeaderLength()
	if n < 0 {
		return nil
	}
	return m.Buffer[n:]
}

// HeaderLength returns the length of the header block of buf including the
// blank line, accepting CRLF or LF line endings. It returns -1 when the
// block is not terminated.
func HeaderLength(buf []byte) int {
	line := 0
	for first := true; ; first = false {
		pos, width := FindSeparator(buf, line)
		if pos < 0 {
			return -1
		}
		if pos == line && !first {
			return pos + width
		}
		line = pos + width
	}
}

// IsEmpty reports whether the message carries no bytes.
func (m *Message) IsEmpty() bool { return len(m.Buffer) == 0 }
