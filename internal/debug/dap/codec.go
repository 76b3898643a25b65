package dap

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
)

const (
	headerSeparator  = "\r\n\r\n"
	contentLengthKey = "content-length"

	// maxMessageSize bounds a single message body. A larger advertised
	// length almost certainly means the stream is desynchronized.
	maxMessageSize = 10 << 20
)

// Encoder writes protocol messages with Content-Length framing.
type Encoder struct {
	mu sync.Mutex
	w  io.Writer
}

// NewEncoder creates an encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode serializes msg to JSON and writes it with the framing header.
// Safe for concurrent use: each message is written atomically.
func (e *Encoder) Encode(msg any) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := fmt.Fprintf(e.w, "Content-Length: %d%s", len(body), headerSeparator); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if _, err := e.w.Write(body); err != nil {
		return fmt.Errorf("write body: %w", err)
	}
	return nil
}

// Decoder reads Content-Length framed messages from a byte stream.
// Bytes are accumulated in a growing buffer so messages may arrive in
// arbitrary chunk sizes. A header block without a parseable
// Content-Length is discarded and parsing resumes at the next block
// rather than failing the stream.
type Decoder struct {
	r          io.Reader
	buf        []byte
	contentLen int // -1 when no header has been parsed yet
	readBuf    []byte
}

// NewDecoder creates a decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{
		r:          r,
		contentLen: -1,
		readBuf:    make([]byte, 4096),
	}
}

// Decode returns the next message body. It blocks until a complete
// message is buffered or the underlying reader fails.
func (d *Decoder) Decode() (json.RawMessage, error) {
	for {
		if body, ok, err := d.next(); err != nil {
			return nil, err
		} else if ok {
			return body, nil
		}

		n, err := d.r.Read(d.readBuf)
		if n > 0 {
			d.buf = append(d.buf, d.readBuf[:n]...)
		}
		if err != nil {
			// Drain whatever is already buffered before reporting EOF.
			if body, ok, perr := d.next(); perr == nil && ok {
				return body, nil
			}
			return nil, err
		}
	}
}

// next attempts to extract one message from the buffer without reading.
func (d *Decoder) next() (json.RawMessage, bool, error) {
	for {
		if d.contentLen < 0 {
			idx := bytes.Index(d.buf, []byte(headerSeparator))
			if idx < 0 {
				return nil, false, nil
			}
			header := string(d.buf[:idx])
			d.buf = d.buf[idx+len(headerSeparator):]

			length, ok := parseContentLength(header)
			if !ok {
				// Malformed header block: drop it and keep scanning.
				continue
			}
			if length > maxMessageSize {
				return nil, false, fmt.Errorf("message size %d exceeds limit %d", length, maxMessageSize)
			}
			d.contentLen = length
		}

		if len(d.buf) < d.contentLen {
			return nil, false, nil
		}

		body := make([]byte, d.contentLen)
		copy(body, d.buf[:d.contentLen])
		d.buf = d.buf[d.contentLen:]
		d.contentLen = -1
		return body, true, nil
	}
}

// parseContentLength extracts the Content-Length value from a header
// block. Header names are matched case-insensitively.
func parseContentLength(header string) (int, bool) {
	for _, line := range strings.Split(header, "\r\n") {
		name, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		if strings.ToLower(strings.TrimSpace(name)) != contentLengthKey {
			continue
		}
		length, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || length < 0 {
			return 0, false
		}
		return length, true
	}
	return 0, false
}

// DecodeMessage parses a raw body into the protocol message union.
// Unknown event names are preserved as-is so callers can dispatch them
// generically.
func DecodeMessage(body json.RawMessage) (any, error) {
	var base ProtocolMessage
	if err := json.Unmarshal(body, &base); err != nil {
		return nil, fmt.Errorf("parse message: %w", err)
	}

	switch base.Type {
	case TypeRequest:
		var req Request
		if err := json.Unmarshal(body, &req); err != nil {
			return nil, fmt.Errorf("parse request: %w", err)
		}
		return &req, nil
	case TypeResponse:
		var resp Response
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("parse response: %w", err)
		}
		return &resp, nil
	case TypeEvent:
		var evt Event
		if err := json.Unmarshal(body, &evt); err != nil {
			return nil, fmt.Errorf("parse event: %w", err)
		}
		return &evt, nil
	default:
		return nil, fmt.Errorf("unknown message type %q", base.Type)
	}
}
