package dap

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chunkReader returns at most n bytes per Read call.
type chunkReader struct {
	data []byte
	n    int
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	n := r.n
	if n > len(r.data) {
		n = len(r.data)
	}
	if n > len(p) {
		n = len(p)
	}
	copy(p, r.data[:n])
	r.data = r.data[n:]
	return n, nil
}

func encodeAll(t *testing.T, msgs ...any) []byte {
	t.Helper()
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	for _, msg := range msgs {
		require.NoError(t, enc.Encode(msg))
	}
	return buf.Bytes()
}

func TestCodec_RoundTrip(t *testing.T) {
	req := Request{
		ProtocolMessage: ProtocolMessage{Seq: 1, Type: TypeRequest},
		Command:         "initialize",
		Arguments:       json.RawMessage(`{"adapterID":"node"}`),
	}
	data := encodeAll(t, &req)

	dec := NewDecoder(bytes.NewReader(data))
	body, err := dec.Decode()
	require.NoError(t, err)

	msg, err := DecodeMessage(body)
	require.NoError(t, err)
	decoded, ok := msg.(*Request)
	require.True(t, ok)
	assert.Equal(t, 1, decoded.Seq)
	assert.Equal(t, "initialize", decoded.Command)
}

func TestCodec_ChunkedDelivery(t *testing.T) {
	msgs := []any{
		&Event{ProtocolMessage: ProtocolMessage{Seq: 1, Type: TypeEvent}, Event: "initialized"},
		&Response{ProtocolMessage: ProtocolMessage{Seq: 2, Type: TypeResponse}, RequestSeq: 1, Success: true, Command: "initialize"},
		&Event{ProtocolMessage: ProtocolMessage{Seq: 3, Type: TypeEvent}, Event: "stopped", Body: json.RawMessage(`{"reason":"breakpoint","threadId":1}`)},
	}
	data := encodeAll(t, msgs...)

	// One byte at a time must decode identically to all at once.
	for _, chunkSize := range []int{1, 3, 7, len(data)} {
		t.Run(fmt.Sprintf("chunk_%d", chunkSize), func(t *testing.T) {
			dec := NewDecoder(&chunkReader{data: append([]byte(nil), data...), n: chunkSize})
			for i := range msgs {
				body, err := dec.Decode()
				require.NoError(t, err, "message %d", i)
				expected, merr := json.Marshal(msgs[i])
				require.NoError(t, merr)
				assert.JSONEq(t, string(expected), string(body))
			}
			_, err := dec.Decode()
			assert.ErrorIs(t, err, io.EOF)
		})
	}
}

func TestCodec_CaseInsensitiveHeader(t *testing.T) {
	body := `{"seq":1,"type":"event","event":"initialized"}`
	data := fmt.Sprintf("content-length: %d\r\n\r\n%s", len(body), body)

	dec := NewDecoder(bytes.NewReader([]byte(data)))
	got, err := dec.Decode()
	require.NoError(t, err)
	assert.JSONEq(t, body, string(got))
}

func TestCodec_MalformedHeaderRecovery(t *testing.T) {
	body := `{"seq":1,"type":"event","event":"initialized"}`
	// A garbage header block precedes a valid message; the decoder must
	// skip it and resume.
	data := "X-Garbage: nope\r\n\r\n" +
		fmt.Sprintf("Content-Length: %d\r\n\r\n%s", len(body), body)

	dec := NewDecoder(bytes.NewReader([]byte(data)))
	got, err := dec.Decode()
	require.NoError(t, err)
	assert.JSONEq(t, body, string(got))
}

func TestCodec_ExtraHeadersIgnored(t *testing.T) {
	body := `{"seq":1,"type":"event","event":"initialized"}`
	data := fmt.Sprintf("Content-Type: application/json\r\nContent-Length: %d\r\n\r\n%s", len(body), body)

	dec := NewDecoder(bytes.NewReader([]byte(data)))
	got, err := dec.Decode()
	require.NoError(t, err)
	assert.JSONEq(t, body, string(got))
}

func TestCodec_OversizedMessageRejected(t *testing.T) {
	data := fmt.Sprintf("Content-Length: %d\r\n\r\n", maxMessageSize+1)
	dec := NewDecoder(bytes.NewReader([]byte(data)))
	_, err := dec.Decode()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds limit")
}

func TestDecodeMessage_UnknownEventPreserved(t *testing.T) {
	body := json.RawMessage(`{"seq":5,"type":"event","event":"customTelemetry","body":{"x":1}}`)
	msg, err := DecodeMessage(body)
	require.NoError(t, err)

	evt, ok := msg.(*Event)
	require.True(t, ok)
	assert.Equal(t, "customTelemetry", evt.Event)
	assert.JSONEq(t, `{"x":1}`, string(evt.Body))
}

func TestDecodeMessage_UnknownTypeRejected(t *testing.T) {
	_, err := DecodeMessage(json.RawMessage(`{"seq":1,"type":"bogus"}`))
	require.Error(t, err)
}
