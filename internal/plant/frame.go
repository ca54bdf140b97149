package plant

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// Protocol commands.
const (
	cmdInfo = "info"
	cmdGet  = "get"
	cmdSet  = "set"
)

// errorKey is the response key carrying a backend error message.
const errorKey = "ERR"

// maxFrameSize bounds a single frame body. Larger frames are treated as a
// desync and the connection is dropped.
const maxFrameSize = 16 << 20

// frameHeaderSize is the length prefix: 4 bytes, big-endian.
const frameHeaderSize = 4

// writeFrame marshals v and writes it as one length-prefixed frame.
func writeFrame(w io.Writer, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	if len(body) > maxFrameSize {
		return fmt.Errorf("%w: frame of %d bytes exceeds limit", ErrProtocol, len(body))
	}

	buf := make([]byte, frameHeaderSize+len(body))
	binary.BigEndian.PutUint32(buf[:frameHeaderSize], uint32(len(body))) //nolint:gosec // bounded by maxFrameSize
	copy(buf[frameHeaderSize:], body)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// readFrame reads one length-prefixed frame body.
func readFrame(r io.Reader) ([]byte, error) {
	var hdr [frameHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("read frame size: %w", err)
	}

	size := binary.BigEndian.Uint32(hdr[:])
	if size > maxFrameSize {
		return nil, fmt.Errorf("%w: frame of %d bytes exceeds limit", ErrProtocol, size)
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("read frame body: %w", err)
	}
	return body, nil
}

// request builds the [command, args] array sent to the backend.
func request(cmd string, args any) []any {
	return []any{cmd, args}
}

// remoteError returns ErrRemote if body is an {"ERR": ...} object.
func remoteError(body []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		// Not an object; cannot be an error response.
		return nil //nolint:nilerr // non-object bodies are decoded by the caller
	}
	raw, ok := fields[errorKey]
	if !ok {
		return nil
	}
	var msg string
	if err := json.Unmarshal(raw, &msg); err != nil {
		msg = string(raw)
	}
	return fmt.Errorf("%w: %s", ErrRemote, msg)
}

// errorResponse builds the object a server sends for a failed request.
func errorResponse(err error) map[string]string {
	return map[string]string{errorKey: err.Error()}
}
