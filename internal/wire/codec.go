// Package wire implements the framed-message codec used on the raw
// TCP connection between the LM Handler (C3) and a non-isolated
// sandbox's recursive-call dispatcher (C8): every message is a
// 4-byte big-endian length prefix followed by that many bytes of
// UTF-8 JSON.
package wire

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	rlmerrors "github.com/recursivelm/rlm/pkg/errors"
)

// DefaultMaxFrameSize is the cap ReadFrame and ReadRawFrame apply when
// maxSize is 0; WriteFrame applies no cap. The codec itself imposes no limit;
// this exists so a single misbehaving peer can't allocate an unbounded
// buffer for us.
const DefaultMaxFrameSize = 64 << 20 // 64 MiB

const lengthPrefixSize = 4

// WriteFrame encodes v as JSON and writes it to w as one frame: a
// 4-byte big-endian length prefix followed by the JSON bytes.
func WriteFrame(w io.Writer, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return rlmerrors.Wrap(rlmerrors.KindProtocol, "marshal frame payload", err)
	}
	return WriteRawFrame(w, payload)
}

// WriteRawFrame writes payload as one frame, prefixed by its length.
func WriteRawFrame(w io.Writer, payload []byte) error {
	var header [lengthPrefixSize]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))

	if _, err := w.Write(header[:]); err != nil {
		return rlmerrors.Transport("write frame length prefix", err)
	}
	if _, err := w.Write(payload); err != nil {
		return rlmerrors.Transport("write frame payload", err)
	}
	return nil
}

// ReadFrame reads one frame from r and unmarshals its JSON payload
// into v. maxSize bounds the accepted payload length; pass 0 to use
// DefaultMaxFrameSize.
func ReadFrame(r io.Reader, v any, maxSize uint32) error {
	payload, err := ReadRawFrame(r, maxSize)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return rlmerrors.Wrap(rlmerrors.KindProtocol, "unmarshal frame payload", err)
	}
	return nil
}

// ReadRawFrame reads one frame from r and returns its raw payload
// bytes. A partial frame at EOF (including a partial length prefix)
// is reported as a ProtocolError, per the codec's contract.
func ReadRawFrame(r io.Reader, maxSize uint32) ([]byte, error) {
	if maxSize == 0 {
		maxSize = DefaultMaxFrameSize
	}

	var header [lengthPrefixSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, partialFrameErr("read frame length prefix", err)
	}

	size := binary.BigEndian.Uint32(header[:])
	if size > maxSize {
		return nil, rlmerrors.New(rlmerrors.KindProtocol,
			fmt.Sprintf("frame size %d exceeds max %d", size, maxSize))
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, partialFrameErr("read frame payload", err)
	}
	return payload, nil
}

// partialFrameErr classifies an io.ReadFull error: a clean EOF before
// any bytes were read still means "no frame present" (the caller's
// connection-closed case), while ErrUnexpectedEOF or an EOF after a
// short read is a genuine partial frame and a protocol violation.
func partialFrameErr(action string, err error) error {
	if err == io.EOF {
		return io.EOF
	}
	return rlmerrors.Wrap(rlmerrors.KindProtocol, action, err)
}

// FrameReader adapts a bufio.Reader so repeated ReadFrame calls on the
// same connection don't re-wrap it; it is otherwise a thin pass-through.
type FrameReader struct {
	r       *bufio.Reader
	maxSize uint32
}

func NewFrameReader(r io.Reader, maxSize uint32) *FrameReader {
	return &FrameReader{r: bufio.NewReader(r), maxSize: maxSize}
}

func (fr *FrameReader) ReadFrame(v any) error {
	return ReadFrame(fr.r, v, fr.maxSize)
}

func (fr *FrameReader) ReadRawFrame() ([]byte, error) {
	return ReadRawFrame(fr.r, fr.maxSize)
}
