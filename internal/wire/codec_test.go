package wire

import (
	"bytes"
	"io"
	"testing"

	"github.com/recursivelm/rlm/internal/rlmtype"
	rlmerrors "github.com/recursivelm/rlm/pkg/errors"
)

func TestWriteFrameReadFrame_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	req := rlmtype.LMRequest{
		Messages:  []rlmtype.Message{{Role: "user", Content: "hello"}},
		Depth:     1,
		SessionID: "s1",
	}
	if err := WriteFrame(&buf, req); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	var got rlmtype.LMRequest
	if err := ReadFrame(&buf, &got, 0); err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if got.SessionID != req.SessionID || got.Depth != req.Depth || got.Messages[0].Content != "hello" {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestReadRawFrame_CleanEOFBeforeAnyBytes(t *testing.T) {
	_, err := ReadRawFrame(bytes.NewReader(nil), 0)
	if err != io.EOF {
		t.Fatalf("expected io.EOF on empty reader, got %v", err)
	}
}

func TestReadRawFrame_PartialLengthPrefixIsProtocolError(t *testing.T) {
	_, err := ReadRawFrame(bytes.NewReader([]byte{0x00, 0x01}), 0)
	if !rlmerrors.Is(err, rlmerrors.KindProtocol) {
		t.Fatalf("expected protocol error for truncated length prefix, got %v", err)
	}
}

func TestReadRawFrame_PartialPayloadIsProtocolError(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteRawFrame(&buf, []byte(`{"a":1}`)); err != nil {
		t.Fatalf("WriteRawFrame: %v", err)
	}
	truncated := buf.Bytes()[:buf.Len()-2]

	_, err := ReadRawFrame(bytes.NewReader(truncated), 0)
	if !rlmerrors.Is(err, rlmerrors.KindProtocol) {
		t.Fatalf("expected protocol error for truncated payload, got %v", err)
	}
}

func TestReadRawFrame_RejectsOversizedFrame(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteRawFrame(&buf, []byte(`{"a":1}`)); err != nil {
		t.Fatalf("WriteRawFrame: %v", err)
	}
	_, err := ReadRawFrame(&buf, 2)
	if !rlmerrors.Is(err, rlmerrors.KindProtocol) {
		t.Fatalf("expected protocol error for oversized frame, got %v", err)
	}
}

func TestFrameReader_ReadsMultipleFramesFromSameStream(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, rlmtype.Message{Role: "user", Content: "one"}); err != nil {
		t.Fatal(err)
	}
	if err := WriteFrame(&buf, rlmtype.Message{Role: "user", Content: "two"}); err != nil {
		t.Fatal(err)
	}

	fr := NewFrameReader(&buf, 0)
	var m1, m2 rlmtype.Message
	if err := fr.ReadFrame(&m1); err != nil {
		t.Fatal(err)
	}
	if err := fr.ReadFrame(&m2); err != nil {
		t.Fatal(err)
	}
	if m1.Content != "one" || m2.Content != "two" {
		t.Fatalf("got %q, %q", m1.Content, m2.Content)
	}
}
