package rpc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	payload := []byte("piece data goes here")

	var buf bytes.Buffer
	if err := WriteFrame(&buf, payload); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}

	got, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("payload mismatch: got %q, want %q", got, payload)
	}
}

func TestFrameEmptyPayload(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, nil); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}

	got, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty payload, got %d bytes", len(got))
	}
}

func TestReadFrameRejectsOversize(t *testing.T) {
	// Forge a header claiming a payload beyond MaxFrameSize.
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(MaxFrameSize+1)|0x80000000)

	_, err := ReadFrame(bytes.NewReader(header[:]))
	if err == nil {
		t.Fatal("expected error for oversize frame")
	}
}

func TestReadFrameEOFOnClosedPeer(t *testing.T) {
	_, err := ReadFrame(bytes.NewReader(nil))
	if !errors.Is(err, io.EOF) {
		t.Errorf("expected io.EOF for empty stream, got %v", err)
	}
}

func TestReadFrameReassemblesFragments(t *testing.T) {
	var buf bytes.Buffer

	writeFragment := func(data []byte, last bool) {
		var header [4]byte
		raw := uint32(len(data))
		if last {
			raw |= 0x80000000
		}
		binary.BigEndian.PutUint32(header[:], raw)
		buf.Write(header[:])
		buf.Write(data)
	}

	writeFragment([]byte("hello "), false)
	writeFragment([]byte("world"), true)

	got, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if string(got) != "hello world" {
		t.Errorf("expected reassembled record, got %q", got)
	}
}

type statTaskRequest struct {
	TaskID string
}

type statTaskResponse struct {
	TaskID        string
	ContentLength uint64
	PieceCount    uint32
}

func TestCallRoundTrip(t *testing.T) {
	req := statTaskRequest{TaskID: "abc123"}

	payload, err := EncodeCall(7, ProcStatTask, &req)
	if err != nil {
		t.Fatalf("EncodeCall failed: %v", err)
	}

	header, body, err := DecodeCall(payload)
	if err != nil {
		t.Fatalf("DecodeCall failed: %v", err)
	}
	if header.Xid != 7 {
		t.Errorf("expected xid 7, got %d", header.Xid)
	}
	if header.Proc != ProcStatTask {
		t.Errorf("expected proc %d, got %d", ProcStatTask, header.Proc)
	}

	var decoded statTaskRequest
	if err := DecodeBody(body, &decoded); err != nil {
		t.Fatalf("DecodeBody failed: %v", err)
	}
	if decoded.TaskID != "abc123" {
		t.Errorf("expected task ID abc123, got %q", decoded.TaskID)
	}
}

func TestReplyRoundTrip(t *testing.T) {
	resp := statTaskResponse{TaskID: "abc123", ContentLength: 1 << 20, PieceCount: 256}

	payload, err := EncodeReply(9, &resp)
	if err != nil {
		t.Fatalf("EncodeReply failed: %v", err)
	}

	header, body, err := DecodeReply(payload)
	if err != nil {
		t.Fatalf("DecodeReply failed: %v", err)
	}
	if header.Xid != 9 {
		t.Errorf("expected xid 9, got %d", header.Xid)
	}
	if header.Status != StatusOK {
		t.Errorf("expected StatusOK, got %d", header.Status)
	}

	var decoded statTaskResponse
	if err := DecodeBody(body, &decoded); err != nil {
		t.Fatalf("DecodeBody failed: %v", err)
	}
	if decoded.PieceCount != 256 {
		t.Errorf("expected 256 pieces, got %d", decoded.PieceCount)
	}
}

func TestErrorReplyCarriesMessage(t *testing.T) {
	payload, err := EncodeErrorReply(3, StatusNotFound, "task not found")
	if err != nil {
		t.Fatalf("EncodeErrorReply failed: %v", err)
	}

	header, body, err := DecodeReply(payload)
	if err != nil {
		t.Fatalf("DecodeReply failed: %v", err)
	}
	if header.Status != StatusNotFound {
		t.Errorf("expected StatusNotFound, got %d", header.Status)
	}
	if header.Message != "task not found" {
		t.Errorf("expected error message, got %q", header.Message)
	}
	if len(body) != 0 {
		t.Errorf("error reply must carry no body, got %d bytes", len(body))
	}
}

func TestDecodeCallRejectsReply(t *testing.T) {
	payload, err := EncodeReply(1, nil)
	if err != nil {
		t.Fatalf("EncodeReply failed: %v", err)
	}
	if _, _, err := DecodeCall(payload); err == nil {
		t.Error("expected error decoding a REPLY as a CALL")
	}
}
