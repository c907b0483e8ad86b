package rpc

import (
	"context"
	"errors"
	"net"
	"testing"
)

func TestConnCall(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	go func() {
		defer server.Close()

		payload, err := ReadFrame(server)
		if err != nil {
			return
		}
		header, body, err := DecodeCall(payload)
		if err != nil {
			return
		}

		var req statTaskRequest
		if err := DecodeBody(body, &req); err != nil {
			return
		}

		reply, err := EncodeReply(header.Xid, &statTaskResponse{
			TaskID:     req.TaskID,
			PieceCount: 4,
		})
		if err != nil {
			return
		}
		_ = WriteFrame(server, reply)
	}()

	conn := NewConn(client)

	var resp statTaskResponse
	err := conn.Call(context.Background(), ProcStatTask, &statTaskRequest{TaskID: "t1"}, &resp)
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if resp.TaskID != "t1" || resp.PieceCount != 4 {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestConnCallRemoteError(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	go func() {
		defer server.Close()

		payload, err := ReadFrame(server)
		if err != nil {
			return
		}
		header, _, err := DecodeCall(payload)
		if err != nil {
			return
		}

		reply, err := EncodeErrorReply(header.Xid, StatusNotFound, "no such task")
		if err != nil {
			return
		}
		_ = WriteFrame(server, reply)
	}()

	conn := NewConn(client)

	err := conn.Call(context.Background(), ProcStatTask, &statTaskRequest{TaskID: "missing"}, nil)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
