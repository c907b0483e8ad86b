package rpc

import (
	"bytes"
	"fmt"

	xdr "github.com/rasky/go-xdr/xdr2"
)

// EncodeCall serializes a call header and its XDR body into one frame payload.
// A nil body encodes a call with no arguments.
func EncodeCall(xid, proc uint32, body interface{}) ([]byte, error) {
	var buf bytes.Buffer

	header := CallHeader{Xid: xid, Type: MsgCall, Proc: proc}
	if _, err := xdr.Marshal(&buf, &header); err != nil {
		return nil, fmt.Errorf("marshal call header: %w", err)
	}

	if body != nil {
		if _, err := xdr.Marshal(&buf, body); err != nil {
			return nil, fmt.Errorf("marshal call body: %w", err)
		}
	}

	return buf.Bytes(), nil
}

// DecodeCall parses the call header from a frame payload and returns the
// remaining bytes as the undecoded body.
func DecodeCall(payload []byte) (*CallHeader, []byte, error) {
	r := bytes.NewReader(payload)

	var header CallHeader
	if _, err := xdr.Unmarshal(r, &header); err != nil {
		return nil, nil, fmt.Errorf("unmarshal call header: %w", err)
	}
	if header.Type != MsgCall {
		return nil, nil, fmt.Errorf("expected CALL, got message type %d", header.Type)
	}

	body := payload[len(payload)-r.Len():]
	return &header, body, nil
}

// EncodeReply serializes a successful reply with the given XDR body.
// A nil body encodes a reply with no results.
func EncodeReply(xid uint32, body interface{}) ([]byte, error) {
	var buf bytes.Buffer

	header := ReplyHeader{Xid: xid, Type: MsgReply, Status: StatusOK}
	if _, err := xdr.Marshal(&buf, &header); err != nil {
		return nil, fmt.Errorf("marshal reply header: %w", err)
	}

	if body != nil {
		if _, err := xdr.Marshal(&buf, body); err != nil {
			return nil, fmt.Errorf("marshal reply body: %w", err)
		}
	}

	return buf.Bytes(), nil
}

// EncodeErrorReply serializes a failed reply. No body follows the header;
// msg carries the error text back to the caller.
func EncodeErrorReply(xid, status uint32, msg string) ([]byte, error) {
	var buf bytes.Buffer

	header := ReplyHeader{Xid: xid, Type: MsgReply, Status: status, Message: msg}
	if _, err := xdr.Marshal(&buf, &header); err != nil {
		return nil, fmt.Errorf("marshal reply header: %w", err)
	}

	return buf.Bytes(), nil
}

// DecodeReply parses the reply header from a frame payload and returns the
// remaining bytes as the undecoded body.
func DecodeReply(payload []byte) (*ReplyHeader, []byte, error) {
	r := bytes.NewReader(payload)

	var header ReplyHeader
	if _, err := xdr.Unmarshal(r, &header); err != nil {
		return nil, nil, fmt.Errorf("unmarshal reply header: %w", err)
	}
	if header.Type != MsgReply {
		return nil, nil, fmt.Errorf("expected REPLY, got message type %d", header.Type)
	}

	body := payload[len(payload)-r.Len():]
	return &header, body, nil
}

// DecodeBody unmarshals an XDR body into v.
func DecodeBody(body []byte, v interface{}) error {
	if _, err := xdr.Unmarshal(bytes.NewReader(body), v); err != nil {
		return fmt.Errorf("unmarshal body: %w", err)
	}
	return nil
}
