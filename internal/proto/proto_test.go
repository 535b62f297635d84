package proto

import (
	"bytes"
	"errors"
	"testing"
)

func TestRequestRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		req  Request
	}{
		{"get", Request{Kind: ReqGet, Key: "hello"}},
		{"set", Request{Kind: ReqSet, Key: "hello", Value: "world", HasValue: true}},
		{"remove", Request{Kind: ReqSet, Key: "hello"}},
		{"set empty string value", Request{Kind: ReqSet, Key: "k", Value: "", HasValue: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := WriteRequest(&buf, tt.req); err != nil {
				t.Fatalf("WriteRequest() error = %v", err)
			}

			got, err := ReadRequest(&buf)
			if err != nil {
				t.Fatalf("ReadRequest() error = %v", err)
			}
			if got != tt.req {
				t.Errorf("ReadRequest() = %+v, want %+v", got, tt.req)
			}
		})
	}
}

func TestResponseRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		resp Response
	}{
		{"get hit", Response{Kind: RespMessage, Text: "hello"}},
		{"set/remove acknowledgement", Response{Kind: RespMessage, Text: ""}},
		{"key not found", Response{Kind: RespKeyNotFound}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := WriteResponse(&buf, tt.resp); err != nil {
				t.Fatalf("WriteResponse() error = %v", err)
			}

			got, err := ReadResponse(&buf)
			if err != nil {
				t.Fatalf("ReadResponse() error = %v", err)
			}
			if got != tt.resp {
				t.Errorf("ReadResponse() = %+v, want %+v", got, tt.resp)
			}
		})
	}
}

func TestReadRequestUnknownKind(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0xFF})
	_, err := ReadRequest(buf)
	if !errors.Is(err, ErrProtocol) {
		t.Errorf("ReadRequest() error = %v, want ErrProtocol", err)
	}
}

func TestReadStringOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{byte(ReqGet)})
	buf.Write([]byte{0x7F, 0xFF, 0xFF, 0xFF}) // huge big-endian length prefix
	_, err := ReadRequest(&buf)
	if !errors.Is(err, ErrProtocol) {
		t.Errorf("ReadRequest() error = %v, want ErrProtocol", err)
	}
}
