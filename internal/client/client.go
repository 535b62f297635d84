// Package client implements the TCP client side of the wire protocol: dial,
// send one request, read one response, close.
package client

import (
	"fmt"
	"net"

	"github.com/aether-kv/aether-kv/internal/engine"
	"github.com/aether-kv/aether-kv/internal/proto"
)

// Client dials addr fresh for every call; the protocol is one
// request/response per connection, so there is no persistent state to hold
// open between calls.
type Client struct {
	addr string
}

// New returns a Client that dials addr.
func New(addr string) *Client {
	return &Client{addr: addr}
}

func (c *Client) roundTrip(req proto.Request) (proto.Response, error) {
	conn, err := net.Dial("tcp", c.addr)
	if err != nil {
		return proto.Response{}, fmt.Errorf("client: dialing %s: %w", c.addr, err)
	}
	defer conn.Close()

	if err := proto.WriteRequest(conn, req); err != nil {
		return proto.Response{}, fmt.Errorf("client: sending request: %w", err)
	}

	resp, err := proto.ReadResponse(conn)
	if err != nil {
		return proto.Response{}, fmt.Errorf("client: reading response: %w", err)
	}
	return resp, nil
}

// Get fetches key. It returns ("", false, nil) on a KeyNotFound response.
func (c *Client) Get(key string) (string, bool, error) {
	resp, err := c.roundTrip(proto.Request{Kind: proto.ReqGet, Key: key})
	if err != nil {
		return "", false, err
	}
	switch resp.Kind {
	case proto.RespKeyNotFound:
		return "", false, nil
	case proto.RespMessage:
		return resp.Text, true, nil
	default:
		return "", false, fmt.Errorf("client: unexpected response kind %d", resp.Kind)
	}
}

// Set stores value under key.
func (c *Client) Set(key, value string) error {
	resp, err := c.roundTrip(proto.Request{Kind: proto.ReqSet, Key: key, Value: value, HasValue: true})
	if err != nil {
		return err
	}
	if resp.Kind != proto.RespMessage {
		return fmt.Errorf("client: unexpected response kind %d for set", resp.Kind)
	}
	return nil
}

// Remove deletes key. It returns engine.ErrKeyNotFound if the server
// reports the key was already absent.
func (c *Client) Remove(key string) error {
	resp, err := c.roundTrip(proto.Request{Kind: proto.ReqSet, Key: key})
	if err != nil {
		return err
	}
	if resp.Kind == proto.RespKeyNotFound {
		return fmt.Errorf("client: remove %q: %w", key, engine.ErrKeyNotFound)
	}
	return nil
}
