// Package client wraps a raw RPC connection with typed calls for the swarm
// protocol.
package client

import (
	"context"

	"latmon/net/crpc"
	"latmon/swarm/protocol"
)

type Client struct {
	*crpc.Client
}

func Dial(address string) (*Client, error) {
	rpcc, err := crpc.Dial("tcp4", address)
	if err != nil {
		return nil, err
	}
	return &Client{Client: rpcc}, nil
}

// Clock fetches the current clock reading of an agent.
func (c *Client) Clock(ctx context.Context, req *protocol.ClockRequest) (*protocol.ClockResponse, error) {
	res := &protocol.ClockResponse{}
	if err := c.Call(ctx, protocol.MethodClock, req, res); err != nil {
		return nil, err
	}
	return res, nil
}

// Status fetches the probe statistics of a hub.
func (c *Client) Status(ctx context.Context, req *protocol.StatusRequest) (*protocol.StatusResponse, error) {
	res := &protocol.StatusResponse{}
	if err := c.Call(ctx, protocol.MethodStatus, req, res); err != nil {
		return nil, err
	}
	return res, nil
}
