package main

import (
	"context"
	"io"
	"net"
	"time"
)

// tcpSender opens one connection per probe and reads until the endpoint
// closes or the deadline passes. One-shot connections keep probe responses
// from interleaving across lanes.
type tcpSender struct {
	addr    string
	timeout time.Duration
}

func newTCPSender(addr string) *tcpSender {
	return &tcpSender{addr: addr, timeout: 5 * time.Second}
}

func (t *tcpSender) Send(ctx context.Context, probe []byte) ([]byte, error) {
	dialer := net.Dialer{Timeout: t.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", t.addr)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	deadline := time.Now().Add(t.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, err
	}

	if _, err := conn.Write(probe); err != nil {
		return nil, err
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		tc.CloseWrite()
	}

	resp, err := io.ReadAll(conn)
	if err != nil {
		// A deadline with bytes already in hand is a complete-enough
		// response; a bare timeout is a transport failure.
		if ne, ok := err.(net.Error); ok && ne.Timeout() && len(resp) > 0 {
			return resp, nil
		}
		return nil, err
	}
	return resp, nil
}
