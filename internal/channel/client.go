package channel

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"
)

const (
	dialTimeout = 5 * time.Second

	// responseReadTimeout covers async client starts that fetch a datafile
	responseReadTimeout = 60 * time.Second

	maxResponseSize = 16 * 1024 * 1024
)

// Client sends calls to a Server; each call uses a new connection
type Client struct {
	socketPath string
}

// NewClient creates a client for the socket at socketPath
func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath}
}

// Call invokes method and decodes the reply data into result when both are non-nil.
// Failure replies are returned as *RemoteError.
func (c *Client) Call(ctx context.Context, method string, arguments map[string]any, result any) error {
	response, err := c.send(ctx, method, arguments)
	if err != nil {
		return fmt.Errorf("calling %q on %s: %w", method, c.socketPath, err)
	}

	if !response.OK {
		return &RemoteError{
			Method:  method,
			Code:    response.Code,
			Message: response.Message,
			Details: response.Details,
		}
	}

	if result != nil && len(response.Data) > 0 {
		if err := Unmarshal(response.Data, result); err != nil {
			return fmt.Errorf("decoding response data for %q: %w", method, err)
		}
	}

	return nil
}

// Invoke is Call decoding the reply into an untyped value; nil data yields nil
func (c *Client) Invoke(ctx context.Context, method string, arguments map[string]any) (any, error) {
	var result any
	if err := c.Call(ctx, method, arguments, &result); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) send(ctx context.Context, method string, arguments map[string]any) (*Response, error) {
	request := Request{Method: method}
	if arguments != nil {
		raw, err := Marshal(arguments)
		if err != nil {
			return nil, fmt.Errorf("encoding arguments: %w", err)
		}
		request.Arguments = raw
	}

	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	if err := newEncoder(conn).Encode(request); err != nil {
		return nil, fmt.Errorf("writing request: %w", err)
	}

	if unixConn, ok := conn.(*net.UnixConn); ok {
		unixConn.CloseWrite()
	}

	if _, ok := ctx.Deadline(); !ok {
		conn.SetReadDeadline(time.Now().Add(responseReadTimeout))
	}

	var response Response
	if err := newDecoder(io.LimitReader(conn, maxResponseSize)).Decode(&response); err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	return &response, nil
}
