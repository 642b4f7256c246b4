package ipc

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

// Client provides RPC access to the daemon.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return nil, err
	}
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{conn: conn, client: rpcClient}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		_ = c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Submit enqueues one acquisition job.
func (c *Client) Submit(req SubmitRequest) (*SubmitResponse, error) {
	var resp SubmitResponse
	if err := c.client.Call("Capstan.Submit", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Cancel requests cooperative cancellation of a task.
func (c *Client) Cancel(id string) (*CancelResponse, error) {
	var resp CancelResponse
	if err := c.client.Call("Capstan.Cancel", CancelRequest{ID: id}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Tasks lists the live task table.
func (c *Client) Tasks() (*TasksResponse, error) {
	var resp TasksResponse
	if err := c.client.Call("Capstan.Tasks", TasksRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Describe fetches one task, live or archived.
func (c *Client) Describe(id string) (*DescribeResponse, error) {
	var resp DescribeResponse
	if err := c.client.Call("Capstan.Describe", DescribeRequest{ID: id}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Await blocks until the task finishes or the wait window elapses.
func (c *Client) Await(req AwaitRequest) (*AwaitResponse, error) {
	var resp AwaitResponse
	if err := c.client.Call("Capstan.Await", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status retrieves the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.client.Call("Capstan.Status", StatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// History lists archived outcomes, optionally filtered by status.
func (c *Client) History(limit int, statuses []string) (*HistoryResponse, error) {
	var resp HistoryResponse
	req := HistoryRequest{Limit: limit, Statuses: statuses}
	if err := c.client.Call("Capstan.History", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// HistoryClear empties the finished-task archive.
func (c *Client) HistoryClear() (*HistoryClearResponse, error) {
	var resp HistoryClearResponse
	if err := c.client.Call("Capstan.HistoryClear", HistoryClearRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Probe inspects a URL without enqueueing work.
func (c *Client) Probe(req ProbeRequest) (*ProbeResponse, error) {
	var resp ProbeResponse
	if err := c.client.Call("Capstan.Probe", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// LogTail returns log lines from the daemon.
func (c *Client) LogTail(req LogTailRequest) (*LogTailResponse, error) {
	var resp LogTailResponse
	if err := c.client.Call("Capstan.LogTail", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TestNotification triggers a notification test via the daemon.
func (c *Client) TestNotification() (*TestNotificationResponse, error) {
	var resp TestNotificationResponse
	if err := c.client.Call("Capstan.TestNotification", TestNotificationRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Shutdown asks the daemon process to exit.
func (c *Client) Shutdown() (*ShutdownResponse, error) {
	var resp ShutdownResponse
	if err := c.client.Call("Capstan.Shutdown", ShutdownRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
