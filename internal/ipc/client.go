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
		return c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func call[Resp any](c *Client, method string, req any) (*Resp, error) {
	var resp Resp
	if err := c.client.Call(serviceName+"."+method, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Start asks the daemon to start a batch.
func (c *Client) Start() (*StartResponse, error) {
	return call[StartResponse](c, "Start", StartRequest{})
}

// Stop asks the running batch to stop after the current item.
func (c *Client) Stop() (*StopResponse, error) {
	return call[StopResponse](c, "Stop", StopRequest{})
}

// Status retrieves the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	return call[StatusResponse](c, "Status", StatusRequest{})
}

// AddFiles enqueues images in the given order.
func (c *Client) AddFiles(files []File) (*AddFilesResponse, error) {
	return call[AddFilesResponse](c, "AddFiles", AddFilesRequest{Files: files})
}

// QueueList returns queue items optionally filtered by statuses.
func (c *Client) QueueList(statuses []string) (*QueueListResponse, error) {
	return call[QueueListResponse](c, "QueueList", QueueListRequest{Statuses: statuses})
}

// QueueDescribe returns details for a single queue item.
func (c *Client) QueueDescribe(id int64) (*QueueDescribeResponse, error) {
	return call[QueueDescribeResponse](c, "QueueDescribe", QueueDescribeRequest{ID: id})
}

// QueueResult fetches the generated image of a completed item.
func (c *Client) QueueResult(id int64) (*QueueResultResponse, error) {
	return call[QueueResultResponse](c, "QueueResult", QueueResultRequest{ID: id})
}

// QueueRetry retries failed items; with no ids every failed item is retried.
func (c *Client) QueueRetry(ids []int64) (*QueueRetryResponse, error) {
	return call[QueueRetryResponse](c, "QueueRetry", QueueRetryRequest{IDs: ids})
}

// QueueRemove removes items that are not being processed.
func (c *Client) QueueRemove(ids []int64) (*QueueRemoveResponse, error) {
	return call[QueueRemoveResponse](c, "QueueRemove", QueueRemoveRequest{IDs: ids})
}

// QueueReset removes every item while the daemon is idle.
func (c *Client) QueueReset() (*QueueResetResponse, error) {
	return call[QueueResetResponse](c, "QueueReset", QueueResetRequest{})
}

// QueueClearFinished removes completed and failed items while the daemon is idle.
func (c *Client) QueueClearFinished() (*QueueClearFinishedResponse, error) {
	return call[QueueClearFinishedResponse](c, "QueueClearFinished", QueueClearFinishedRequest{})
}

// LogTail returns event log records.
func (c *Client) LogTail(req LogTailRequest) (*LogTailResponse, error) {
	return call[LogTailResponse](c, "LogTail", req)
}

// LogClear empties the event log.
func (c *Client) LogClear() (*LogClearResponse, error) {
	return call[LogClearResponse](c, "LogClear", LogClearRequest{})
}

// DatabaseHealth retrieves store diagnostics.
func (c *Client) DatabaseHealth() (*DatabaseHealthResponse, error) {
	return call[DatabaseHealthResponse](c, "DatabaseHealth", DatabaseHealthRequest{})
}
