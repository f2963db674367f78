package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/yndnr/chatmesh-go/internal/infra/buildinfo"
	"github.com/yndnr/chatmesh-go/internal/server/httpserver/handler"
)

// Client calls the admin endpoints of one node.
type Client struct {
	baseURL  string
	http     *http.Client
	status   *connect.Client[structpb.Struct, structpb.Struct]
	sessions *connect.Client[structpb.Struct, structpb.Struct]
}

// NewClient creates a client for addr. A missing scheme means http.
func NewClient(addr string, timeout time.Duration) *Client {
	base := strings.TrimRight(addr, "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	hc := &http.Client{Timeout: timeout}
	ua := connect.WithInterceptors(userAgent)
	return &Client{
		baseURL:  base,
		http:     hc,
		status:   connect.NewClient[structpb.Struct, structpb.Struct](hc, base+handler.StatusProcedure, ua),
		sessions: connect.NewClient[structpb.Struct, structpb.Struct](hc, base+handler.SessionsProcedure, ua),
	}
}

// BaseURL returns the normalised admin URL.
func (c *Client) BaseURL() string { return c.baseURL }

// Status calls ClusterService.Status.
func (c *Client) Status(ctx context.Context) (*handler.Status, error) {
	resp, err := c.status.CallUnary(ctx, connect.NewRequest(&structpb.Struct{}))
	if err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}
	var out handler.Status
	if err := handler.FromStruct(resp.Msg, &out); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	return &out, nil
}

// Sessions calls ClusterService.Sessions with the given filter.
func (c *Client) Sessions(ctx context.Context, filter handler.SessionFilter) (*handler.SessionList, error) {
	req, err := handler.ToStruct(filter)
	if err != nil {
		return nil, err
	}
	resp, err := c.sessions.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, fmt.Errorf("sessions: %w", err)
	}
	var out handler.SessionList
	if err := handler.FromStruct(resp.Msg, &out); err != nil {
		return nil, fmt.Errorf("decode sessions: %w", err)
	}
	return &out, nil
}

// Ready calls GET /readyz.
func (c *Client) Ready(ctx context.Context) (*handler.Ready, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/readyz", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", agent())
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("readyz: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("readyz: status %d", resp.StatusCode)
	}
	var out handler.Ready
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode readyz: %w", err)
	}
	return &out, nil
}

func agent() string { return "chatmesh-cli/" + buildinfo.Version }

// userAgent stamps outgoing connect requests.
var userAgent = connect.UnaryInterceptorFunc(func(next connect.UnaryFunc) connect.UnaryFunc {
	return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		if req.Spec().IsClient {
			req.Header().Set("User-Agent", agent())
		}
		return next(ctx, req)
	}
})
