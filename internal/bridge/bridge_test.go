package bridge

import (
	"context"
	"net"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"

	"github.com/vayux/mcp-intentful-agent/internal/domain"
	"github.com/vayux/mcp-intentful-agent/internal/tools"
)

type stubBackend struct {
	cancels int
}

func (s *stubBackend) GetLatestOrder(context.Context) (domain.Order, error) {
	return domain.Order{OrderID: "ORD-12345", Status: domain.StatusDelayed, Items: []domain.OrderLine{{Name: "Widget", Qty: 2}}, Total: 49.99}, nil
}

func (s *stubBackend) GetOrderStatus(_ context.Context, id string) (domain.OrderStatus, error) {
	return domain.OrderStatus{OrderID: id, Status: domain.StatusDelayed}, nil
}

func (s *stubBackend) RequestCancellation(_ context.Context, id, key string) (domain.CancelOutcome, error) {
	s.cancels++
	return domain.CancelOutcome{OrderID: id, Status: domain.StatusCancelled, IdempotencyKey: key}, nil
}

func (s *stubBackend) CreateOrder(_ context.Context, items []domain.OrderItem, key string) (domain.Order, string, error) {
	return domain.Order{OrderID: "ORD-00001", Status: domain.StatusProcessing}, key, nil
}

func newToolset() (*tools.Toolset, *stubBackend) {
	b := &stubBackend{}
	return tools.New(b, domain.DefaultScopes), b
}

// exerciseSession runs the same checks against any transport.
func exerciseSession(t *testing.T, s Session, b *stubBackend) {
	t.Helper()
	ctx := context.Background()

	assert.ElementsMatch(t, []string{
		domain.ToolGetLatestOrder, domain.ToolGetOrderStatus,
		domain.ToolRequestOrderCancellation, domain.ToolCreateOrder,
	}, s.Tools())

	res := s.Invoke(ctx, domain.ToolGetLatestOrder, nil)
	require.True(t, res.OK, "unexpected failure: %+v", res.Error)
	o, ok := res.Order()
	require.True(t, ok)
	assert.Equal(t, "ORD-12345", o.OrderID)
	assert.Equal(t, 2, o.Items[0].Qty)

	res = s.Invoke(ctx, domain.ToolRequestOrderCancellation, map[string]any{"order_id": "ORD-12345", "confirmed": false})
	require.True(t, res.IsConfirmationRequired())
	assert.Equal(t, "ORD-12345", res.Error.Details["order_id"])
	assert.Zero(t, b.cancels)

	res = s.Invoke(ctx, domain.ToolCreateOrder, map[string]any{
		"items":     []any{map[string]any{"product_name": "widget", "quantity": 2}},
		"confirmed": false,
	})
	require.True(t, res.IsConfirmationRequired())
	items, ok := domain.DecodeAny[[]domain.OrderItem](res.Error.Details["items"])
	require.True(t, ok)
	assert.Equal(t, []domain.OrderItem{{ProductName: "widget", Quantity: 2}}, items)

	res = s.Invoke(ctx, domain.ToolRequestOrderCancellation, map[string]any{"order_id": "ORD-12345", "confirmed": true})
	require.True(t, res.OK)
	c, ok := res.Cancellation()
	require.True(t, ok)
	assert.Equal(t, domain.StatusCancelled, c.Status)
	assert.Equal(t, 1, b.cancels)

	res = s.Invoke(ctx, domain.ToolGetOrderStatus, map[string]any{"order_id": "bad"})
	assert.Equal(t, domain.CodeValidationFailed, res.Code())
}

func TestLocalSession(t *testing.T) {
	t.Parallel()
	ts, b := newToolset()

	s, err := NewLocalDialer(ts).Dial(context.Background())
	require.NoError(t, err)
	defer s.Close()

	exerciseSession(t, s, b)
}

func TestMCPSession(t *testing.T) {
	t.Parallel()
	ts, b := newToolset()
	ctx := context.Background()

	server := tools.NewMCPServer(ts, "test")
	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	ss, err := server.Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	defer ss.Close()

	dialer := NewMCPDialer(func(context.Context) (mcp.Transport, error) {
		return clientTransport, nil
	}, nil)
	s, err := dialer.Dial(ctx)
	require.NoError(t, err)
	defer s.Close()

	exerciseSession(t, s, b)
}

func TestGRPCSession(t *testing.T) {
	t.Parallel()
	ts, b := newToolset()

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	tools.RegisterToolServiceServer(srv, tools.NewGRPCServer(ts))
	go func() { _ = srv.Serve(lis) }()
	defer srv.Stop()

	dialer := NewGRPCDialer(DefaultGRPCConfig("passthrough:///bufnet"), nil,
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}))
	s, err := dialer.Dial(context.Background())
	require.NoError(t, err)
	defer s.Close()

	exerciseSession(t, s, b)
}

func TestDecodeText(t *testing.T) {
	t.Parallel()

	r := decodeText(`{"ok":false,"error":{"code":"NOT_FOUND","message":"Not found","details":{}}}`)
	assert.Equal(t, domain.CodeNotFound, r.Code())

	r = decodeText("plain words")
	require.True(t, r.OK)
	assert.Equal(t, "plain words", r.Payload["raw"])

	r = decodeText(`{"order":{"orderId":"ORD-1"}}`)
	require.True(t, r.OK)
	o, ok := r.Order()
	require.True(t, ok)
	assert.Equal(t, "ORD-1", o.OrderID)
}

func TestDecodeCallResult(t *testing.T) {
	t.Parallel()

	r := decodeCallResult(&mcp.CallToolResult{})
	assert.Equal(t, domain.Completed(), r)

	r = decodeCallResult(&mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: `{"ok":true,"status":{"orderId":"ORD-1","status":"SHIPPED"}}`}},
	})
	st, ok := r.Status()
	require.True(t, ok)
	assert.Equal(t, domain.StatusShipped, st.Status)

	r = decodeCallResult(&mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: "boom"}},
	})
	assert.Equal(t, domain.CodeUpstreamError, r.Code())
}

func TestDialFailureIsReported(t *testing.T) {
	t.Parallel()

	dialer := NewMCPDialer(func(context.Context) (mcp.Transport, error) {
		return nil, assert.AnError
	}, nil)
	_, err := dialer.Dial(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
}
