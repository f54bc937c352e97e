package grpcserver

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client calls fundbook.admin.v1.Reconciliation.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) invoke(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func byID(orderID string) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"order_id": structpb.NewStringValue(orderID),
	}}
}

func (c *Client) ListStuck(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "ListStuck", &structpb.Struct{}, opts...)
}

func (c *Client) RetrySettlement(ctx context.Context, orderID string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "RetrySettlement", byID(orderID), opts...)
}

func (c *Client) SweepNow(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "SweepNow", &structpb.Struct{}, opts...)
}

func (c *Client) GetOrder(ctx context.Context, orderID string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "GetOrder", byID(orderID), opts...)
}
