// Package grpcserver exposes the operator reconciliation service over
// gRPC. Messages are google.protobuf.Struct so no generated code is
// needed on either side.
package grpcserver

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"fundbook/domain/orderbook"
	"fundbook/service"
)

const serviceName = "fundbook.admin.v1.Reconciliation"

// ReconciliationServer is the server API of fundbook.admin.v1.Reconciliation.
type ReconciliationServer interface {
	ListStuck(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RetrySettlement(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SweepNow(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetOrder(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

func unaryHandler(method string, call func(ReconciliationServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(ReconciliationServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/" + method}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(ReconciliationServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// ServiceDesc describes fundbook.admin.v1.Reconciliation.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*ReconciliationServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler("ListStuck", ReconciliationServer.ListStuck),
		unaryHandler("RetrySettlement", ReconciliationServer.RetrySettlement),
		unaryHandler("SweepNow", ReconciliationServer.SweepNow),
		unaryHandler("GetOrder", ReconciliationServer.GetOrder),
	},
	Metadata: "fundbook/admin/v1/reconciliation",
}

func Register(s grpc.ServiceRegistrar, srv ReconciliationServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// Server adapts OrderService to gRPC.
type Server struct {
	svc *service.OrderService
	log *zap.Logger
}

func NewServer(svc *service.OrderService, log *zap.Logger) *Server {
	return &Server{svc: svc, log: log.Named("grpc")}
}

// -------------------- Queries --------------------

func (s *Server) ListStuck(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	stuck, err := s.svc.StuckSettlements()
	if err != nil {
		return nil, toStatus(err)
	}
	list := make([]any, 0, len(stuck))
	for _, st := range stuck {
		list = append(list, map[string]any{
			"match_id":        st.MatchID,
			"buy_order_id":    st.BuyOrderID,
			"sell_order_id":   st.SellOrderID,
			"instrument":      st.Instrument,
			"token_amount":    formatInt(st.TokenAmount),
			"price_per_token": formatInt(st.PricePerToken),
			"retries":         int64(st.Retries),
			"exhausted":       st.Exhausted,
			"last_error":      st.LastError,
			"last_attempt":    st.LastAttempt.Format(time.RFC3339Nano),
		})
	}
	return structpb.NewStruct(map[string]any{"settlements": list})
}

func (s *Server) GetOrder(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := orderID(in)
	if err != nil {
		return nil, err
	}
	o, err := s.svc.Get(id)
	if err != nil {
		return nil, toStatus(err)
	}
	return orderStruct(o)
}

// -------------------- Commands --------------------

func (s *Server) RetrySettlement(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := orderID(in)
	if err != nil {
		return nil, err
	}
	o, err := s.svc.RetrySettlement(ctx, id)
	switch {
	case o == nil, errors.Is(err, service.ErrNoSettlement):
		return nil, toStatus(err)
	case err != nil:
		// the attempt ran and failed; report the pair as it stands
		s.log.Warn("operator retry failed", zap.String("order_id", id), zap.Error(err))
	}
	return orderStruct(o)
}

func (s *Server) SweepNow(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	rep, err := s.svc.ExpireDue(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return structpb.NewStruct(map[string]any{
		"expired":           int64(rep.Expired),
		"fallback_ok":       int64(rep.FallbackOK),
		"fallback_failed":   int64(rep.FallbackFailed),
		"fallback_skipped":  int64(rep.FallbackSkipped),
		"fallback_deferred": int64(rep.FallbackDeferred),
		"transition_errors": int64(rep.TransitionErrors),
		"duration_ms":       rep.Duration.Milliseconds(),
	})
}

// -------------------- Helpers --------------------

func orderID(in *structpb.Struct) (string, error) {
	v, ok := in.GetFields()["order_id"]
	if !ok || v.GetStringValue() == "" {
		return "", status.Error(codes.InvalidArgument, "order_id is required")
	}
	return v.GetStringValue(), nil
}

func formatInt(v int64) string {
	return strconv.FormatInt(v, 10)
}

func orderStruct(o *orderbook.Order) (*structpb.Struct, error) {
	m := map[string]any{
		"order_id":            o.ID,
		"maker":               o.Maker,
		"side":                o.Side.String(),
		"instrument":          o.Instrument,
		"token_amount":        formatInt(o.TokenAmount),
		"price_per_token":     formatInt(o.PricePerToken),
		"status":              o.Status.String(),
		"matched_order_id":    o.MatchedOrderID,
		"settlement_tx_hash":  o.SettlementTxHash,
		"filled_token_amount": formatInt(o.FilledTokenAmount),
		"deadline":            o.Deadline.Format(time.RFC3339Nano),
		"created_at":          o.CreatedAt.Format(time.RFC3339Nano),
	}
	if f := o.Fallback; f != nil {
		m["fallback"] = map[string]any{
			"remainder": formatInt(f.Remainder),
			"notional":  formatInt(f.Notional),
			"success":   f.Success,
			"tx_ref":    f.TxRef,
			"error":     f.Error,
		}
	}
	return structpb.NewStruct(m)
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, service.ErrNoSettlement):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, service.ErrSweepInProgress):
		return status.Error(codes.Aborted, err.Error())
	case service.IsValidation(err):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// UnaryLogger logs every call with its outcome.
func UnaryLogger(log *zap.Logger) grpc.UnaryServerInterceptor {
	log = log.Named("grpc")
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		log.Info("call",
			zap.String("method", info.FullMethod),
			zap.Stringer("code", status.Code(err)),
			zap.Duration("took", time.Since(start)))
		return resp, err
	}
}
