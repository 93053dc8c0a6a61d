//go:build protogen

package opsgrpc

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/evercart/evercart/libs/db"
	"github.com/evercart/evercart/libs/outbox"
	orderopsv1 "github.com/evercart/evercart/protos/gen/orderops/v1"
	"github.com/evercart/evercart/services/order-service/internal/orders"
	"github.com/evercart/evercart/services/order-service/internal/storage"
)

type server struct {
	orderopsv1.UnimplementedOrderOpsServiceServer
	pool       *db.Pool
	orderSvc   *orders.Service
	outboxRepo *outbox.Repository
}

func Register(grpcServer *grpc.Server, pool *db.Pool, orderSvc *orders.Service, outboxRepo *outbox.Repository) {
	orderopsv1.RegisterOrderOpsServiceServer(grpcServer, &server{
		pool:       pool,
		orderSvc:   orderSvc,
		outboxRepo: outboxRepo,
	})
}

func (s *server) GetOrder(ctx context.Context, req *orderopsv1.GetOrderRequest) (*orderopsv1.GetOrderResponse, error) {
	if req.GetOrderId() == "" {
		return nil, status.Error(codes.InvalidArgument, "order_id is required")
	}
	o, items, err := s.orderSvc.Get(ctx, req.GetOrderId())
	if err != nil {
		if errors.Is(err, storage.ErrOrderNotFound) {
			return nil, status.Error(codes.NotFound, "order not found")
		}
		return nil, status.Error(codes.Internal, err.Error())
	}

	resp := &orderopsv1.GetOrderResponse{Order: toProtoOrder(o)}
	for _, it := range items {
		resp.Items = append(resp.Items, &orderopsv1.OrderItem{
			Id:             it.ID,
			ProductId:      it.ProductID,
			Quantity:       int32(it.Quantity),
			UnitPriceCents: it.UnitPriceCents,
		})
	}
	return resp, nil
}

func (s *server) CancelOrder(ctx context.Context, req *orderopsv1.CancelOrderRequest) (*orderopsv1.CancelOrderResponse, error) {
	if req.GetOrderId() == "" {
		return nil, status.Error(codes.InvalidArgument, "order_id is required")
	}
	reason := req.GetReason()
	if reason == "" {
		reason = "cancelled by operator"
	}
	o, err := s.orderSvc.Cancel(ctx, req.GetOrderId(), reason)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrOrderNotFound):
			return nil, status.Error(codes.NotFound, "order not found")
		case errors.Is(err, orders.ErrNotCancellable):
			return nil, status.Error(codes.FailedPrecondition, "order is not cancellable")
		default:
			return nil, status.Error(codes.Internal, err.Error())
		}
	}
	return &orderopsv1.CancelOrderResponse{Order: toProtoOrder(o)}, nil
}

func (s *server) OutboxCounts(ctx context.Context, _ *orderopsv1.OutboxCountsRequest) (*orderopsv1.OutboxCountsResponse, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	defer func() { _ = tx.Rollback(ctx) }()

	counts, err := s.outboxRepo.CountByStatus(ctx, tx)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return &orderopsv1.OutboxCountsResponse{
		Pending:   counts.Pending,
		Processed: counts.Processed,
		Failed:    counts.Failed,
	}, nil
}

func (s *server) ListFailedEntries(ctx context.Context, req *orderopsv1.ListFailedEntriesRequest) (*orderopsv1.ListFailedEntriesResponse, error) {
	limit := int(req.GetLimit())
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	defer func() { _ = tx.Rollback(ctx) }()

	entries, err := s.outboxRepo.ListFailed(ctx, tx, limit)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}

	resp := &orderopsv1.ListFailedEntriesResponse{}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, &orderopsv1.OutboxEntry{
			Id:            e.ID,
			AggregateType: e.AggregateType,
			AggregateId:   e.AggregateID,
			EventType:     e.EventType,
			RetryCount:    int32(e.RetryCount),
			LastError:     e.LastError,
			CreatedAt:     timestamppb.New(e.CreatedAt),
		})
	}
	return resp, nil
}

func toProtoOrder(o storage.Order) *orderopsv1.Order {
	return &orderopsv1.Order{
		Id:            o.ID,
		UserId:        o.UserID,
		Status:        string(o.Status),
		Currency:      o.Currency,
		TotalCents:    o.TotalCents,
		ItemsTotal:    int32(o.ItemsTotal),
		ItemsReserved: int32(o.ItemsReserved),
		CancelReason:  o.CancelReason,
		CreatedAt:     timestamppb.New(o.CreatedAt),
		UpdatedAt:     timestamppb.New(o.UpdatedAt),
	}
}
