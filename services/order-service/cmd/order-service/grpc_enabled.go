//go:build protogen

package main

import (
	"context"
	"log/slog"
	"net"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"

	"github.com/evercart/evercart/libs/db"
	"github.com/evercart/evercart/libs/grpcx"
	"github.com/evercart/evercart/libs/outbox"
	"github.com/evercart/evercart/libs/runtime"
	"github.com/evercart/evercart/services/order-service/internal/opsgrpc"
	"github.com/evercart/evercart/services/order-service/internal/orders"
)

func startGrpcServer(ctx context.Context, logger *slog.Logger, pool *db.Pool, orderSvc *orders.Service, outboxRepo *outbox.Repository) error {
	port := runtime.Getenv("GRPC_PORT", "9091")
	lis, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return err
	}

	srv := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(grpcx.UnaryServerRequestIDInterceptor()),
	)
	opsgrpc.Register(srv, pool, orderSvc, outboxRepo)

	go func() {
		logger.Info("grpc server starting", "addr", lis.Addr().String())
		if err := srv.Serve(lis); err != nil {
			logger.Error("grpc server error", "err", err)
		}
	}()

	go func() {
		<-ctx.Done()
		srv.GracefulStop()
	}()

	return nil
}
