//go:build !protogen

package main

import (
	"context"
	"log/slog"

	"github.com/evercart/evercart/libs/db"
	"github.com/evercart/evercart/libs/outbox"
	"github.com/evercart/evercart/services/order-service/internal/orders"
)

func startGrpcServer(_ context.Context, _ *slog.Logger, _ *db.Pool, _ *orders.Service, _ *outbox.Repository) error {
	return nil
}
