//go:build protogen

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/evercart/evercart/libs/grpcx"
	orderopsv1 "github.com/evercart/evercart/protos/gen/orderops/v1"
)

// grpcOutboxReport prints the order-service outbox state over its ops
// gRPC surface. No-op when addr is empty.
func grpcOutboxReport(addr string) {
	if addr == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := grpcx.Dial(ctx, addr, grpcx.DialOptions{Timeout: 5 * time.Second})
	if err != nil {
		fmt.Printf("ops grpc dial failed: %v\n", err)
		return
	}
	defer conn.Close()
	client := orderopsv1.NewOrderOpsServiceClient(conn)

	counts, err := client.OutboxCounts(ctx, &orderopsv1.OutboxCountsRequest{})
	if err != nil {
		fmt.Printf("outbox counts failed: %v\n", err)
		return
	}
	fmt.Printf("outbox pending=%d processed=%d failed=%d\n",
		counts.GetPending(), counts.GetProcessed(), counts.GetFailed())

	if counts.GetFailed() == 0 {
		return
	}
	failed, err := client.ListFailedEntries(ctx, &orderopsv1.ListFailedEntriesRequest{Limit: 10})
	if err != nil {
		fmt.Printf("list failed entries failed: %v\n", err)
		return
	}
	for _, e := range failed.GetEntries() {
		fmt.Printf("failed entry id=%s event_type=%s retries=%d error=%q\n",
			e.GetId(), e.GetEventType(), e.GetRetryCount(), e.GetLastError())
	}
}
