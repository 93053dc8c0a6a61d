//go:build !protogen

package main

import (
	"fmt"
	"os"
)

func grpcOutboxReport(addr string) {
	if addr != "" {
		fmt.Fprintln(os.Stderr, "ops grpc inspection needs a -tags protogen build")
	}
}
