// Standalone mock weather station for trying the CLI.
//
// Usage:
//
//	go run ./example/cmd/mockserver
//
// Then in another terminal:
//
//	go run ./cmd/telempoll run -c example/config.yaml
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/jpalmerr/telempoll/example/mockstation"
)

func main() {
	fmt.Println("Mock weather station starting on :9999")
	fmt.Println("  GET /api/data   temperature, humidity, pressure")
	fmt.Println("  GET /api/state  running → idle → fault, stamped in unix ms")
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()

	if err := mockstation.ListenAndServe(":9999"); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}
