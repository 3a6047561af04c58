// Command example runs telempoll against a mock weather station using the
// SDK directly.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jpalmerr/telempoll"
	"github.com/jpalmerr/telempoll/example/mockstation"
)

const stationAddr = "localhost:9999"

func main() {
	go func() {
		if err := mockstation.ListenAndServe(stationAddr); err != nil {
			slog.Error("mock station error", "error", err)
		}
	}()
	time.Sleep(100 * time.Millisecond)

	reg := telempoll.NewMemoryRegistry()
	reg.PutDevice(telempoll.Device{
		Key:        "station",
		Name:       "Mock Weather Station",
		Properties: []byte(`{"base_url": "http://` + stationAddr + `", "timeout_ms": 500}`),
	})
	reg.PutChannels(
		telempoll.Channel{Key: 1, Name: "temperature", DataType: telempoll.Float64T, Index: 100},
		telempoll.Channel{Key: 2, Name: "humidity", DataType: telempoll.Float64T, Index: 100},
		telempoll.Channel{Key: 3, Name: "pressure", DataType: telempoll.Float32T, Index: 100},
		telempoll.Channel{Key: 4, Name: "state", DataType: telempoll.Uint8T, Index: 101},
		telempoll.Channel{Key: 100, Name: "time", DataType: telempoll.TimeStampT, IsIndex: true},
		telempoll.Channel{Key: 101, Name: "state_time", DataType: telempoll.TimeStampT, IsIndex: true},
	)

	// two endpoints: readings stamped by software time, state stamped by
	// the station's own clock
	task := telempoll.TaskSpec{
		Device:    "station",
		Rate:      2,
		AutoStart: true,
		Endpoints: []telempoll.EndpointSpec{
			{
				Method: "GET",
				Path:   "/api/data",
				Fields: []telempoll.FieldSpec{
					{Pointer: "/temperature", Channel: 1},
					{Pointer: "/humidity", Channel: 2},
					{Pointer: "/pressure", Channel: 3},
				},
			},
			{
				Method: "GET",
				Path:   "/api/state",
				Fields: []telempoll.FieldSpec{{
					Pointer:     "/state",
					Channel:     4,
					EnumValues:  map[string]float64{"idle": 0, "running": 1, "fault": 2},
					TimePointer: &telempoll.TimeInfoSpec{Pointer: "/ts", Format: "unix_ms"},
				}},
			},
		},
	}

	p, err := telempoll.New(
		telempoll.WithName("station"),
		telempoll.WithTitle("Weather Station"),
		telempoll.WithRegistry(reg),
		telempoll.WithTask(task),
		telempoll.WithPort(8080),
		telempoll.WithCycleCallback(func(r telempoll.CycleResult) {
			if r.Status != telempoll.StatusOK {
				slog.Warn("cycle not ok", "cycle", r.Cycle, "status", r.Status, "warning", r.Warning, "error", r.Err)
			}
		}),
	)
	if err != nil {
		slog.Error("failed to create poller", "error", err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Println("  telempoll demo")
	fmt.Println()
	fmt.Println("  Open http://localhost:8080 in your browser")
	fmt.Println("  Polling 2 endpoints of a mock station at 2 Hz")
	fmt.Println("  Press Ctrl+C to stop")
	fmt.Println()

	// set up context with signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := p.Start(ctx); err != nil {
		slog.Error("telempoll error", "error", err)
		os.Exit(1)
	}
}
