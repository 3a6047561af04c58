// Package telempoll polls HTTP/JSON devices at a fixed rate and turns their
// responses into timestamped telemetry frames.
//
// A read task names a device, a rate, and a list of endpoints. Each endpoint
// maps JSON pointers in its response to channels. Every cycle issues all
// endpoint requests concurrently, extracts the configured fields, and emits
// one [Frame] holding a sample per channel plus synthesized index
// timestamps.
//
// # Quick Start
//
//	reg := telempoll.NewMemoryRegistry()
//	reg.PutDevice(telempoll.Device{
//	    Key:        "weather",
//	    Properties: []byte(`{"base_url": "http://192.168.1.20"}`),
//	})
//	reg.PutChannels(
//	    telempoll.Channel{Key: 1, Name: "temperature", DataType: telempoll.Float64T, Index: 100},
//	    telempoll.Channel{Key: 100, Name: "time", DataType: telempoll.TimeStampT, IsIndex: true},
//	)
//
//	p, err := telempoll.New(
//	    telempoll.WithRegistry(reg),
//	    telempoll.WithTask(telempoll.TaskSpec{
//	        Device:    "weather",
//	        Rate:      1,
//	        AutoStart: true,
//	        Endpoints: []telempoll.EndpointSpec{{
//	            Method: "GET",
//	            Path:   "/api/data",
//	            Fields: []telempoll.FieldSpec{{Pointer: "/temperature", Channel: 1}},
//	        }},
//	    }),
//	    telempoll.WithCycleCallback(func(r telempoll.CycleResult) {
//	        fmt.Println(r.Cycle, r.Status)
//	    }),
//	)
//
//	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer stop()
//	err = p.Start(ctx) // blocks until ctx is cancelled or retries run out
//
// # Failure Handling
//
// Transport failures and 4xx/5xx responses abort a cycle and are retried
// with exponential backoff (see [WithBackoff]). Missing fields, unparseable
// bodies, and values that cannot be converted only drop the affected
// samples; the cycle is reported as [StatusDegraded] with a warning.
//
// # Architecture
//
//   - internal/poller: concurrent request dispatch, pacing, retry loop
//   - internal/readtask: task validation and the per-cycle read
//   - internal/jsonx: JSON pointers and value conversion
//   - internal/store, internal/server: latest state, REST API and SSE
//   - internal/sink: JSONL, msgpack and Kafka persistence
//
// The internal packages are not part of the public API.
package telempoll
