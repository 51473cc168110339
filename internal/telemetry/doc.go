// Package telemetry wires OpenTelemetry tracing and metrics for embedkit.
//
// Telemetry is off by default. When enabled, spans and metrics are exported
// over OTLP (gRPC or HTTP/protobuf) to a collector:
//
//	telemetry:
//	  enabled: true
//	  endpoint: "localhost:4317"
//	  protocol: grpc
//	  sample_rate: 0.25
//
// Usage:
//
//	tel, err := telemetry.New(ctx, telemetry.FromConfig(cfg.Telemetry, version))
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	ctx, span := tel.Tracer("embedkit/pipeline").Start(ctx, "pipeline.Run")
//	defer span.End()
//
// Exporter setup failures never fail the caller. The instance reports the
// problem through Health and falls back to no-op providers.
//
// Tests use NewTestTelemetry, which records spans and metrics in memory:
//
//	tt := telemetry.NewTestTelemetry()
//	// ... exercise code with tt.Tracer / tt.Meter ...
//	tt.AssertSpanExists(t, "embedder.EmbedText")
package telemetry
