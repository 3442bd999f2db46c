// Package observability provides monitoring and debugging capabilities for
// the agent orchestration core through metrics, structured logging, and
// distributed tracing.
//
// # Overview
//
// The observability package implements the three pillars of observability:
//
//  1. Metrics - Quantitative measurements using Prometheus
//  2. Logging - Structured logs with sensitive data redaction
//  3. Tracing - Distributed request tracing with OpenTelemetry
//
// # Metrics
//
// Metrics are implemented using Prometheus client libraries and track:
//   - Orchestrator iteration counts and terminal request outcomes
//   - Tool dispatch phase duration (read/write) and per-tool outcomes
//   - Compaction pass outcomes
//   - Empty-response occurrences
//   - LLM request latency, token usage, and estimated cost
//   - Error counts by component
//
// Example usage:
//
//	metrics := observability.NewMetrics()
//
//	// Track an orchestrator iteration
//	metrics.RecordIteration()
//
//	// Track LLM requests
//	start := time.Now()
//	// ... stream a model turn ...
//	metrics.RecordLLMRequest("anthropic", "claude-sonnet-4", "success",
//	    time.Since(start).Seconds(), promptTokens, completionTokens)
//
//	// Track tool execution
//	start = time.Now()
//	// ... execute tool ...
//	metrics.RecordToolExecution("read_file", "success")
//
// # Logging
//
// Logging is built on Go's slog package with enhancements for:
//   - Automatic request ID correlation from context
//   - Sensitive data redaction (API keys, passwords, tokens)
//   - JSON output for production, text for development
//   - Configurable log levels
//
// Example usage:
//
//	logger := observability.NewLogger(observability.LogConfig{
//	    Level:     "info",
//	    Format:    "json",
//	    AddSource: true,
//	})
//
//	// Add correlation IDs for a single request
//	ctx := observability.AddRequestID(ctx, requestID)
//
//	// Structured logging with automatic context correlation
//	logger.Info(ctx, "processing request",
//	    "session_key", sessionKey,
//	    "model", model,
//	)
//
//	// Error logging with automatic redaction
//	logger.Error(ctx, "model stream failed",
//	    "error", err,
//	    "provider", "anthropic",
//	    "api_key", apiKey, // Automatically redacted
//	)
//
// # Tracing
//
// Distributed tracing uses OpenTelemetry to track a request's lifecycle
// across the orchestrator, tool dispatcher, and compaction controller:
//
//	tracer, shutdown := observability.NewTracer(observability.TraceConfig{
//	    ServiceName:    "tunacode",
//	    ServiceVersion: "0.1.0",
//	    Endpoint:       "localhost:4317", // OTLP collector
//	    SamplingRate:   0.1,              // sample 10% of traces
//	})
//	defer shutdown(context.Background())
//
//	ctx, span := tracer.Start(ctx, "agent.process_request")
//	defer span.End()
//
// # Context Propagation
//
// Request and run IDs travel through context and automatically appear in
// both logs and spans:
//
//	ctx = observability.AddRequestID(ctx, requestID)
//	ctx = observability.AddRunID(ctx, requestID)
//	logger.Info(ctx, "turn started") // includes request_id
//
// # Security Considerations
//
// The logging component automatically redacts:
//   - API keys (Anthropic, OpenAI, generic)
//   - Passwords and secrets
//   - JWT tokens
//   - Bearer tokens
//   - Custom patterns via configuration
//
// Sensitive fields in maps are also redacted: password, passwd, pwd, secret,
// api_key, apikey, token, auth, authorization, private_key, privatekey.
//
// # Diagnostics
//
// diagnostic.go defines a separate, opt-in event stream
// (IsDiagnosticsEnabled/EmitRequestState/EmitCompaction/EmitToolDispatch)
// distinct from the three pillars above: a lightweight structured feed a
// CLI or test harness can subscribe to for request-state and compaction
// visibility without standing up Prometheus or an OTLP collector.
//
// events.go provides a queryable sink for that feed: an EventRecorder
// bridges diagnostic.go's push-based listeners into an EventStore via
// AsDiagnosticListener, so a CLI can replay a completed request's
// timeline with BuildTimeline/FormatTimeline instead of only observing
// events as they're emitted.
//
// # Testing
//
// All three components provide testable seams: metrics can be asserted with
// prometheus/client_golang/prometheus/testutil, logging can write to a
// bytes.Buffer, and tracing works with the SDK's no-op exporters in tests.
package observability
