// Package instrumentation provides OpenTelemetry tracing and metrics for the
// authorization server, the resource guard, the storage layer and the client
// role.
//
// # Quick Start
//
//	inst, err := instrumentation.New(instrumentation.Config{
//		ServiceName:     "codegrant",
//		Enabled:         true,
//		MetricsExporter: instrumentation.ExporterPrometheus,
//		TracesExporter:  instrumentation.ExporterOTLP,
//		OTLPEndpoint:    "localhost:4318",
//		OTLPInsecure:    true,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer inst.Shutdown(context.Background())
//
//	mux.Handle("/metrics", promhttp.Handler())
//
// When Enabled is false, no-op providers are used and recording costs nothing.
//
// # Available Metrics
//
//   - oauth.http.requests.total{method, endpoint, status}
//   - oauth.http.request.duration{endpoint}
//   - oauth.authorization.started{client_id}
//   - oauth.consent.decisions{client_id, outcome}
//   - oauth.code.issued{client_id}
//   - oauth.code.exchanged{client_id, success}
//   - oauth.code.reuse_detected
//   - oauth.token.refreshed{client_id, rotated}
//   - oauth.scope.escalation_attempts{client_id}
//   - oauth.resource.rejected
//   - oauth.rate_limit.exceeded{limiter_type}
//   - oauth.audit.events.total{event_type}
//   - oauth.client.exchanges{grant_type, success}
//   - storage.operation.total{operation, result}
//   - storage.operation.duration{operation}
//   - storage.entries{backend}
//
// # Security Considerations
//
// Traces and metrics carry metadata only. Authorization codes, access and
// refresh tokens, client secrets and CSRF state values must never be recorded.
package instrumentation
