/*
Package tracing provides lightweight request tracing logged through zap.

# Overview

Every chat request gets a span tagged with its request id, the reply path
(generator or fallback) and the provider. HTTP requests and gRPC health
calls are traced by middleware. Finished spans are buffered and logged by a
single collector goroutine; when the buffer is full spans are dropped.

# Usage

	tracer := tracing.New("chat", logger)
	defer tracer.Close()

	router.Use(tracing.HTTPMiddleware(tracer))

	span, ctx := tracer.StartSpan(ctx, "chat.request")
	span.SetTag("request_id", requestID)
	defer func() {
		span.Finish()
		tracer.Submit(span)
	}()

# Propagation

The X-Trace-ID header (HTTP) and x-trace-id metadata key (gRPC) seed the
trace id of the server span.
*/
package tracing
