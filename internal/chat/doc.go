/*
Package chat turns one chat request into the ordered event sequence a client
renders as a streaming assistant reply.

# Event sequence

	thinking -> thinking_done -> stream* -> done

A configured Generator is relayed fragment by fragment. When it fails, or
none is configured, the FallbackResponder picks a canned reply which is
streamed word by word with artificial delays. If the generator already sent
fragments before failing, a reset event is emitted first so the client can
discard the partial text; the fallback reply is then authoritative.

Capability failures never surface as error events. Every event carries the
request id it belongs to.

# Usage

	orch := chat.NewOrchestrator(cfg, chat.Options{
		Generator: generator, // nil selects fallback mode
		Responder: fallback.Respond,
		Logger:    logger,
	})
	go orch.Handle(ctx, conn, requestID, content)
*/
package chat
