/*
Package resilience provides a circuit breaker for the generation backend.

When the AI provider keeps failing, the breaker opens and chat requests go
straight to the fallback responder instead of paying the provider's latency
on every message. After Timeout one trial call is let through.

# Usage

	breaker := resilience.New("gemini-2.5-flash", resilience.Settings{
		Timeout:     30 * time.Second,
		ReadyToTrip: resilience.TripAfter(3),
		OnStateChange: func(name string, from, to resilience.State) {
			logger.Warn("breaker", zap.String("name", name), zap.Stringer("to", to))
		},
	})

	err := breaker.Do(ctx, func(ctx context.Context) error {
		return generator.Generate(ctx, prompt, emit)
	})

# States

	Closed --[failures]-> Open --[timeout]-> Half-Open --[successes]-> Closed
	                                           |
	                                    [failure]
	                                           v
	                                         Open

Context cancellation is not counted as a provider failure.
*/
package resilience
