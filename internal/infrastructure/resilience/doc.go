/*
Package resilience provides a circuit breaker.

The tracing pipeline wraps its span exporter in a Breaker: when the
collector is unreachable, the first few exports pay the export timeout and
the breaker opens, after which spans are dropped immediately instead of
delaying every invocation. After Cooldown the breaker lets Trials probe
exports through and closes again once they succeed. A call canceled by its
own caller is neither a success nor a failure.

# Usage

	breaker := resilience.New("span-export", resilience.Settings{
		Threshold: 3,
		Cooldown:  30 * time.Second,
	})

	err := breaker.Do(ctx, func(ctx context.Context) error {
		return exporter.ExportSpans(ctx, spans)
	})
	if errors.Is(err, resilience.ErrRejected) {
		// dropped without touching the network
	}

# States

	Closed --[failures]-> Open --[timeout]-> Half-Open --[trials ok]-> Closed
	                                           |
	                                       [failure]
	                                           v
	                                          Open
*/
package resilience
