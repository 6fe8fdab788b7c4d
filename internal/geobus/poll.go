// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package geobus

import (
	"context"
	"time"
)

// Poll runs lookup right away and then on every tick of period until ctx ends. Changed readings
// are emitted through e on the returned stream, failed lookups are handed to onErr.
func Poll(ctx context.Context, e *Emitter, period time.Duration, lookup func(context.Context) (Coordinate, error),
	onErr func(error),
) <-chan Result {
	out := make(chan Result)
	go func() {
		defer close(out)
		ticker := e.Clock.NewTicker(period)
		defer ticker.Stop()

		for {
			coord, err := lookup(ctx)
			switch {
			case err != nil:
				if onErr != nil && ctx.Err() == nil {
					onErr(err)
				}
			case !e.Emit(ctx, out, coord):
				return
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
			}
		}
	}()
	return out
}
