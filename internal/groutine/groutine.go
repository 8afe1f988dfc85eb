// Package groutine starts goroutines tagged with a pprof label, so read loops,
// notification pumps and link watchers can be told apart in profiles and dumps.
package groutine

import (
	"context"
	"runtime/pprof"
	"strings"
)

type ctxKey string

const nameKey ctxKey = "goroutine_name"

// Go runs fn in a new goroutine labelled with name and returns a channel that
// is closed when fn returns.
//
//	done := groutine.Go(ctx, groutine.Name("pump", id), func(ctx context.Context) {
//	    // work
//	})
//	<-done
//
// A nil ctx is treated as context.Background().
func Go(ctx context.Context, name string, fn func(ctx context.Context)) <-chan struct{} {
	if ctx == nil {
		ctx = context.Background()
	}

	done := make(chan struct{})
	go pprof.Do(ctx, pprof.Labels("goroutine_name", name), func(ctx context.Context) {
		defer close(done)
		fn(context.WithValue(ctx, nameKey, name))
	})
	return done
}

// Name joins non-empty parts with '/' to build a goroutine name
func Name(parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "/")
}

// GetName returns the name given to the goroutine running with ctx
func GetName(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if s, ok := ctx.Value(nameKey).(string); ok {
		return s
	}
	return ""
}
