package log

import (
	"context"
	"math/rand"
	"time"
)

type idKey struct{}

// ID tags every log line produced while handling a single proxied announce,
// so concurrent requests remain distinguishable in the output.
type ID struct {
	ID        uint32
	CreatedAt time.Time
}

func ContextWithNewID(ctx context.Context) context.Context {
	return ContextWithID(ctx, ID{
		ID:        rand.Uint32(),
		CreatedAt: time.Now(),
	})
}

func ContextWithID(ctx context.Context, id ID) context.Context {
	return context.WithValue(ctx, (*idKey)(nil), id)
}

func IDFromContext(ctx context.Context) (ID, bool) {
	if ctx == nil {
		return ID{}, false
	}
	id, loaded := ctx.Value((*idKey)(nil)).(ID)
	return id, loaded
}
