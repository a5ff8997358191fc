package lazy

import (
	"context"
	"strings"

	"golang.org/x/sync/singleflight"
)

// Group coalesces concurrent loads of the same key into one call whose result is
// shared by every caller.
type Group struct {
	sf singleflight.Group
}

// Key builds a coalescing key from kind and parts. Trailing empty parts are dropped,
// so a call that omits an optional argument shares its key with one passing it empty.
func Key(kind string, parts ...string) string {
	n := len(parts)
	for n > 0 && parts[n-1] == "" {
		n--
	}
	return kind + "|" + strings.Join(parts[:n], "|")
}

// Do runs fn once per key at a time. Callers arriving while a call is in flight wait
// for it and share its error. The call itself runs to completion even when the
// context of the caller that started it is cancelled; a cancelled waiter returns
// early with the context error.
func (g *Group) Do(ctx context.Context, key string, fn func(ctx context.Context) error) (shared bool, err error) {
	detached := context.WithoutCancel(ctx)
	ch := g.sf.DoChan(key, func() (any, error) {
		return nil, fn(detached)
	})
	select {
	case res := <-ch:
		return res.Shared, res.Err
	case <-ctx.Done():
		return false, ctx.Err()
	}
}
