package internal

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"
)

// OrgCount pairs an organization with how many users it sponsors. Count is
// negative when the lookup failed.
type OrgCount struct {
	Login string `json:"login"`
	Count int    `json:"sponsoring"`
}

// counter looks up an organization's sponsoring total.
type counter interface {
	FetchCount(ctx context.Context, login string) (int, error)
}

var _ counter = (*Fetcher)(nil)

// Enrich looks up sponsoring totals for every org, at most concurrency at a
// time. Failed lookups are logged and reported with a negative count.
func Enrich(ctx context.Context, c counter, orgs Set, concurrency int) ([]OrgCount, error) {
	var mu sync.Mutex
	out := make([]OrgCount, 0, len(orgs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(concurrency, 1))

	for login := range orgs {
		g.Go(func() error {
			n, err := c.FetchCount(gctx, login)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				Log(ctx).Warn("couldn't count sponsored users", "login", login, "err", err)
				n = -1
			}
			mu.Lock()
			out = append(out, OrgCount{Login: login, Count: n})
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	slices.SortFunc(out, func(a, b OrgCount) int {
		return cmp.Compare(a.Login, b.Login)
	})
	return out, nil
}

// RenderMarkdown writes one list item per organization.
func RenderMarkdown(w io.Writer, orgs []OrgCount) error {
	for _, o := range orgs {
		count := "unknown"
		if o.Count >= 0 {
			count = fmt.Sprint(o.Count)
		}
		_, err := fmt.Fprintf(w, "* [%s](https://github.com/%s), sponsoring %s\n", o.Login, o.Login, count)
		if err != nil {
			return err
		}
	}
	return nil
}
