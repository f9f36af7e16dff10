//go:generate go run go.uber.org/mock/mockgen -source crawler.go -package internal -destination mock.go . relationFetcher

package internal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency bounds how many fetches a crawl step keeps in flight.
const DefaultConcurrency = 4

// relationFetcher allows alternative fetch implementations (caching, fakes)
// to be injected.
type relationFetcher interface {
	Fetch(ctx context.Context, kind RelationKind, login string) (Set, error)
}

var (
	_ relationFetcher = (*Fetcher)(nil)
	_ relationFetcher = (*RelationCache)(nil)
)

// Network is the result of a crawl.
type Network struct {
	Seed   string
	Degree int

	// Orgs holds every organization discovered, including the seed.
	Orgs Set

	// Failed records nodes whose lookups failed and were treated as having
	// no relations.
	Failed map[RelationKind]Set

	// Fetches counts relation lookups issued by this crawl.
	Fetches int
}

// Crawler expands the sponsorship network around a seed organization.
//
// Each round alternates two steps: organizations not yet expanded are asked
// which users they sponsor, then users not yet expanded are asked which
// organizations sponsor them. Seen-sets only grow, so every node is fetched
// at most once per call regardless of how many paths lead to it.
type Crawler struct {
	fetcher     relationFetcher
	concurrency int
}

// NewCrawler creates a crawler. Fetches within a step run on a pool bounded
// by concurrency; values below 1 mean sequential.
func NewCrawler(fetcher relationFetcher, concurrency int) *Crawler {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Crawler{fetcher: fetcher, concurrency: concurrency}
}

// Crawl returns the organizations reachable from seed within degree rounds.
// Remote failures only reduce completeness; the returned error is non-nil
// for a negative degree, a cancelled context, or a non-remote failure.
func (c *Crawler) Crawl(ctx context.Context, seed string, degree int) (*Network, error) {
	if degree < 0 {
		return nil, fmt.Errorf("degree %d must not be negative: %w", degree, ErrInvalidArgument)
	}

	network := &Network{
		Seed:   seed,
		Degree: degree,
		Failed: map[RelationKind]Set{
			OrgSponsoringUsers: {},
			UserSponsors:       {},
		},
	}

	var fetches atomic.Int64
	sponsors := NewSet(seed)
	seenSponsors := Set{}
	seenUsers := Set{}

	for round := range degree {
		sponsoredUsers := Set{}

		newOrgs := sponsors.Difference(seenSponsors)
		err := c.expand(ctx, &fetches, OrgSponsoringUsers, newOrgs, sponsoredUsers, network.Failed[OrgSponsoringUsers])
		if err != nil {
			return nil, err
		}
		seenSponsors.Union(sponsors)

		newUsers := sponsoredUsers.Difference(seenUsers)
		err = c.expand(ctx, &fetches, UserSponsors, newUsers, sponsors, network.Failed[UserSponsors])
		if err != nil {
			return nil, err
		}
		seenUsers.Union(sponsoredUsers)

		Log(ctx).Info("finished round",
			"round", round+1,
			"degree", degree,
			"newOrgs", len(newOrgs),
			"newUsers", len(newUsers),
			"sponsors", len(sponsors),
		)
	}

	network.Orgs = sponsors
	network.Fetches = int(fetches.Load())

	Log(ctx).Debug("crawl stats",
		"fetches", network.Fetches,
		"failures", len(network.Failed[OrgSponsoringUsers])+len(network.Failed[UserSponsors]),
	)

	return network, nil
}

// expand fetches kind for every login in frontier and unions the results
// into acc. Nodes whose lookup fails with a RemoteQueryError are recorded in
// failed and contribute nothing.
func (c *Crawler) expand(ctx context.Context, fetches *atomic.Int64, kind RelationKind, frontier Set, acc Set, failed Set) error {
	if len(frontier) == 0 {
		return nil
	}

	var mu sync.Mutex
	var done atomic.Int32
	total := len(frontier)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)

	for login := range frontier {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			fetches.Add(1)
			related, err := c.fetcher.Fetch(gctx, kind, login)

			Log(ctx).Debug(fmt.Sprintf("%d/%d", done.Add(1), total), "kind", kind, "login", login)

			var rerr *RemoteQueryError
			if errors.As(err, &rerr) && ctx.Err() == nil {
				Log(ctx).Warn("couldn't fetch relations, ignoring", "kind", kind, "login", login, "err", err)
				mu.Lock()
				failed.Add(login)
				mu.Unlock()
				return nil
			}
			if err != nil {
				return fmt.Errorf("fetching %s for %q: %w", kind, login, err)
			}

			mu.Lock()
			acc.Union(related)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		// Prefer the caller's cancellation over whatever it caused downstream.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}
