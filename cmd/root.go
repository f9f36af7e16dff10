// Package cmd contains helpers common to all CLI implementations.
package cmd

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/Khan/genqlient/graphql"
	"github.com/KimMachineGun/automemlimit/memlimit"
	charm "github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/vladh/sponsor-finder/internal"
)

// GitHubConfig configures access to the GitHub GraphQL API.
type GitHubConfig struct {
	Token      string        `xor:"gh-auth" env:"GH_TOKEN" help:"GitHub token used as a bearer credential."`
	TokenFile  []byte        `type:"filecontent" xor:"gh-auth" env:"GH_TOKEN_FILE" help:"File with the GitHub token."`
	Endpoint   string        `default:"https://api.github.com/graphql" env:"GH_ENDPOINT" help:"GraphQL endpoint."`
	RPM        int           `default:"60" env:"RPM" help:"Maximum upstream requests per minute."`
	BatchEvery time.Duration `default:"0s" env:"BATCH_EVERY" help:"Merge queries issued within this interval into one request. Disabled when zero."`
	PageSize   int           `default:"100" env:"PAGE_SIZE" help:"Connection page size (max 100)."`
}

// Client returns a GraphQL client for the configured endpoint. Batching
// stops when ctx is done.
func (c *GitHubConfig) Client(ctx context.Context) (graphql.Client, error) {
	token := c.Token
	if len(c.TokenFile) > 0 {
		token = string(bytes.TrimSpace(c.TokenFile))
	}
	if token == "" {
		internal.Log(ctx).Warn("no GH_TOKEN set, requests will likely be rejected")
	}

	httpClient := internal.NewGitHubClient(token, c.RPM)

	if c.BatchEvery > 0 {
		return internal.NewBatchedGraphQLClient(ctx, c.Endpoint, httpClient, c.BatchEvery)
	}
	return internal.NewGraphQLClient(c.Endpoint, httpClient), nil
}

// CrawlConfig tunes how much work a crawl does at once.
type CrawlConfig struct {
	Concurrency int `default:"4" env:"CONCURRENCY" help:"Maximum lookups in flight per crawl step."`
}

// LogConfig configures logging.
type LogConfig struct {
	Verbose bool `env:"VERBOSE" help:"increase log verbosity"`
}

// Run sets logging to DEBUG if verbose is enabled.
func (c *LogConfig) Run() error {
	if c.Verbose {
		internal.SetLogLevel(charm.DebugLevel)
	}
	return nil
}

// Network crawls the sponsorship network around an organization and prints
// it as a markdown list.
type Network struct {
	GitHubConfig
	CrawlConfig
	LogConfig

	StartOrg string `required:"" help:"The organization to start the search from."`
	Degree   int    `default:"2" help:"How many org→user→org rounds to expand."`
	NoCounts bool   `help:"Skip looking up how many users each organization sponsors."`
}

// Run crawls and prints the network.
func (n *Network) Run() error {
	_ = n.LogConfig.Run()
	ctx := internal.WithTrace(context.Background(), uuid.NewString())
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	gql, err := n.Client(ctx)
	if err != nil {
		return err
	}
	fetcher := internal.NewFetcher(gql, n.PageSize)

	network, err := internal.NewCrawler(fetcher, n.Concurrency).Crawl(ctx, n.StartOrg, n.Degree)
	if err != nil {
		return fmt.Errorf("crawling %q: %w", n.StartOrg, err)
	}

	for kind, failed := range network.Failed {
		if len(failed) > 0 {
			internal.Log(ctx).Warn("network is incomplete", "kind", kind, "failed", failed.Sorted())
		}
	}

	var orgs []internal.OrgCount
	if n.NoCounts {
		for _, login := range network.Orgs.Sorted() {
			orgs = append(orgs, internal.OrgCount{Login: login, Count: -1})
		}
	} else {
		orgs, err = internal.Enrich(ctx, fetcher, network.Orgs, n.Concurrency)
		if err != nil {
			return fmt.Errorf("counting sponsorships: %w", err)
		}
	}

	return internal.RenderMarkdown(os.Stdout, orgs)
}

// Tally prints every sponsor's lifetime contribution to a user.
type Tally struct {
	GitHubConfig
	LogConfig

	User string `required:"" help:"The user or organization to get sponsorship amounts for."`
}

// Run tallies and prints sponsorships.
func (t *Tally) Run() error {
	_ = t.LogConfig.Run()
	ctx := internal.WithTrace(context.Background(), uuid.NewString())
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	gql, err := t.Client(ctx)
	if err != nil {
		return err
	}

	values, err := internal.Tally(ctx, gql, t.User, t.PageSize)
	if err != nil {
		return fmt.Errorf("tallying %q: %w", t.User, err)
	}
	return internal.RenderTally(os.Stdout, values)
}

func init() {
	// Limit our memory to 90% of what's free. This affects cache sizes.
	_, err := memlimit.SetGoMemLimitWithOpts(
		memlimit.WithRatio(0.9),
		memlimit.WithLogger(slog.Default()),
		memlimit.WithProvider(
			memlimit.ApplyFallback(
				memlimit.FromCgroup,
				memlimit.FromSystem,
			),
		),
	)
	if err != nil {
		panic(err)
	}
}
