package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Khan/genqlient/graphql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gqlFunc adapts a function to graphql.Client.
type gqlFunc func(ctx context.Context, req *graphql.Request, resp *graphql.Response) error

func (f gqlFunc) MakeRequest(ctx context.Context, req *graphql.Request, resp *graphql.Response) error {
	return f(ctx, req, resp)
}

// pagedGQL serves pre-rendered pages keyed by cursor. The first page is keyed
// by "".
func pagedGQL(t *testing.T, pages map[string]string, requests *int) gqlFunc {
	return func(_ context.Context, req *graphql.Request, resp *graphql.Response) error {
		*requests++
		vars := req.Variables.(map[string]any)
		cursor := ""
		if after, _ := vars["after"].(*string); after != nil {
			cursor = *after
		}
		body, ok := pages[cursor]
		if !ok {
			t.Fatalf("unexpected cursor %q", cursor)
		}
		return json.Unmarshal([]byte(body), resp.Data)
	}
}

// renderPage builds a response body in GitHub's connection shape.
func renderPage(nodes []string, cursor string, hasNext bool) string {
	return fmt.Sprintf(`{"owner": {"conn": {"nodes": [%s], "pageInfo": {"endCursor": %q, "hasNextPage": %t}}}}`,
		strings.Join(nodes, ","), cursor, hasNext)
}

func loginNodes(prefix string, from, to int) []string {
	var out []string
	for i := from; i < to; i++ {
		out = append(out, fmt.Sprintf(`{"login": "%s%03d"}`, prefix, i))
	}
	return out
}

func TestFetchPagination(t *testing.T) {
	t.Parallel()

	// Nulls and empty objects (nodes of the wrong type) are mixed in.
	page1 := append([]string{"null"}, loginNodes("u", 0, 100)...)
	page1 = append(page1, "null", "{}")
	page2 := append(loginNodes("u", 100, 150), "{}")
	page2 = append(page2, loginNodes("u", 150, 200)...)
	page3 := append(loginNodes("u", 200, 207), "null")

	requests := 0
	gql := pagedGQL(t, map[string]string{
		"":   renderPage(page1, "c1", true),
		"c1": renderPage(page2, "c2", true),
		"c2": renderPage(page3, "c3", false),
	}, &requests)

	users, err := NewFetcher(gql, 0).Fetch(context.Background(), OrgSponsoringUsers, "sentry")
	require.NoError(t, err)

	assert.Len(t, users, 207)
	assert.True(t, users.Has("u000"))
	assert.True(t, users.Has("u206"))
	assert.False(t, users.Has(""))
	assert.Equal(t, 3, requests)
}

func TestFetchEmptyPageMidSequence(t *testing.T) {
	t.Parallel()

	requests := 0
	gql := pagedGQL(t, map[string]string{
		"":   renderPage(loginNodes("o", 0, 2), "c1", true),
		"c1": renderPage([]string{"null", "{}"}, "c2", true),
		"c2": renderPage(nil, "c3", true),
		"c3": renderPage(loginNodes("o", 2, 3), "c4", false),
	}, &requests)

	orgs, err := NewFetcher(gql, 10).Fetch(context.Background(), UserSponsors, "someone")
	require.NoError(t, err)

	assert.Equal(t, []string{"o000", "o001", "o002"}, orgs.Sorted())
	assert.Equal(t, 4, requests)
}

func TestFetchEmpty(t *testing.T) {
	t.Parallel()

	requests := 0
	gql := pagedGQL(t, map[string]string{
		"": `{"owner": {"conn": {"nodes": [], "pageInfo": {"endCursor": null, "hasNextPage": false}}}}`,
	}, &requests)

	orgs, err := NewFetcher(gql, 0).Fetch(context.Background(), UserSponsors, "lonely")
	require.NoError(t, err)
	assert.Empty(t, orgs)
	assert.NotNil(t, orgs)
}

func TestFetchVariables(t *testing.T) {
	t.Parallel()

	var seen []map[string]any
	gql := gqlFunc(func(_ context.Context, req *graphql.Request, resp *graphql.Response) error {
		assert.Equal(t, "GetOrgSponsoring", req.OpName)
		vars := req.Variables.(map[string]any)
		seen = append(seen, vars)
		if vars["after"].(*string) == nil {
			return json.Unmarshal([]byte(renderPage(nil, "next", true)), resp.Data)
		}
		return json.Unmarshal([]byte(renderPage(nil, "", false)), resp.Data)
	})

	_, err := NewFetcher(gql, 25).Fetch(context.Background(), OrgSponsoringUsers, "getsentry")
	require.NoError(t, err)

	require.Len(t, seen, 2)
	assert.Equal(t, "getsentry", seen[0]["login"])
	assert.Equal(t, 25, seen[0]["first"])
	assert.Equal(t, "next", *seen[1]["after"].(*string))
}

func TestFetchErrors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("transport", func(t *testing.T) {
		boom := errors.New("boom")
		calls := 0
		gql := gqlFunc(func(context.Context, *graphql.Request, *graphql.Response) error {
			calls++
			return boom
		})

		_, err := NewFetcher(gql, 0).Fetch(ctx, OrgSponsoringUsers, "a")

		var rerr *RemoteQueryError
		require.ErrorAs(t, err, &rerr)
		assert.Equal(t, OrgSponsoringUsers, rerr.Kind)
		assert.Equal(t, "a", rerr.Login)
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 1, calls, "no retries")
	})

	t.Run("later page", func(t *testing.T) {
		boom := errors.New("boom")
		gql := gqlFunc(func(_ context.Context, req *graphql.Request, resp *graphql.Response) error {
			if req.Variables.(map[string]any)["after"].(*string) != nil {
				return boom
			}
			return json.Unmarshal([]byte(renderPage(loginNodes("u", 0, 5), "c1", true)), resp.Data)
		})

		users, err := NewFetcher(gql, 0).Fetch(ctx, OrgSponsoringUsers, "a")
		assert.ErrorIs(t, err, boom)
		assert.Nil(t, users)
	})

	t.Run("null owner", func(t *testing.T) {
		gql := gqlFunc(func(_ context.Context, _ *graphql.Request, resp *graphql.Response) error {
			return json.Unmarshal([]byte(`{"owner": null}`), resp.Data)
		})

		_, err := NewFetcher(gql, 0).Fetch(ctx, UserSponsors, "ghost")
		var rerr *RemoteQueryError
		assert.ErrorAs(t, err, &rerr)
		assert.ErrorIs(t, err, errNotFound)
	})

	t.Run("missing cursor", func(t *testing.T) {
		gql := gqlFunc(func(_ context.Context, _ *graphql.Request, resp *graphql.Response) error {
			return json.Unmarshal([]byte(`{"owner": {"conn": {"nodes": [], "pageInfo": {"endCursor": null, "hasNextPage": true}}}}`), resp.Data)
		})

		_, err := NewFetcher(gql, 0).Fetch(ctx, UserSponsors, "loop")
		var rerr *RemoteQueryError
		assert.ErrorAs(t, err, &rerr)
	})

	t.Run("unknown kind", func(t *testing.T) {
		_, err := NewFetcher(nil, 0).Fetch(ctx, RelationKind(99), "x")
		assert.ErrorIs(t, err, ErrInvalidArgument)
		var rerr *RemoteQueryError
		assert.False(t, errors.As(err, &rerr))
	})
}

func TestPages(t *testing.T) {
	t.Parallel()

	requests := 0
	gql := pagedGQL(t, map[string]string{
		"":   renderPage(append(loginNodes("u", 0, 2), "null"), "c1", true),
		"c1": renderPage(loginNodes("u", 2, 3), "", false),
	}, &requests)

	var pages []Page[LoginNode]
	for page, err := range NewFetcher(gql, 0).Pages(context.Background(), OrgSponsoringUsers, "a") {
		require.NoError(t, err)
		pages = append(pages, page)
	}

	require.Len(t, pages, 2)
	assert.Len(t, pages[0].Items, 3)
	assert.Nil(t, pages[0].Items[2])
	assert.True(t, pages[0].HasMore)
	assert.Equal(t, "c1", pages[0].NextCursor)
	assert.False(t, pages[1].HasMore)
}

func TestFetchCount(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	gql := gqlFunc(func(_ context.Context, req *graphql.Request, resp *graphql.Response) error {
		assert.Equal(t, "GetOrgSponsoringCount", req.OpName)
		login := req.Variables.(map[string]any)["login"]
		if login == "missing" {
			return json.Unmarshal([]byte(`{"owner": null}`), resp.Data)
		}
		return json.Unmarshal([]byte(`{"owner": {"conn": {"totalCount": 42}}}`), resp.Data)
	})
	f := NewFetcher(gql, 0)

	n, err := f.FetchCount(ctx, "getsentry")
	require.NoError(t, err)
	assert.Equal(t, 42, n)

	_, err = f.FetchCount(ctx, "missing")
	var rerr *RemoteQueryError
	assert.ErrorAs(t, err, &rerr)
	assert.ErrorIs(t, err, errNotFound)
}

// TestFetchGitHubErrors exercises the real client against GitHub's error
// shape: a 200 response with null data and a populated errors list.
func TestFetchGitHubErrors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sekrit", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"data": {"owner": null},
			"errors": [{
				"type": "NOT_FOUND",
				"path": ["owner"],
				"locations": [{"line": 2, "column": 3}],
				"message": "Could not resolve to an Organization with the login of 'nope'."
			}]
		}`))
	}))
	defer srv.Close()

	gql := NewGraphQLClient(srv.URL, NewGitHubClient("sekrit", 6000))
	_, err := NewFetcher(gql, 0).Fetch(context.Background(), OrgSponsoringUsers, "nope")

	var rerr *RemoteQueryError
	require.ErrorAs(t, err, &rerr)
	assert.ErrorIs(t, err, errNotFound)
	assert.Equal(t, "nope", rerr.Login)
}
