package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vektah/gqlparser/v2/gqlerror"
)

func TestQueryBuilder(t *testing.T) {
	qb := newQueryBuilder()

	after := "cursor"
	id1, field1, err := qb.add(_relations[OrgSponsoringUsers].query.body, map[string]any{"login": "getsentry", "first": 100, "after": nil})
	require.NoError(t, err)

	id2, field2, err := qb.add(_relations[UserSponsors].query.body, map[string]any{"login": "vladh", "first": 50, "after": after})
	require.NoError(t, err)

	assert.Equal(t, "owner", field1)
	assert.Equal(t, "owner", field2)
	assert.NotEqual(t, id1, id2)

	query, vars := qb.build()

	assert.True(t, strings.HasPrefix(query, "query GetOrgSponsoring("), query)
	assert.Contains(t, query, fmt.Sprintf("%s: organization(login: $%s_login)", id1, id1))
	assert.Contains(t, query, fmt.Sprintf("%s: user(login: $%s_login)", id2, id2))
	assert.Contains(t, query, fmt.Sprintf("conn: sponsors(first: $%s_first, after: $%s_after)", id2, id2))
	assert.Contains(t, query, fmt.Sprintf("$%s_login: String!", id2))
	assert.NotContains(t, query, "owner")

	assert.Len(t, vars, 6)
	assert.Equal(t, "getsentry", vars[id1+"_login"])
	assert.Equal(t, "vladh", vars[id2+"_login"])
	assert.Equal(t, after, vars[id2+"_after"])
	assert.Nil(t, vars[id1+"_after"])
	assert.Equal(t, 2, qb.fields)
}

func TestQueryBuilderInvalid(t *testing.T) {
	qb := newQueryBuilder()

	_, _, err := qb.add("query {", nil)
	assert.Error(t, err)
	assert.Nil(t, qb.op)
}

func TestGQLStatusCode(t *testing.T) {
	err := &gqlerror.Error{Message: "womp"}
	assert.ErrorIs(t, err, gqlStatusErr(err))

	err = &gqlerror.Error{Message: "Could not resolve to a User with the login of 'nope'."}
	assert.ErrorIs(t, gqlStatusErr(err), errNotFound)

	err = &gqlerror.Error{Message: "API rate limit exceeded for user ID 1."}
	assert.ErrorIs(t, gqlStatusErr(err), errTooManyRequest)
}

// batchServer answers merged queries by inspecting the renamed variables.
// Logins starting with "missing" resolve to null with a GitHub-style error
// pointing at their alias.
func batchServer(t *testing.T, requests *atomic.Int32) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)

		var body struct {
			Query     string         `json:"query"`
			Variables map[string]any `json:"variables"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		data := map[string]any{}
		var errs []map[string]any
		for key, val := range body.Variables {
			id, ok := strings.CutSuffix(key, "_login")
			if !ok {
				continue
			}
			login := val.(string)
			if strings.HasPrefix(login, "missing") {
				data[id] = nil
				errs = append(errs, map[string]any{
					"type":    "NOT_FOUND",
					"path":    []string{id},
					"message": fmt.Sprintf("Could not resolve to a User with the login of '%s'.", login),
				})
				continue
			}
			data[id] = map[string]any{
				"conn": map[string]any{
					"nodes":    []any{map[string]string{"login": login + "-org"}, nil},
					"pageInfo": map[string]any{"endCursor": "x", "hasNextPage": false},
				},
			}
		}

		resp := map[string]any{"data": data}
		if len(errs) > 0 {
			resp["errors"] = errs
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
}

func TestBatching(t *testing.T) {
	t.Parallel()

	var requests atomic.Int32
	srv := batchServer(t, &requests)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gql, err := NewBatchedGraphQLClient(ctx, srv.URL, srv.Client(), 200*time.Millisecond)
	require.NoError(t, err)
	fetcher := NewFetcher(gql, 0)

	logins := []string{"alice", "bob", "carol", "missing-dave"}
	results := make([]Set, len(logins))
	errs := make([]error, len(logins))

	wg := sync.WaitGroup{}
	for idx, login := range logins {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[idx], errs[idx] = fetcher.Fetch(ctx, UserSponsors, login)
		}()
	}
	wg.Wait()

	for idx, login := range logins[:3] {
		require.NoError(t, errs[idx])
		assert.Equal(t, []string{login + "-org"}, results[idx].Sorted())
	}

	var rerr *RemoteQueryError
	require.ErrorAs(t, errs[3], &rerr)
	assert.Equal(t, "missing-dave", rerr.Login)
	assert.ErrorIs(t, errs[3], errNotFound)

	// Everything lands in one batch, or two if we straddled a tick.
	assert.LessOrEqual(t, requests.Load(), int32(2))
}

func TestBatchingInterval(t *testing.T) {
	_, err := NewBatchedGraphQLClient(context.Background(), "http://localhost", http.DefaultClient, 0)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestBatchingCancelledCaller(t *testing.T) {
	t.Parallel()

	var requests atomic.Int32
	srv := batchServer(t, &requests)
	defer srv.Close()

	gql, err := NewBatchedGraphQLClient(t.Context(), srv.URL, srv.Client(), time.Hour)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = NewFetcher(gql, 0).Fetch(ctx, UserSponsors, "alice")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
