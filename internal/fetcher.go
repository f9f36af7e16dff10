package internal

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/Khan/genqlient/graphql"
)

// DefaultPageSize is the largest page GitHub will serve for a connection.
const DefaultPageSize = 100

// Page is one batch of a cursor-paginated connection. Items may contain nil
// entries where the API returned a null node.
type Page[T any] struct {
	Items      []*T
	NextCursor string
	HasMore    bool
}

// LoginNode is a user or organization reference. Nodes of the wrong type come
// back as empty objects, so their Login is blank.
type LoginNode struct {
	Login string `json:"login"`
}

type pageInfo struct {
	EndCursor   *string `json:"endCursor"`
	HasNextPage bool    `json:"hasNextPage"`
}

type connection[T any] struct {
	TotalCount int      `json:"totalCount"`
	Nodes      []*T     `json:"nodes"`
	PageInfo   pageInfo `json:"pageInfo"`
}

type ownerResponse[T any] struct {
	Owner *struct {
		Conn connection[T] `json:"conn"`
	} `json:"owner"`
}

// Fetcher resolves relations on the sponsorship graph by following GraphQL
// cursor pagination to exhaustion. It holds no traversal state.
type Fetcher struct {
	gql      graphql.Client
	pageSize int
}

// NewFetcher creates a Fetcher. A non-positive pageSize uses DefaultPageSize.
func NewFetcher(gql graphql.Client, pageSize int) *Fetcher {
	if pageSize <= 0 || pageSize > DefaultPageSize {
		pageSize = DefaultPageSize
	}
	return &Fetcher{gql: gql, pageSize: pageSize}
}

// Fetch returns every login related to the given node. Failures are always
// *RemoteQueryError.
func (f *Fetcher) Fetch(ctx context.Context, kind RelationKind, login string) (Set, error) {
	rel, ok := _relations[kind]
	if !ok {
		return nil, fmt.Errorf("relation %d: %w", kind, ErrInvalidArgument)
	}

	out := Set{}
	pages := 0
	for page, err := range paginate[LoginNode](ctx, f.gql, rel.query, login, f.pageSize) {
		if err != nil {
			return nil, remoteErr(kind, login, err)
		}
		pages++
		for _, n := range page.Items {
			if n == nil || n.Login == "" {
				continue // Null or a node of the other type.
			}
			out.Add(n.Login)
		}
	}

	Log(ctx).Debug("fetched relation", "kind", kind, "login", login, "pages", pages, "count", len(out))

	return out, nil
}

// Pages streams the raw pages of a relation. Iteration stops after the first
// error.
func (f *Fetcher) Pages(ctx context.Context, kind RelationKind, login string) iter.Seq2[Page[LoginNode], error] {
	rel, ok := _relations[kind]
	if !ok {
		return func(yield func(Page[LoginNode], error) bool) {
			yield(Page[LoginNode]{}, fmt.Errorf("relation %d: %w", kind, ErrInvalidArgument))
		}
	}
	return func(yield func(Page[LoginNode], error) bool) {
		for page, err := range paginate[LoginNode](ctx, f.gql, rel.query, login, f.pageSize) {
			if err != nil {
				yield(page, remoteErr(kind, login, err))
				return
			}
			if !yield(page, nil) {
				return
			}
		}
	}
}

// FetchCount returns how many users an organization sponsors, using a single
// non-paginated request.
func (f *Fetcher) FetchCount(ctx context.Context, login string) (int, error) {
	var data ownerResponse[LoginNode]
	err := request(ctx, f.gql, _orgSponsoringCount, map[string]any{"login": login}, &data)
	if err != nil {
		return 0, remoteErr(OrgSponsoringUsers, login, err)
	}
	if data.Owner == nil {
		return 0, remoteErr(OrgSponsoringUsers, login, errNotFound)
	}
	return data.Owner.Conn.TotalCount, nil
}

// paginate requests pages until the API reports there are no more. An empty
// page doesn't end the sequence; only hasNextPage does.
func paginate[T any](ctx context.Context, gql graphql.Client, q query, login string, first int) iter.Seq2[Page[T], error] {
	return func(yield func(Page[T], error) bool) {
		var after *string
		for {
			page, err := fetchPage[T](ctx, gql, q, login, first, after)
			if err != nil {
				yield(Page[T]{}, err)
				return
			}
			if !yield(page, nil) {
				return
			}
			if !page.HasMore {
				return
			}
			cursor := page.NextCursor
			after = &cursor
		}
	}
}

func fetchPage[T any](ctx context.Context, gql graphql.Client, q query, login string, first int, after *string) (Page[T], error) {
	var data ownerResponse[T]
	vars := map[string]any{
		"login": login,
		"first": first,
		"after": after,
	}
	if err := request(ctx, gql, q, vars, &data); err != nil {
		return Page[T]{}, err
	}
	if data.Owner == nil {
		return Page[T]{}, errNotFound
	}

	conn := data.Owner.Conn
	page := Page[T]{
		Items:   conn.Nodes,
		HasMore: conn.PageInfo.HasNextPage,
	}
	if conn.PageInfo.EndCursor != nil {
		page.NextCursor = *conn.PageInfo.EndCursor
	}
	if page.HasMore && page.NextCursor == "" {
		// Following an empty cursor would restart from the first page.
		return Page[T]{}, errors.New("more pages reported without a cursor")
	}
	return page, nil
}

// request issues one GraphQL operation and decodes its data into out.
func request(ctx context.Context, gql graphql.Client, q query, vars map[string]any, out any) error {
	req := &graphql.Request{
		Query:     q.body,
		Variables: vars,
		OpName:    q.opName,
	}
	resp := &graphql.Response{
		Data: out,
	}
	return gql.MakeRequest(ctx, req, resp)
}
