package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Khan/genqlient/graphql"
	"github.com/graphql-go/graphql/language/ast"
	"github.com/graphql-go/graphql/language/parser"
	"github.com/graphql-go/graphql/language/printer"
	"github.com/graphql-go/graphql/language/source"
	"github.com/graphql-go/graphql/language/visitor"
	gqlast "github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"golang.org/x/exp/rand"
)

// GitHubGraphQL is the public GitHub GraphQL endpoint.
const GitHubGraphQL = "https://api.github.com/graphql"

// batchedgqlclient accumulates queries and executes them in batch in order to
// make better use of rate limits. A crawl step issues many small, independent
// queries, which merge well.
type batchedgqlclient struct {
	mu sync.Mutex

	subscriptions map[string]*subscription
	qb            *queryBuilder

	wrapped graphql.Client
}

// NewBatchedGraphQLClient creates a batching GraphQL client. Queries are
// accumulated and executed every interval until ctx is done.
func NewBatchedGraphQLClient(ctx context.Context, url string, client *http.Client, every time.Duration) (graphql.Client, error) {
	if every <= 0 {
		return nil, fmt.Errorf("batch interval %v must be positive: %w", every, ErrInvalidArgument)
	}
	c := &batchedgqlclient{
		qb:            newQueryBuilder(),
		subscriptions: map[string]*subscription{},
		wrapped:       graphql.NewClient(url, client),
	}

	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				c.flush(context.WithoutCancel(ctx))
				return
			case <-ticker.C:
				c.flush(ctx)
			}
		}
	}()
	return c, nil
}

// flush executes the aggregated queries and returns responses to listeners.
func (c *batchedgqlclient) flush(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.qb.op == nil {
		return // Nothing to do yet.
	}

	query, vars := c.qb.build()

	data := map[string]json.RawMessage{}
	req := &graphql.Request{
		Query:     query,
		Variables: vars,
		OpName:    c.qb.op.Name.Value,
	}
	resp := &graphql.Response{
		Data: &data,
	}

	// Hold on to our subscribers before we reset the batcher.
	subscriptions := c.subscriptions
	fields := c.qb.fields

	// Issue the request in a separate goroutine so we can continue to
	// accumulate queries without needing to wait for the network call.
	go func() {
		ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
		defer cancel()

		err := c.wrapped.MakeRequest(ctx, req, resp)
		routed, shared := routeErrors(err, subscriptions)
		if shared != nil {
			Log(ctx).Warn("batched query error", "count", fields, "err", shared)
		}

		for id, sub := range subscriptions {
			if e := errors.Join(shared, routed[id]); e != nil {
				sub.respC <- e
				continue
			}
			raw, ok := data[id]
			if !ok {
				sub.respC <- fmt.Errorf("batched response missing %q", sub.field)
				continue
			}
			byt, err := json.Marshal(map[string]json.RawMessage{sub.field: raw})
			if err != nil {
				sub.respC <- err
				continue
			}
			sub.respC <- json.Unmarshal(byt, sub.resp.Data)
		}
	}()

	c.qb = newQueryBuilder()
	c.subscriptions = map[string]*subscription{}
}

// routeErrors assigns GraphQL errors to the subscription whose alias heads
// the error's path. Anything else applies to the whole batch.
func routeErrors(err error, subscriptions map[string]*subscription) (map[string]error, error) {
	routed := map[string]error{}
	if err == nil {
		return routed, nil
	}

	var elist gqlerror.List
	if !errors.As(err, &elist) {
		return routed, err
	}

	var shared error
	for _, e := range elist {
		if len(e.Path) > 0 {
			if name, ok := e.Path[0].(gqlast.PathName); ok {
				if _, ok := subscriptions[string(name)]; ok {
					routed[string(name)] = errors.Join(routed[string(name)], gqlStatusErr(e))
					continue
				}
			}
		}
		shared = errors.Join(shared, gqlStatusErr(e))
	}
	return routed, shared
}

// MakeRequest implements graphql.Client.
func (c *batchedgqlclient) MakeRequest(
	ctx context.Context,
	req *graphql.Request,
	resp *graphql.Response,
) error {
	respC, err := c.enqueue(req, resp)
	if err != nil {
		return err
	}
	select {
	case err := <-respC:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// enqueue adds a query to the batch and returns a channel which resolves
// when the batch is executed.
func (c *batchedgqlclient) enqueue(
	req *graphql.Request,
	resp *graphql.Response,
) (chan error, error) {
	var vars map[string]any
	out, err := json.Marshal(req.Variables)
	if err != nil {
		return nil, fmt.Errorf("encoding variables: %w", err)
	}
	if err := json.Unmarshal(out, &vars); err != nil {
		return nil, fmt.Errorf("decoding variables: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	id, field, err := c.qb.add(req.Query, vars)
	if err != nil {
		return nil, err
	}

	respC := make(chan error, 1)
	c.subscriptions[id] = &subscription{
		resp:  resp,
		respC: respC,
		field: field,
	}

	return respC, nil
}

// subscription holds information about a caller who is waiting for a query to
// be resolved as part of a batch.
type subscription struct {
	resp  *graphql.Response
	respC chan error
	field string
}

// gqlclient wraps graphql.Client and translates errors into meaningful status
// codes. GitHub returns error responses with a 200 OK status code and a
// populated "errors" field. We want to instead surface e.g. 404 errors
// directly.
type gqlclient struct {
	wrapped graphql.Client
}

// MakeRequest implements graphql.Client.
func (c gqlclient) MakeRequest(
	ctx context.Context,
	req *graphql.Request,
	resp *graphql.Response,
) error {
	err := c.wrapped.MakeRequest(ctx, req, resp)
	if err == nil {
		return nil
	}

	var httpErr *graphql.HTTPError
	if errors.As(err, &httpErr) {
		return errors.Join(err, statusErr(httpErr.StatusCode))
	}

	var elist gqlerror.List
	if !errors.As(err, &elist) {
		return err
	}

	err = nil
	for _, e := range elist {
		err = errors.Join(err, gqlStatusErr(e))
	}
	return err
}

// gqlStatusErr attaches a status code to GraphQL errors we know how to
// classify.
func gqlStatusErr(e *gqlerror.Error) error {
	msg := strings.ToLower(e.Message)
	switch {
	case strings.Contains(msg, "could not resolve to"):
		return errors.Join(e, errNotFound)
	case strings.Contains(msg, "rate limit"):
		return errors.Join(e, errTooManyRequest)
	default:
		return e
	}
}

// NewGraphQLClient returns a client which issues one request per query.
func NewGraphQLClient(url string, client *http.Client) graphql.Client {
	return gqlclient{graphql.NewClient(url, client)}
}

// queryBuilder accumulates queries into one query with multiple fields so they
// can all be executed as part of one request.
type queryBuilder struct {
	op     *ast.OperationDefinition
	fields int
	vars   map[string]any
}

// newQueryBuilder initializes a new QueryBuilder with an empty Document.
func newQueryBuilder() *queryBuilder {
	return &queryBuilder{
		vars: make(map[string]any),
	}
}

var runes = []rune("abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ")

// randRunes returns a short random string of length n.
func randRunes(n int) string {
	b := make([]rune, n)
	for i := range b {
		b[i] = runes[rand.Intn(len(runes))]
	}
	return string(b)
}

// add extends the current query with a new field. The field's alias and
// response key are returned so the result can be recovered later.
func (qb *queryBuilder) add(query string, vars map[string]any) (id string, field string, err error) {
	src := source.NewSource(&source.Source{
		Body: []byte(query),
	})

	parsedDoc, err := parser.Parse(parser.ParseParams{Source: src})
	if err != nil {
		return "", "", fmt.Errorf("failed to parse query: %w", err)
	}

	id = randRunes(8)
	for qb.vars[id+"_login"] != nil {
		id = randRunes(8)
	}

	var opDef *ast.OperationDefinition
	for _, def := range parsedDoc.Definitions {
		if d, ok := def.(*ast.OperationDefinition); ok {
			opDef = d
			break // Only one operation per request.
		}
	}
	if opDef == nil {
		return "", "", fmt.Errorf("query has no operation")
	}

	if qb.op == nil {
		qb.op = opDef
	}

	varRename := make(map[string]string)

	// Visit the AST to rename vars and alias fields.
	opts := visitor.VisitInParallel(&visitor.VisitorOptions{
		Enter: func(p visitor.VisitFuncParams) (string, any) {
			switch node := p.Node.(type) {
			case *ast.VariableDefinition:
				oldName := node.Variable.Name.Value
				newName := id + "_" + oldName
				varRename[oldName] = newName
				node.Variable.Name.Value = newName
				qb.vars[newName] = vars[oldName]
			case *ast.Variable:
				if newName, ok := varRename[node.Name.Value]; ok {
					node.Name.Value = newName
				}
			case *ast.Field:
				if len(p.Ancestors) == 3 {
					// The caller decodes under the response key, which is
					// the alias when there is one.
					field = node.Name.Value
					if node.Alias != nil {
						field = node.Alias.Value
					}
					node.Alias = &ast.Name{Value: id, Kind: "Name"}
				}
			}
			return visitor.ActionNoChange, nil
		},
	})
	visitor.Visit(opDef, opts, nil)

	qb.fields++

	if qb.op != opDef {
		qb.op.SelectionSet.Selections = append(qb.op.SelectionSet.Selections, opDef.SelectionSet.Selections...)
		qb.op.VariableDefinitions = append(qb.op.VariableDefinitions, opDef.VariableDefinitions...)
	}

	return id, field, nil
}

// build returns the merged query string and variables map.
func (qb *queryBuilder) build() (string, map[string]any) {
	queryStr := printer.Print(qb.op)
	return fmt.Sprint(queryStr), qb.vars
}
