package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap/buffer"
)

// DefaultDegree is how many rounds a crawl runs when none is requested.
const DefaultDegree = 2

// _maxDegree keeps a single request from walking most of GitHub.
const _maxDegree = 4

// _buffers reduces GC.
var _buffers = buffer.NewPool()

// networkResource is the JSON shape of a crawl result.
type networkResource struct {
	Seed          string              `json:"seed"`
	Degree        int                 `json:"degree"`
	Organizations []string            `json:"organizations"`
	Failed        map[string][]string `json:"failed,omitempty"`
}

// crawler runs a crawl.
type crawler interface {
	Crawl(ctx context.Context, seed string, degree int) (*Network, error)
}

var _ crawler = (*Crawler)(nil)

// Handler is our HTTP handler. It handles muxing, response headers, etc. and
// offloads work to the crawler.
type Handler struct {
	crawler crawler
	counter counter
}

// NewHandler creates a new handler.
func NewHandler(c crawler, cnt counter) *Handler {
	return &Handler{crawler: c, counter: cnt}
}

// NewMux registers a handler's routes on a new mux.
func NewMux(h *Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /network/{org}", h.getNetwork)
	mux.HandleFunc("GET /count/{org}", h.getCount)

	// Default handler returns 404.
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return mux
}

// getNetwork handles /network/{org}?degree={n}.
func (h *Handler) getNetwork(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	org := r.PathValue("org")

	degree := DefaultDegree
	if d := r.URL.Query().Get("degree"); d != "" {
		var err error
		degree, err = strconv.Atoi(d)
		if err != nil {
			h.error(w, errors.Join(err, errBadRequest))
			return
		}
	}
	if degree > _maxDegree {
		h.error(w, errors.Join(fmt.Errorf("degree %d exceeds %d", degree, _maxDegree), errBadRequest))
		return
	}

	network, err := h.crawler.Crawl(ctx, org, degree)
	if errors.Is(err, ErrInvalidArgument) {
		h.error(w, errors.Join(err, errBadRequest))
		return
	}
	if err != nil {
		h.error(w, err)
		return
	}

	rsc := networkResource{
		Seed:          network.Seed,
		Degree:        network.Degree,
		Organizations: network.Orgs.Sorted(),
	}
	for kind, failed := range network.Failed {
		if len(failed) == 0 {
			continue
		}
		if rsc.Failed == nil {
			rsc.Failed = map[string][]string{}
		}
		rsc.Failed[kind.String()] = failed.Sorted()
	}

	// Don't let anyone hold on to a network we know is incomplete.
	ttl := time.Hour
	if rsc.Failed != nil {
		ttl = 0
	}

	h.json(w, rsc, ttl)
}

// getCount handles /count/{org}.
func (h *Handler) getCount(w http.ResponseWriter, r *http.Request) {
	org := r.PathValue("org")

	n, err := h.counter.FetchCount(r.Context(), org)
	if err != nil {
		h.error(w, err)
		return
	}

	h.json(w, OrgCount{Login: org, Count: n}, time.Hour)
}

// json writes v with cache headers. A zero ttl disables caching.
func (h *Handler) json(w http.ResponseWriter, v any, ttl time.Duration) {
	buf := _buffers.Get()
	defer buf.Free()

	if err := json.NewEncoder(buf).Encode(v); err != nil {
		h.error(w, err)
		return
	}

	if ttl > 0 {
		w.Header().Add("Cache-Control", fmt.Sprintf("public, max-age=%d", int(ttl.Seconds())))
	} else {
		w.Header().Add("Cache-Control", "no-store")
	}
	w.Header().Add("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// error writes an error message. The status code defaults to 500 unless the
// error wraps a statusErr.
func (*Handler) error(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var s statusErr
	if errors.As(err, &s) {
		status = s.Status()
	}
	http.Error(w, err.Error(), status)
}
