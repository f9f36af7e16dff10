package internal

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"slices"

	"github.com/Khan/genqlient/graphql"
)

// SponsorshipValue is the lifetime amount one sponsor has given a user.
type SponsorshipValue struct {
	AmountInCents   int    `json:"amountInCents"`
	FormattedAmount string `json:"formattedAmount"`
	Sponsor         *struct {
		Login string `json:"login"`
	} `json:"sponsor"`
}

// SponsorLogin returns the sponsor's login, or "" for sponsors we can't see
// (e.g. private or deleted accounts).
func (v SponsorshipValue) SponsorLogin() string {
	if v.Sponsor == nil {
		return ""
	}
	return v.Sponsor.Login
}

// Tally returns every sponsor's lifetime contribution to a user, largest
// first.
func Tally(ctx context.Context, gql graphql.Client, login string, pageSize int) ([]SponsorshipValue, error) {
	if pageSize <= 0 || pageSize > DefaultPageSize {
		pageSize = DefaultPageSize
	}

	var out []SponsorshipValue
	for page, err := range paginate[SponsorshipValue](ctx, gql, _userSponsorshipValues, login, pageSize) {
		if err != nil {
			return nil, remoteErr(UserSponsors, login, err)
		}
		for _, v := range page.Items {
			if v == nil {
				continue
			}
			out = append(out, *v)
		}
	}

	slices.SortStableFunc(out, func(a, b SponsorshipValue) int {
		if c := cmp.Compare(b.AmountInCents, a.AmountInCents); c != 0 {
			return c
		}
		return cmp.Compare(a.SponsorLogin(), b.SponsorLogin())
	})
	return out, nil
}

// RenderTally writes one line per sponsor followed by the total.
func RenderTally(w io.Writer, values []SponsorshipValue) error {
	total := 0
	for _, v := range values {
		login := v.SponsorLogin()
		if login == "" {
			login = "(private)"
		}
		total += v.AmountInCents
		if _, err := fmt.Fprintf(w, "%s\t%s\n", v.FormattedAmount, login); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "$%d.%02d\ttotal from %d sponsors\n", total/100, total%100, len(values))
	return err
}
