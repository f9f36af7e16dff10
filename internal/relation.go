package internal

import "log/slog"

// RelationKind selects which side of the sponsorship graph to expand.
type RelationKind int

const (
	// OrgSponsoringUsers maps an organization to the users it sponsors.
	OrgSponsoringUsers RelationKind = 1
	// UserSponsors maps a user to the organizations sponsoring it.
	UserSponsors RelationKind = 2
)

func (k RelationKind) String() string {
	switch k {
	case OrgSponsoringUsers:
		return "org-sponsoring"
	case UserSponsors:
		return "user-sponsors"
	default:
		return "unknown"
	}
}

// LogValue implements slog.LogValuer.
func (k RelationKind) LogValue() slog.Value {
	return slog.StringValue(k.String())
}

// query describes one GraphQL operation. Every query aliases its root object
// to "owner" and the connection to "conn" so responses share one decoded
// shape regardless of which field was selected.
type query struct {
	opName string
	body   string
}

// relation binds a kind to the query used to page through it.
type relation struct {
	kind  RelationKind
	query query
}

var _relations = map[RelationKind]relation{
	OrgSponsoringUsers: {
		kind: OrgSponsoringUsers,
		query: query{
			opName: "GetOrgSponsoring",
			body: `query GetOrgSponsoring($login: String!, $first: Int!, $after: String) {
  owner: organization(login: $login) {
    conn: sponsoring(first: $first, after: $after) {
      nodes {
        ... on User {
          login
        }
      }
      pageInfo {
        endCursor
        hasNextPage
      }
    }
  }
}`,
		},
	},
	UserSponsors: {
		kind: UserSponsors,
		query: query{
			opName: "GetUserSponsors",
			body: `query GetUserSponsors($login: String!, $first: Int!, $after: String) {
  owner: user(login: $login) {
    conn: sponsors(first: $first, after: $after) {
      nodes {
        ... on Organization {
          login
        }
      }
      pageInfo {
        endCursor
        hasNextPage
      }
    }
  }
}`,
		},
	},
}

var _orgSponsoringCount = query{
	opName: "GetOrgSponsoringCount",
	body: `query GetOrgSponsoringCount($login: String!) {
  owner: organization(login: $login) {
    conn: sponsoring(first: 1) {
      totalCount
    }
  }
}`,
}

var _userSponsorshipValues = query{
	opName: "GetUserSponsorshipValues",
	body: `query GetUserSponsorshipValues($login: String!, $first: Int!, $after: String) {
  owner: user(login: $login) {
    conn: lifetimeReceivedSponsorshipValues(first: $first, after: $after) {
      nodes {
        amountInCents
        formattedAmount
        sponsor {
          ... on User {
            login
          }
          ... on Organization {
            login
          }
        }
      }
      pageInfo {
        endCursor
        hasNextPage
      }
    }
  }
}`,
}
