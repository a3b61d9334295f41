package store

import (
	"github.com/aakashsharma7/code-reviewer/core/db"
)

type Stores struct {
	q db.Querier
}

func NewStores(q db.Querier) *Stores {
	return &Stores{q: q}
}

func (s *Stores) Jobs() JobStore {
	return newJobStore(s.q)
}

func (s *Stores) Reviews() ReviewStore {
	return newReviewStore(s.q)
}

func (s *Stores) Issues() IssueStore {
	return newIssueStore(s.q)
}
