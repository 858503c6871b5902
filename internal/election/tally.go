package election

import "time"

// CandidateResult is one row of a tally.
type CandidateResult struct {
	CandidateID string `json:"candidate_id"`
	Name        string `json:"name,omitempty"`
	Symbol      Symbol `json:"symbol"`
	Color       string `json:"color"`
	VoteCount
	Total int `json:"total"`
}

// Tally is the computed outcome of an election, merged with its stored
// results record.
type Tally struct {
	ElectionID         string            `json:"election_id"`
	Status             Status            `json:"status"`
	TotalVotes         int               `json:"total_votes"`
	AuthenticatedVotes int               `json:"authenticated_votes"`
	AnonymousVotes     int               `json:"anonymous_votes"`
	Candidates         []CandidateResult `json:"candidates"`
	WinnerID           string            `json:"winner_id,omitempty"`
	Tie                bool              `json:"tie"`
	Published          bool              `json:"published"`
	PublishedAt        *time.Time        `json:"published_at,omitempty"`
	CalculatedAt       *time.Time        `json:"calculated_at,omitempty"`
}

// Count tallies both ledgers over the roster. The strict maximum wins; an
// equal maximum is reported as a tie with no winner, and an election
// without votes has neither. Votes for candidates missing from the roster
// are counted in the totals only.
func Count(electionID string, roster []Candidate, counts map[string]VoteCount) Tally {
	t := Tally{ElectionID: electionID, Candidates: make([]CandidateResult, 0, len(roster))}
	for _, c := range counts {
		t.AuthenticatedVotes += c.Authenticated
		t.AnonymousVotes += c.Anonymous
	}
	t.TotalVotes = t.AuthenticatedVotes + t.AnonymousVotes

	best, leaders := 0, 0
	for _, cand := range roster {
		vc := counts[cand.ID]
		row := CandidateResult{
			CandidateID: cand.ID,
			Name:        cand.Name,
			Symbol:      cand.Symbol,
			Color:       cand.Color,
			VoteCount:   vc,
			Total:       vc.Total(),
		}
		t.Candidates = append(t.Candidates, row)
		switch {
		case row.Total == 0:
		case row.Total > best:
			best, leaders = row.Total, 1
			t.WinnerID = cand.ID
		case row.Total == best:
			leaders++
		}
	}
	if leaders > 1 {
		t.WinnerID = ""
		t.Tie = true
	}
	return t
}

// withStored overlays the persisted results record on a fresh count.
func (t Tally) withStored(e Election) Tally {
	t.Status = e.Status
	t.Published = e.Results.Published
	t.PublishedAt = e.Results.PublishedAt
	t.CalculatedAt = e.Results.CalculatedAt
	if e.Results.CalculatedAt != nil {
		t.WinnerID = e.Results.WinnerID
		t.Tie = e.Results.Tie
	}
	return t
}
