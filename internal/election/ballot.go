package election

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/votevoice/internal/observe"
	"github.com/MrWong99/votevoice/pkg/store"
)

// PositionBallot lists the candidates standing for one office.
type PositionBallot struct {
	Position   string
	Candidates []Candidate
}

// Names returns the candidate names in ballot order.
func (b PositionBallot) Names() []string {
	names := make([]string, len(b.Candidates))
	for i, c := range b.Candidates {
		names[i] = c.Name
	}
	return names
}

// Ballot groups the contestants by position in configured ballot order.
// Positions without candidates are omitted; positions that are not
// configured follow the configured ones.
func (s *Service) Ballot(ctx context.Context) ([]PositionBallot, error) {
	cands, err := s.Candidates(ctx)
	if err != nil {
		return nil, err
	}
	var out []PositionBallot
	for _, c := range cands {
		pos := ballotPosition(c.Position)
		if n := len(out); n > 0 && positionKey(out[n-1].Position) == positionKey(pos) {
			out[n-1].Candidates = append(out[n-1].Candidates, c)
			continue
		}
		out = append(out, PositionBallot{Position: pos, Candidates: []Candidate{c}})
	}
	return out, nil
}

func voterKey(userID, position string) string { return userID + ":" + position }

// HasVoted reports whether userID has voted for position.
func (s *Service) HasVoted(ctx context.Context, userID, position string) (bool, error) {
	_, err := s.store.Get(ctx, Voters, voterKey(userID, position))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, store.ErrNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("election: has voted: %w", err)
	}
}

// CastVote records one vote. The voter marker check, the tally increment
// and the marker write share one transaction, so a user gets at most one
// vote per position however many requests race.
func (s *Service) CastVote(ctx context.Context, userID, position, candidate string) error {
	err := s.action(ctx, "cast_vote", func(ctx context.Context) error {
		if err := required(userID, position, candidate); err != nil {
			return err
		}
		key := voterKey(userID, position)
		return s.timed(ctx, "cast_vote", func() error {
			return s.store.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
				_, err := tx.Get(ctx, Voters, key)
				if err == nil {
					return ErrAlreadyVoted
				}
				if !errors.Is(err, store.ErrNotFound) {
					return err
				}
				err = tx.Set(ctx, Votes, position, store.Fields{candidate: store.Increment(1)}, store.SetOptions{Merge: true})
				if err != nil {
					return err
				}
				return tx.Set(ctx, Voters, key, store.Fields{
					"userId":    userID,
					"position":  position,
					"candidate": candidate,
					"castAt":    s.now().UTC().Format(time.RFC3339),
				}, store.SetOptions{})
			})
		})
	})

	result := "ok"
	switch {
	case errors.Is(err, ErrAlreadyVoted):
		result = "already_voted"
	case err != nil:
		result = "error"
	}
	s.metrics.RecordVote(ctx, position, result)
	if err != nil {
		observe.Logger(ctx).Debug("election: vote not recorded", "position", position, "err", err)
		return fmt.Errorf("election: cast vote: %w", err)
	}
	return nil
}

// Count is one candidate's votes.
type Count struct {
	Candidate string
	Votes     int64
}

// Tally holds the counts for one position, highest first.
type Tally struct {
	Position string
	Counts   []Count
}

// Leader returns the top count. ok is false when nobody has votes.
func (t Tally) Leader() (Count, bool) {
	if len(t.Counts) == 0 || t.Counts[0].Votes == 0 {
		return Count{}, false
	}
	return t.Counts[0], true
}

// Total returns the number of votes cast for the position.
func (t Tally) Total() int64 {
	var n int64
	for _, c := range t.Counts {
		n += c.Votes
	}
	return n
}

// Results reads the tally of every configured position and of every
// position on the ballot, one read per position in parallel. Positions with
// no votes yield an empty tally.
func (s *Service) Results(ctx context.Context) ([]Tally, error) {
	positions := s.Positions()
	ballot, err := s.Ballot(ctx)
	if err != nil {
		return nil, fmt.Errorf("election: results: %w", err)
	}
	seen := make(map[string]bool, len(positions))
	for _, p := range positions {
		seen[strings.ToLower(p)] = true
	}
	for _, b := range ballot {
		if !seen[strings.ToLower(b.Position)] {
			seen[strings.ToLower(b.Position)] = true
			positions = append(positions, b.Position)
		}
	}

	tallies := make([]Tally, len(positions))
	g, gctx := errgroup.WithContext(ctx)
	for i, pos := range positions {
		g.Go(func() error {
			t, err := s.tally(gctx, pos)
			if err != nil {
				return err
			}
			tallies[i] = t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("election: results: %w", err)
	}
	return tallies, nil
}

func (s *Service) tally(ctx context.Context, position string) (Tally, error) {
	t := Tally{Position: position}
	var doc store.Document
	err := s.timed(ctx, "get", func() error {
		var err error
		doc, err = s.store.Get(ctx, Votes, position)
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return t, nil
	}
	if err != nil {
		return Tally{}, fmt.Errorf("tally %s: %w", position, err)
	}
	for name, v := range doc.Fields {
		n, ok := store.Int(v)
		if !ok {
			continue
		}
		t.Counts = append(t.Counts, Count{Candidate: name, Votes: n})
	}
	sort.Slice(t.Counts, func(i, j int) bool {
		if t.Counts[i].Votes != t.Counts[j].Votes {
			return t.Counts[i].Votes > t.Counts[j].Votes
		}
		return t.Counts[i].Candidate < t.Counts[j].Candidate
	})
	return t, nil
}

// ResultsPublished reports whether the administrator has released the
// results to voters.
func (s *Service) ResultsPublished(ctx context.Context) (bool, error) {
	d, err := s.store.Get(ctx, Settings, settingsDoc)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("election: results published: %w", err)
	}
	return d.Fields.Bool("resultsPublished"), nil
}

// SetResultsPublished releases or withdraws the results.
func (s *Service) SetResultsPublished(ctx context.Context, published bool) error {
	err := s.action(ctx, "set_results_published", func(ctx context.Context) error {
		return s.store.Set(ctx, Settings, settingsDoc, store.Fields{"resultsPublished": published}, store.SetOptions{Merge: true})
	})
	if err != nil {
		return fmt.Errorf("election: set results published: %w", err)
	}
	return nil
}

// Incident is a report of election misconduct or a technical fault.
type Incident struct {
	ID          string    `json:"-"`
	Category    string    `json:"category"`
	Description string    `json:"description"`
	EvidenceURL string    `json:"evidenceUrl,omitempty"`
	ReportedBy  string    `json:"reportedBy,omitempty"`
	Status      string    `json:"status"`
	Flagged     bool      `json:"flagged"`
	ReportedAt  time.Time `json:"timestamp"`
}

// SubmitIncident stores a report and returns its ID. An empty description
// is recorded as "Voice Report".
func (s *Service) SubmitIncident(ctx context.Context, in Incident) (string, error) {
	var id string
	err := s.action(ctx, "submit_incident", func(ctx context.Context) error {
		if err := required(in.Category); err != nil {
			return err
		}
		if strings.TrimSpace(in.Description) == "" {
			in.Description = "Voice Report"
		}
		in.Status = "investigating"
		in.Flagged = true
		in.ReportedAt = s.now().UTC()
		fields, err := store.Encode(in)
		if err != nil {
			return err
		}
		return s.timed(ctx, "add", func() error {
			id, err = s.store.Add(ctx, Incidents, fields)
			return err
		})
	})
	if err != nil {
		return "", fmt.Errorf("election: submit incident: %w", err)
	}
	return id, nil
}

// Incidents returns every report, newest first.
func (s *Service) Incidents(ctx context.Context) ([]Incident, error) {
	docs, err := s.store.List(ctx, Incidents)
	if err != nil {
		return nil, fmt.Errorf("election: list incidents: %w", err)
	}
	out := make([]Incident, 0, len(docs))
	for _, d := range docs {
		var in Incident
		if err := store.Decode(d, &in); err != nil {
			return nil, fmt.Errorf("election: list incidents: %w", err)
		}
		in.ID = d.ID
		out = append(out, in)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ReportedAt.After(out[j].ReportedAt) })
	return out, nil
}
