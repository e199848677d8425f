package election

import (
	"context"
	"errors"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/votevoice/pkg/store"
)

// UploadKind selects the blob folder of an upload.
type UploadKind string

const (
	// UploadPhoto is a candidate passport photo.
	UploadPhoto UploadKind = "passports"

	// UploadDocument is a candidate eligibility document.
	UploadDocument UploadKind = "eligibility_docs"

	// UploadEvidence is incident evidence.
	UploadEvidence UploadKind = "evidence"
)

// Application is a candidate application awaiting moderation.
type Application struct {
	ID              string    `json:"-"`
	UserID          string    `json:"userId,omitempty"`
	Name            string    `json:"name"`
	Position        string    `json:"position"`
	AdmissionNumber string    `json:"admissionNumber"`
	Age             string    `json:"age"`
	Course          string    `json:"course"`
	Email           string    `json:"email"`
	BriefInfo       string    `json:"briefInfo"`
	PhotoURL        string    `json:"photoUrl"`
	DocumentURL     string    `json:"documentUrl"`
	Status          string    `json:"status"`
	SubmittedAt     time.Time `json:"submittedAt"`
}

// Candidate is an approved contestant on the ballot.
type Candidate struct {
	ID         string    `json:"-"`
	Name       string    `json:"name"`
	Position   string    `json:"position"`
	BriefInfo  string    `json:"briefInfo"`
	Course     string    `json:"course,omitempty"`
	PhotoURL   string    `json:"photoUrl,omitempty"`
	ApprovedAt time.Time `json:"approvedAt"`
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Upload stores a file under the folder for kind with a timestamped name
// and returns its URL.
func (s *Service) Upload(ctx context.Context, kind UploadKind, name, contentType string, data []byte) (string, error) {
	switch kind {
	case UploadPhoto, UploadDocument, UploadEvidence:
	default:
		return "", fmt.Errorf("election: upload: unknown kind %q", kind)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("election: upload: %w", ErrMissingFields)
	}
	base := unsafeName.ReplaceAllString(path.Base(name), "_")
	if base == "" || base == "." || base == "_" {
		base = "file"
	}
	p := fmt.Sprintf("%s/%d_%s", kind, s.now().UnixMilli(), base)

	var url string
	err := s.action(ctx, "upload", func(ctx context.Context) error {
		var err error
		url, err = s.blobs.Upload(ctx, p, data, contentType)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("election: upload: %w", err)
	}
	return url, nil
}

// SubmitApplication stores a pending application and returns its ID. Every
// field, including both upload URLs, is required.
func (s *Service) SubmitApplication(ctx context.Context, a Application) (string, error) {
	var id string
	err := s.action(ctx, "submit_application", func(ctx context.Context) error {
		if err := required(a.Name, a.Position, a.AdmissionNumber, a.Age, a.Course, a.BriefInfo, a.PhotoURL, a.DocumentURL); err != nil {
			return err
		}
		a.Name = strings.TrimSpace(a.Name)
		a.AdmissionNumber = strings.TrimSpace(a.AdmissionNumber)
		a.Course = strings.TrimSpace(a.Course)
		a.BriefInfo = strings.TrimSpace(a.BriefInfo)
		a.Email = strings.TrimSpace(a.Email)
		a.Status = "pending"
		a.SubmittedAt = s.now().UTC()

		fields, err := store.Encode(a)
		if err != nil {
			return err
		}
		return s.timed(ctx, "add", func() error {
			id, err = s.store.Add(ctx, Applications, fields)
			return err
		})
	})
	if err != nil {
		return "", fmt.Errorf("election: submit application: %w", err)
	}
	return id, nil
}

// PendingApplications returns applications, oldest first.
func (s *Service) PendingApplications(ctx context.Context) ([]Application, error) {
	docs, err := s.store.List(ctx, Applications)
	if err != nil {
		return nil, fmt.Errorf("election: list applications: %w", err)
	}
	apps := make([]Application, 0, len(docs))
	for _, d := range docs {
		var a Application
		if err := store.Decode(d, &a); err != nil {
			return nil, fmt.Errorf("election: list applications: %w", err)
		}
		a.ID = d.ID
		apps = append(apps, a)
	}
	sort.SliceStable(apps, func(i, j int) bool { return apps[i].SubmittedAt.Before(apps[j].SubmittedAt) })
	return apps, nil
}

// Approve moves an application onto the ballot and returns the new
// candidate ID.
func (s *Service) Approve(ctx context.Context, applicationID string) (string, error) {
	var candidateID string
	err := s.action(ctx, "approve", func(ctx context.Context) error {
		candidateID = uuid.NewString()
		return s.store.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
			d, err := tx.Get(ctx, Applications, applicationID)
			if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrInvalidPath) {
				return ErrNotFound
			}
			if err != nil {
				return err
			}
			var a Application
			if err := store.Decode(d, &a); err != nil {
				return err
			}
			fields, err := store.Encode(Candidate{
				Name:       a.Name,
				Position:   a.Position,
				BriefInfo:  a.BriefInfo,
				Course:     a.Course,
				PhotoURL:   a.PhotoURL,
				ApprovedAt: s.now().UTC(),
			})
			if err != nil {
				return err
			}
			if err := tx.Set(ctx, Contestants, candidateID, fields, store.SetOptions{}); err != nil {
				return err
			}
			return tx.Delete(ctx, Applications, applicationID)
		})
	})
	if err != nil {
		return "", fmt.Errorf("election: approve %s: %w", applicationID, err)
	}
	return candidateID, nil
}

// Reject deletes an application.
func (s *Service) Reject(ctx context.Context, applicationID string) error {
	return s.remove(ctx, "reject", Applications, applicationID)
}

// DeleteCandidate removes a contestant from the ballot. Votes already cast
// for them stay in the tallies.
func (s *Service) DeleteCandidate(ctx context.Context, candidateID string) error {
	return s.remove(ctx, "delete_candidate", Contestants, candidateID)
}

func (s *Service) remove(ctx context.Context, action, collection, id string) error {
	err := s.action(ctx, action, func(ctx context.Context) error {
		return s.store.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
			if _, err := tx.Get(ctx, collection, id); errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrInvalidPath) {
				return ErrNotFound
			} else if err != nil {
				return err
			}
			return tx.Delete(ctx, collection, id)
		})
	})
	if err != nil {
		return fmt.Errorf("election: %s %s: %w", strings.ReplaceAll(action, "_", " "), id, err)
	}
	return nil
}

// Candidates returns every contestant ordered by ballot position, then
// name.
func (s *Service) Candidates(ctx context.Context) ([]Candidate, error) {
	docs, err := s.store.List(ctx, Contestants)
	if err != nil {
		return nil, fmt.Errorf("election: list candidates: %w", err)
	}
	out := make([]Candidate, 0, len(docs))
	for _, d := range docs {
		var c Candidate
		if err := store.Decode(d, &c); err != nil {
			return nil, fmt.Errorf("election: list candidates: %w", err)
		}
		c.ID = d.ID
		out = append(out, c)
	}
	rank := s.positionRank()
	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := rank(out[i].Position), rank(out[j].Position)
		if ri != rj {
			return ri < rj
		}
		if pi, pj := positionKey(out[i].Position), positionKey(out[j].Position); pi != pj {
			return pi < pj
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// ballotPosition is the office a candidate stands for on the ballot. A blank
// position is listed as "Other".
func ballotPosition(p string) string {
	if p = strings.TrimSpace(p); p == "" {
		return "Other"
	}
	return p
}

func positionKey(p string) string { return strings.ToLower(ballotPosition(p)) }

// positionRank returns the ballot index of a position. Positions that are
// not configured rank after all configured ones.
func (s *Service) positionRank() func(string) int {
	idx := make(map[string]int, len(s.cfg.Positions))
	for i, p := range s.cfg.Positions {
		idx[positionKey(p)] = i
	}
	return func(p string) int {
		if i, ok := idx[positionKey(p)]; ok {
			return i
		}
		return len(idx)
	}
}
