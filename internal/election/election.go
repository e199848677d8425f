// Package election is the business layer of the voting assistant: student
// accounts, candidate applications and their moderation, the ballot, vote
// tallies, result publication and incident reports.
//
// All state lives in a [store.Store] under these collections:
//
//	users        account records, keyed by user ID
//	emails       email → user ID index enforcing unique sign-ups
//	applications pending candidate applications
//	contestants  approved candidates on the ballot
//	votes        one document per position mapping candidate → count
//	voters       "{userID}:{position}" markers, one per cast vote
//	incidents    incident reports
//	settings     the "election" document holding resultsPublished
//
// Uploaded files go to a [blob.Store]; records keep only their URLs.
package election

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/votevoice/internal/observe"
	"github.com/MrWong99/votevoice/pkg/blob"
	"github.com/MrWong99/votevoice/pkg/store"
)

// Collection names.
const (
	Users        = "users"
	Emails       = "emails"
	Applications = "applications"
	Contestants  = "contestants"
	Votes        = "votes"
	Voters       = "voters"
	Incidents    = "incidents"
	Settings     = "settings"

	settingsDoc = "election"
)

var (
	// ErrAlreadyVoted is returned by CastVote when the user has already
	// voted for the position.
	ErrAlreadyVoted = errors.New("election: already voted for this position")

	// ErrInvalidCredentials is returned by Authenticate for an unknown email
	// or a wrong password.
	ErrInvalidCredentials = errors.New("election: invalid credentials")

	// ErrEmailTaken is returned by CreateAccount for a registered email.
	ErrEmailTaken = errors.New("election: email already registered")

	// ErrMissingFields is returned when a required field is empty.
	ErrMissingFields = errors.New("election: missing required fields")

	// ErrNotFound is returned for unknown application or candidate IDs.
	ErrNotFound = errors.New("election: not found")
)

// DefaultPositions are the offices on the ballot, in ballot order.
var DefaultPositions = []string{
	"President",
	"Vice President",
	"Secretary General",
	"Treasurer",
	"Gender and disability representative",
	"Sports, entertainment and security secretary",
}

// DefaultReportCategories are the incident categories offered by the
// report screen.
var DefaultReportCategories = []string{"Bribery", "Intimidation", "Technical Failure"}

// Config parameterises a [Service].
type Config struct {
	// AdminEmail is the account that may moderate. Matched
	// case-insensitively.
	AdminEmail string

	// Positions lists the offices in ballot order. Defaults to
	// DefaultPositions.
	Positions []string

	// ReportCategories lists incident categories. Defaults to
	// DefaultReportCategories.
	ReportCategories []string
}

// Option configures a [Service].
type Option func(*Service)

// WithMetrics sets the metrics recorder. Defaults to observe.DefaultMetrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock replaces time.Now, which stamps records and upload names.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service implements the election operations. It is safe for concurrent
// use.
type Service struct {
	store   store.Store
	blobs   blob.Store
	cfg     Config
	metrics *observe.Metrics
	now     func() time.Time
}

// New returns a Service on st and blobs.
func New(st store.Store, blobs blob.Store, cfg Config, opts ...Option) *Service {
	if len(cfg.Positions) == 0 {
		cfg.Positions = DefaultPositions
	}
	if len(cfg.ReportCategories) == 0 {
		cfg.ReportCategories = DefaultReportCategories
	}
	s := &Service{store: st, blobs: blobs, cfg: cfg, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Positions returns the configured offices in ballot order.
func (s *Service) Positions() []string { return append([]string(nil), s.cfg.Positions...) }

// ReportCategories returns the configured incident categories.
func (s *Service) ReportCategories() []string {
	return append([]string(nil), s.cfg.ReportCategories...)
}

// Watch streams changes to one collection, starting with its current
// documents. It backs the admin live feed.
func (s *Service) Watch(ctx context.Context, collection string) (<-chan store.Change, error) {
	ch, err := s.store.Subscribe(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("election: watch %s: %w", collection, err)
	}
	return ch, nil
}

// action wraps a business operation in a span and records its duration.
func (s *Service) action(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	ctx, span := observe.StartSpan(ctx, "election."+name)
	start := time.Now()
	err := fn(ctx)
	s.metrics.RecordAction(ctx, name, start, err)
	observe.EndSpan(span, err)
	return err
}

// timed records the duration of one store call.
func (s *Service) timed(ctx context.Context, op string, fn func() error) error {
	start := time.Now()
	err := fn()
	s.metrics.RecordStoreOp(ctx, op, start, err)
	return err
}

func required(values ...string) error {
	for _, v := range values {
		if strings.TrimSpace(v) == "" {
			return ErrMissingFields
		}
	}
	return nil
}
