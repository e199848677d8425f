package election

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/votevoice/internal/observe"
	"github.com/MrWong99/votevoice/pkg/blob"
	"github.com/MrWong99/votevoice/pkg/store"
	"github.com/MrWong99/votevoice/pkg/store/memory"
)

var testNow = time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)

func newService(t *testing.T, opts ...Option) (*Service, store.Store) {
	t.Helper()
	st := memory.New()
	t.Cleanup(func() { _ = st.Close() })
	opts = append([]Option{WithClock(func() time.Time { return testNow })}, opts...)
	svc := New(st, blob.NewMemStore("http://localhost:8080/files"), Config{AdminEmail: "Admin@Example.com"}, opts...)
	return svc, st
}

func addCandidate(t *testing.T, st store.Store, id, name, position string) {
	t.Helper()
	err := st.Set(context.Background(), Contestants, id, store.Fields{"name": name, "position": position, "briefInfo": "hi"}, store.SetOptions{})
	if err != nil {
		t.Fatalf("seed candidate: %v", err)
	}
}

// ── Accounts ─────────────────────────────────────────────────────────────────

func TestCreateAccountAndAuthenticate(t *testing.T) {
	t.Parallel()

	svc, _ := newService(t)
	ctx := context.Background()

	acct, err := svc.CreateAccount(ctx, NewAccount{
		FullName:   " Jane Doe ",
		Email:      "Jane@Example.com",
		RegNumber:  "CS/2021/001",
		Department: "Computer Science",
		Password:   "hunter22",
	})
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	if acct.ID == "" || acct.FullName != "Jane Doe" || acct.Email != "jane@example.com" || acct.Role != RoleStudent {
		t.Errorf("account = %+v", acct)
	}
	if !acct.CreatedAt.Equal(testNow) {
		t.Errorf("CreatedAt = %v, want %v", acct.CreatedAt, testNow)
	}

	got, err := svc.Authenticate(ctx, "jane@example.com ", "hunter22")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if got.ID != acct.ID {
		t.Errorf("Authenticate ID = %q, want %q", got.ID, acct.ID)
	}

	tests := []struct {
		name, email, password string
	}{
		{"wrong password", "jane@example.com", "nope"},
		{"unknown email", "john@example.com", "hunter22"},
		{"empty email", "", "hunter22"},
	}
	for _, tc := range tests {
		if _, err := svc.Authenticate(ctx, tc.email, tc.password); !errors.Is(err, ErrInvalidCredentials) {
			t.Errorf("%s: err = %v, want ErrInvalidCredentials", tc.name, err)
		}
	}
}

func TestCreateAccount_Errors(t *testing.T) {
	t.Parallel()

	svc, _ := newService(t)
	ctx := context.Background()
	in := NewAccount{FullName: "Jane", Email: "jane@example.com", RegNumber: "1", Department: "CS", Password: "pw"}
	if _, err := svc.CreateAccount(ctx, in); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}

	dup := in
	dup.Email = "JANE@example.com"
	if _, err := svc.CreateAccount(ctx, dup); !errors.Is(err, ErrEmailTaken) {
		t.Errorf("duplicate = %v, want ErrEmailTaken", err)
	}

	missing := in
	missing.Department = "  "
	if _, err := svc.CreateAccount(ctx, missing); !errors.Is(err, ErrMissingFields) {
		t.Errorf("missing = %v, want ErrMissingFields", err)
	}
}

func TestCreateAccount_Admin(t *testing.T) {
	t.Parallel()

	svc, _ := newService(t)
	acct, err := svc.CreateAccount(context.Background(), NewAccount{
		FullName: "Admin", Email: "admin@example.com", RegNumber: "0", Department: "Office", Password: "pw",
	})
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	if acct.Role != RoleAdmin {
		t.Errorf("role = %q, want admin", acct.Role)
	}
	if !svc.IsAdmin("ADMIN@example.com") || svc.IsAdmin("jane@example.com") {
		t.Error("IsAdmin mismatch")
	}
}

// ── Applications ─────────────────────────────────────────────────────────────

func fullApplication() Application {
	return Application{
		Name:            "Jane Doe",
		Position:        "President",
		AdmissionNumber: "ADM123",
		Age:             "21",
		Course:          "Law",
		Email:           "jane@example.com",
		BriefInfo:       "I will fix the library.",
		PhotoURL:        "http://localhost:8080/files/passports/1_photo.jpg",
		DocumentURL:     "http://localhost:8080/files/eligibility_docs/1_doc.pdf",
	}
}

func TestSubmitApproveApplication(t *testing.T) {
	t.Parallel()

	svc, st := newService(t)
	ctx := context.Background()

	id, err := svc.SubmitApplication(ctx, fullApplication())
	if err != nil {
		t.Fatalf("SubmitApplication: %v", err)
	}
	apps, err := svc.PendingApplications(ctx)
	if err != nil {
		t.Fatalf("PendingApplications: %v", err)
	}
	if len(apps) != 1 || apps[0].ID != id || apps[0].Status != "pending" {
		t.Fatalf("apps = %+v", apps)
	}

	candID, err := svc.Approve(ctx, id)
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if _, err := st.Get(ctx, Applications, id); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("application still present: %v", err)
	}
	cands, err := svc.Candidates(ctx)
	if err != nil {
		t.Fatalf("Candidates: %v", err)
	}
	if len(cands) != 1 || cands[0].ID != candID || cands[0].Name != "Jane Doe" || cands[0].Position != "President" {
		t.Errorf("candidates = %+v", cands)
	}

	if _, err := svc.Approve(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Approve = %v, want ErrNotFound", err)
	}
	if err := svc.DeleteCandidate(ctx, candID); err != nil {
		t.Fatalf("DeleteCandidate: %v", err)
	}
	if err := svc.DeleteCandidate(ctx, candID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second DeleteCandidate = %v, want ErrNotFound", err)
	}
}

func TestSubmitApplication_MissingUpload(t *testing.T) {
	t.Parallel()

	svc, _ := newService(t)
	a := fullApplication()
	a.DocumentURL = ""
	if _, err := svc.SubmitApplication(context.Background(), a); !errors.Is(err, ErrMissingFields) {
		t.Errorf("err = %v, want ErrMissingFields", err)
	}
}

func TestReject(t *testing.T) {
	t.Parallel()

	svc, _ := newService(t)
	ctx := context.Background()
	id, _ := svc.SubmitApplication(ctx, fullApplication())
	if err := svc.Reject(ctx, id); err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if apps, _ := svc.PendingApplications(ctx); len(apps) != 0 {
		t.Errorf("apps = %+v", apps)
	}
	if err := svc.Reject(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Reject(missing) = %v, want ErrNotFound", err)
	}
}

func TestUpload(t *testing.T) {
	t.Parallel()

	svc, _ := newService(t)
	ctx := context.Background()

	url, err := svc.Upload(ctx, UploadPhoto, "my photo (1).jpg", "image/jpeg", []byte("jpeg"))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	want := "http://localhost:8080/files/passports/" + "1777627800000" + "_my_photo_1_.jpg"
	if url != want {
		t.Errorf("url = %q, want %q", url, want)
	}
	if _, err := svc.Upload(ctx, UploadKind("secrets"), "a", "", []byte("x")); err == nil {
		t.Error("unknown kind accepted")
	}
	if _, err := svc.Upload(ctx, UploadEvidence, "a.m4a", "", nil); !errors.Is(err, ErrMissingFields) {
		t.Errorf("empty upload = %v, want ErrMissingFields", err)
	}
	if url, _ := svc.Upload(ctx, UploadEvidence, "../", "", []byte("x")); !strings.HasPrefix(url, "http://localhost:8080/files/evidence/") {
		t.Errorf("url = %q, want evidence folder", url)
	}
}

// ── Ballot ───────────────────────────────────────────────────────────────────

func TestBallot_Order(t *testing.T) {
	t.Parallel()

	svc, st := newService(t)
	addCandidate(t, st, "c1", "Bob", "Treasurer")
	addCandidate(t, st, "c2", "Alice", "President")
	addCandidate(t, st, "c3", "Carol", "President")
	addCandidate(t, st, "c4", "Dan", "Chess Captain")

	ballot, err := svc.Ballot(context.Background())
	if err != nil {
		t.Fatalf("Ballot: %v", err)
	}
	var got []string
	for _, b := range ballot {
		got = append(got, b.Position+"="+strings.Join(b.Names(), ","))
	}
	want := []string{"President=Alice,Carol", "Treasurer=Bob", "Chess Captain=Dan"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("ballot = %v, want %v", got, want)
	}
}

func TestBallot_MergesEquivalentPositions(t *testing.T) {
	t.Parallel()

	svc, st := newService(t)
	addCandidate(t, st, "c1", "Zed", "")
	addCandidate(t, st, "c2", "Mia", "Music")
	addCandidate(t, st, "c3", "Amos", "Other")
	addCandidate(t, st, "c4", "Lee", "Music ")
	addCandidate(t, st, "c5", "Kim", "  ")

	ballot, err := svc.Ballot(context.Background())
	if err != nil {
		t.Fatalf("Ballot: %v", err)
	}
	var got []string
	for _, b := range ballot {
		got = append(got, b.Position+"="+strings.Join(b.Names(), ","))
	}
	want := []string{"Music=Lee,Mia", "Other=Amos,Kim,Zed"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("ballot = %v, want %v", got, want)
	}
}

func TestCastVote(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	svc, _ := newService(t, WithMetrics(m))
	ctx := context.Background()

	voted, err := svc.HasVoted(ctx, "u1", "President")
	if err != nil || voted {
		t.Fatalf("HasVoted before = %v, %v", voted, err)
	}
	if err := svc.CastVote(ctx, "u1", "President", "Alice"); err != nil {
		t.Fatalf("CastVote: %v", err)
	}
	if err := svc.CastVote(ctx, "u1", "President", "Bob"); !errors.Is(err, ErrAlreadyVoted) {
		t.Fatalf("second CastVote = %v, want ErrAlreadyVoted", err)
	}
	if err := svc.CastVote(ctx, "u2", "President", "Alice"); err != nil {
		t.Fatalf("CastVote u2: %v", err)
	}
	if err := svc.CastVote(ctx, "u1", "Treasurer", "Bob"); err != nil {
		t.Fatalf("CastVote treasurer: %v", err)
	}
	if voted, _ := svc.HasVoted(ctx, "u1", "President"); !voted {
		t.Error("HasVoted after = false")
	}

	results, err := svc.Results(ctx)
	if err != nil {
		t.Fatalf("Results: %v", err)
	}
	if len(results) != len(DefaultPositions) {
		t.Fatalf("results = %d tallies, want %d", len(results), len(DefaultPositions))
	}
	pres := results[0]
	if lead, ok := pres.Leader(); !ok || lead.Candidate != "Alice" || lead.Votes != 2 || pres.Total() != 2 {
		t.Errorf("President tally = %+v", pres)
	}
	if _, ok := results[2].Leader(); ok {
		t.Errorf("Secretary General has a leader: %+v", results[2])
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	counts := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			if md.Name != "votevoice.votes.cast" {
				continue
			}
			for _, dp := range md.Data.(metricdata.Sum[int64]).DataPoints {
				st, _ := dp.Attributes.Value("status")
				counts[st.AsString()] += dp.Value
			}
		}
	}
	if counts["ok"] != 3 || counts["already_voted"] != 1 {
		t.Errorf("vote metrics = %v", counts)
	}
}

func TestCastVote_Concurrent(t *testing.T) {
	t.Parallel()

	svc, _ := newService(t)
	ctx := context.Background()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := svc.CastVote(ctx, "u1", "President", "Alice")
			switch {
			case err == nil:
				mu.Lock()
				wins++
				mu.Unlock()
			case !errors.Is(err, ErrAlreadyVoted):
				t.Errorf("CastVote: %v", err)
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Errorf("wins = %d, want 1", wins)
	}
	results, _ := svc.Results(ctx)
	if lead, _ := results[0].Leader(); lead.Votes != 1 {
		t.Errorf("tally = %+v, want 1 vote", results[0])
	}
}

func TestResults_TieOrder(t *testing.T) {
	t.Parallel()

	svc, st := newService(t)
	ctx := context.Background()
	if err := st.Set(ctx, Votes, "Treasurer", store.Fields{"Zed": 3, "Amy": 3, "Bo": 5}, store.SetOptions{}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	results, err := svc.Results(ctx)
	if err != nil {
		t.Fatalf("Results: %v", err)
	}
	got := results[3].Counts
	want := []Count{{"Bo", 5}, {"Amy", 3}, {"Zed", 3}}
	if len(got) != len(want) {
		t.Fatalf("counts = %+v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("counts[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestResultsPublished(t *testing.T) {
	t.Parallel()

	svc, _ := newService(t)
	ctx := context.Background()
	if p, err := svc.ResultsPublished(ctx); err != nil || p {
		t.Fatalf("ResultsPublished = %v, %v", p, err)
	}
	if err := svc.SetResultsPublished(ctx, true); err != nil {
		t.Fatalf("SetResultsPublished: %v", err)
	}
	if p, _ := svc.ResultsPublished(ctx); !p {
		t.Error("ResultsPublished = false after publish")
	}
}

// ── Incidents ────────────────────────────────────────────────────────────────

func TestSubmitIncident(t *testing.T) {
	t.Parallel()

	svc, _ := newService(t)
	ctx := context.Background()

	if _, err := svc.SubmitIncident(ctx, Incident{Description: "x"}); !errors.Is(err, ErrMissingFields) {
		t.Errorf("no category = %v, want ErrMissingFields", err)
	}
	id, err := svc.SubmitIncident(ctx, Incident{Category: "Bribery", ReportedBy: "u1"})
	if err != nil {
		t.Fatalf("SubmitIncident: %v", err)
	}
	incidents, err := svc.Incidents(ctx)
	if err != nil {
		t.Fatalf("Incidents: %v", err)
	}
	if len(incidents) != 1 {
		t.Fatalf("incidents = %+v", incidents)
	}
	got := incidents[0]
	if got.ID != id || got.Description != "Voice Report" || got.Status != "investigating" || !got.Flagged {
		t.Errorf("incident = %+v", got)
	}
}

func TestWatch(t *testing.T) {
	t.Parallel()

	svc, _ := newService(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := svc.Watch(ctx, Applications)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	id, err := svc.SubmitApplication(ctx, fullApplication())
	if err != nil {
		t.Fatalf("SubmitApplication: %v", err)
	}
	select {
	case c := <-ch:
		if c.Kind != store.Added || c.Doc.ID != id {
			t.Errorf("change = %+v", c)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no change")
	}
}
