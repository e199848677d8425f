package screens

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MrWong99/votevoice/internal/election"
	"github.com/MrWong99/votevoice/internal/intent"
	"github.com/MrWong99/votevoice/internal/wizard"
)

const homeMenu = "You are on the Home Menu. You can say: Start Voting, View contestants, View Results, " +
	"Application page, Give feedback, Logout, or Replay instructions."

func home(_ context.Context, env Env) (*wizard.Wizard, error) {
	intro := "Welcome."
	if env.UserName != "" {
		intro = fmt.Sprintf("Welcome, %s.", env.UserName)
	}
	return wizard.New(wizard.Config{
		Name:  Home,
		Intro: intro,
		Departures: map[string]string{
			Vote:        "Opening Voting Page...",
			Contestants: "Showing Contestants...",
			Results:     "Opening Results...",
			Apply:       "Opening Candidates Application...",
			Report:      "Opening Feedback...",
			Logout:      "Logging out...",
		},
	}, []wizard.Step{{
		ID:     "menu",
		Kind:   wizard.Navigation,
		Prompt: text(homeMenu),
		Retry:  "I didn't catch that. Please say a command like Start Voting or Logout.",
		Labels: []intent.Label{
			intent.Command(Vote, "start voting", "voting", "vote"),
			intent.Command(Contestants, "view contestants", "contestant", "candidate"),
			intent.Command(Results, "view results", "result", "score"),
			intent.Command(Apply, "application page", "application", "apply", "run"),
			intent.Command(Report, "give feedback", "feedback", "report"),
			intent.Command(Logout, "logout", "log out", "sign out"),
		},
	}}, env.options()...), nil
}

var backLabels = []intent.Label{intent.Command(Home, "home", "back", "menu")}

// results reads the published tallies. A failed read is spoken rather than
// returned so the screen stays navigable.
func results(ctx context.Context, env Env) (*wizard.Wizard, error) {
	summary := resultsSummary(ctx, env.Election)
	return wizard.New(wizard.Config{
		Name:       Results,
		Departures: map[string]string{Home: "Going home."},
	}, []wizard.Step{{
		ID:     "summary",
		Kind:   wizard.Navigation,
		Prompt: text(summary + " Say Repeat to hear them again, or Home to go back."),
		Labels: backLabels,
	}}, env.options()...), nil
}

func resultsSummary(ctx context.Context, svc *election.Service) string {
	published, err := svc.ResultsPublished(ctx)
	if err != nil {
		slog.Warn("screens: results published check failed", "err", err)
		return "I could not fetch the results. Please try again later."
	}
	if !published {
		return "The results have not been published yet."
	}
	tallies, err := svc.Results(ctx)
	if err != nil {
		slog.Warn("screens: reading results failed", "err", err)
		return "I could not fetch the results. Please try again later."
	}
	return describeTallies(tallies)
}

func describeTallies(tallies []election.Tally) string {
	var total int64
	for _, t := range tallies {
		total += t.Total()
	}
	if total == 0 {
		return "No votes have been cast yet."
	}
	parts := []string{"Here are the current election results."}
	for _, t := range tallies {
		leader, ok := t.Leader()
		if !ok {
			parts = append(parts, fmt.Sprintf("For %s, there are no votes.", t.Position))
			continue
		}
		parts = append(parts, fmt.Sprintf("For %s, the leader is %s, with %s.", t.Position, leader.Candidate, votes(leader.Votes)))
	}
	parts = append(parts, "End of results.")
	return strings.Join(parts, " ")
}

func votes(n int64) string {
	if n == 1 {
		return "1 vote"
	}
	return fmt.Sprintf("%d votes", n)
}

func contestants(ctx context.Context, env Env) (*wizard.Wizard, error) {
	ballot, err := env.Election.Ballot(ctx)
	summary := "I could not fetch the contestants. Please try again later."
	switch {
	case err != nil:
		slog.Warn("screens: reading ballot failed", "err", err)
	case len(ballot) == 0:
		summary = "No contestants have been approved yet."
	default:
		parts := []string{"Here are the contestants."}
		for _, b := range ballot {
			parts = append(parts, fmt.Sprintf("For %s: %s.", b.Position, list(b.Names(), "and")))
		}
		parts = append(parts, "End of list.")
		summary = strings.Join(parts, " ")
	}
	return wizard.New(wizard.Config{
		Name:       Contestants,
		Departures: map[string]string{Home: "Going home."},
	}, []wizard.Step{{
		ID:     "list",
		Kind:   wizard.Navigation,
		Prompt: text(summary + " Say Repeat to hear the list again, or Home to go back."),
		Labels: backLabels,
	}}, env.options()...), nil
}
