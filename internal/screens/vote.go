package screens

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/votevoice/internal/election"
	"github.com/MrWong99/votevoice/internal/wizard"
)

// vote builds one confirmed choice step per position on the ballot.
// Positions the user has already voted for are passed over on entry.
func vote(ctx context.Context, env Env) (*wizard.Wizard, error) {
	svc := env.Election
	ballot, err := svc.Ballot(ctx)
	if err != nil {
		return nil, err
	}

	cfg := wizard.Config{
		Name:         Vote,
		CancelTarget: Home,
		Done:         "All votes cast. Thank you.",
		DoneTarget:   Results,
	}
	if len(ballot) == 0 {
		cfg.Done = "There are no candidates on the ballot yet."
		cfg.DoneTarget = Home
	}

	steps := make([]wizard.Step, 0, len(ballot))
	for _, b := range ballot {
		position := b.Position
		already := fmt.Sprintf("You have already voted for %s.", position)
		steps = append(steps, wizard.Step{
			ID:      position,
			Kind:    wizard.Choice,
			Prompt:  text(fmt.Sprintf("Voting for %s. Candidates are: %s. Say a name.", position, list(b.Names(), "and"))),
			Labels:  labelsWithAliases(b.Names()),
			Confirm: true,
			Echo: func(name string) string {
				return fmt.Sprintf("You selected %s. Say Confirm to vote, or No to choose again.", name)
			},
			Skip: func(ctx context.Context, _ wizard.Data) (bool, string, error) {
				voted, err := svc.HasVoted(ctx, env.UserID, position)
				return voted, already, err
			},
			Commit: func(ctx context.Context, _ wizard.Data, name string) error {
				err := svc.CastVote(ctx, env.UserID, position, name)
				if errors.Is(err, election.ErrAlreadyVoted) {
					return fmt.Errorf("%w: %w", wizard.ErrAlreadyDone, err)
				}
				return err
			},
			Conflict: already,
			Ack:      ack("Vote for %s confirmed."),
		})
	}
	return wizard.New(cfg, steps, env.options()...), nil
}
