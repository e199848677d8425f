package screens

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/votevoice/internal/election"
	"github.com/MrWong99/votevoice/internal/intent"
	"github.com/MrWong99/votevoice/internal/wizard"
)

func apply(_ context.Context, env Env) (*wizard.Wizard, error) {
	svc := env.Election
	positions := svc.Positions()
	return wizard.New(wizard.Config{
		Name:         Apply,
		Intro:        "Candidate application.",
		CancelTarget: Home,
	}, []wizard.Step{
		{
			ID:     "name",
			Kind:   wizard.FreeText,
			Prompt: text("Step 1. Please say your Full Name."),
			Ack:    ack("Saved name %s."),
		},
		{
			ID:     "position",
			Kind:   wizard.Choice,
			Prompt: text(fmt.Sprintf("Step 2. Which position are you applying for? You can say %s.", list(positions, "or"))),
			Labels: labelsWithAliases(positions),
			Ack:    ack("Selected %s."),
		},
		{
			ID:      "admissionNumber",
			Kind:    wizard.FreeText,
			Prompt:  text("Step 3. Please say your Admission Number."),
			Extract: intent.CodeValue,
			Ack:     func(string) string { return "Admission number saved." },
		},
		{
			ID:      "age",
			Kind:    wizard.FreeText,
			Prompt:  text("Step 4. Please say your Age."),
			Extract: intent.FirstNumber,
			Ack:     ack("Age %s saved."),
		},
		{
			ID:     "course",
			Kind:   wizard.FreeText,
			Prompt: text("Step 5. Please say your Course or Department."),
			Ack:    func(string) string { return "Course saved." },
		},
		{
			ID:      "email",
			Kind:    wizard.FreeText,
			Prompt:  text("Step 6. Please say your Email."),
			Extract: intent.EmailValue,
			Ack:     func(string) string { return "Email saved." },
		},
		{
			ID:       FieldPhoto,
			Kind:     wizard.ExternalAction,
			Field:    FieldPhoto,
			Prompt:   text("Step 7. Photo Upload. Please choose a passport photo on screen. Say Next when done."),
			Missing:  "No photo selected.",
			Received: "Photo received. Say Next to continue.",
		},
		{
			ID:       FieldDocument,
			Kind:     wizard.ExternalAction,
			Field:    FieldDocument,
			Prompt:   text("Step 8. Document Upload. Please choose your eligibility PDF on screen. Say Next when done."),
			Missing:  "No document selected.",
			Received: "Document received. Say Next to continue.",
		},
		{
			ID:     "manifesto",
			Kind:   wizard.FreeText,
			Prompt: text("Step 9. Please say a brief manifesto."),
			Ack:    func(string) string { return "Manifesto saved." },
		},
		{
			ID:       "submit",
			Kind:     wizard.Confirmation,
			ExtraYes: []string{"submit"},
			Prompt:   text("Application complete. Say Submit to finish, or Cancel to exit."),
			Submit: func(ctx context.Context, d wizard.Data) (wizard.Result, error) {
				_, err := svc.SubmitApplication(ctx, election.Application{
					UserID:          env.UserID,
					Name:            d["name"],
					Position:        d["position"],
					AdmissionNumber: d["admissionNumber"],
					Age:             d["age"],
					Course:          d["course"],
					Email:           d["email"],
					BriefInfo:       d["manifesto"],
					PhotoURL:        d[FieldPhoto],
					DocumentURL:     d[FieldDocument],
				})
				if err != nil {
					return wizard.Result{}, err
				}
				return wizard.Result{Say: "Application submitted successfully. Returning home.", Target: Home}, nil
			},
			Failure: func(err error) string {
				if errors.Is(err, election.ErrMissingFields) {
					return "Missing details. Please check the form."
				}
				return "Error submitting. Please try again."
			},
		},
	}, env.options()...), nil
}

func report(_ context.Context, env Env) (*wizard.Wizard, error) {
	svc := env.Election
	categories := svc.ReportCategories()
	return wizard.New(wizard.Config{
		Name:         Report,
		Intro:        "Incident report.",
		CancelTarget: Home,
	}, []wizard.Step{
		{
			ID:     "category",
			Kind:   wizard.Choice,
			Prompt: text(fmt.Sprintf("What is the issue? You can say %s.", list(categories, "or"))),
			Labels: labelsWithAliases(categories),
			Ack:    ack("Selected %s."),
		},
		{
			ID:     "description",
			Kind:   wizard.FreeText,
			Prompt: text("Please describe what happened."),
		},
		{
			ID:       FieldEvidence,
			Kind:     wizard.ExternalAction,
			Field:    FieldEvidence,
			Optional: true,
			Prompt:   text("If you have evidence, attach it on screen and say Next. Or say Next to skip."),
			Received: "Evidence attached. Say Next to continue.",
		},
		{
			ID:       "submit",
			Kind:     wizard.Confirmation,
			ExtraYes: []string{"submit"},
			Prompt:   text("Report ready. Say Submit to finish, or Cancel to exit."),
			Submit: func(ctx context.Context, d wizard.Data) (wizard.Result, error) {
				_, err := svc.SubmitIncident(ctx, election.Incident{
					Category:    d["category"],
					Description: d["description"],
					EvidenceURL: d[FieldEvidence],
					ReportedBy:  env.UserID,
				})
				if err != nil {
					return wizard.Result{}, err
				}
				return wizard.Result{Say: "Report submitted successfully. Going home.", Target: Home}, nil
			},
		},
	}, env.options()...), nil
}
