package screens

import (
	"context"
	"errors"

	"github.com/MrWong99/votevoice/internal/election"
	"github.com/MrWong99/votevoice/internal/intent"
	"github.com/MrWong99/votevoice/internal/wizard"
)

var (
	loginCommand  = intent.Command(Login, "login", "log in", "sign in")
	signupCommand = intent.Command(Signup, "sign up", "signup", "create account", "register")
)

func landing(_ context.Context, env Env) (*wizard.Wizard, error) {
	return wizard.New(wizard.Config{
		Name: Landing,
		Departures: map[string]string{
			Login:  "Opening Login...",
			Signup: "Opening Sign Up...",
		},
	}, []wizard.Step{{
		ID:     "welcome",
		Kind:   wizard.Navigation,
		Prompt: text("Welcome to the student elections. Say Login to sign in, or Sign Up to create an account."),
		Labels: []intent.Label{loginCommand, signupCommand},
	}}, env.options()...), nil
}

func login(_ context.Context, env Env) (*wizard.Wizard, error) {
	svc := env.Election
	return wizard.New(wizard.Config{
		Name:         Login,
		CancelTarget: Landing,
		Departures: map[string]string{
			Biometric: "Opening biometric login...",
			Signup:    "Opening Sign Up...",
		},
	}, []wizard.Step{
		{
			ID:     "email",
			Kind:   wizard.FreeText,
			Prompt: text("Login Page. Please say your Email, or say 'Fingerprint' to use biometric login."),
			Labels: []intent.Label{
				intent.Command(Biometric, "fingerprint", "face", "touch", "scan"),
				signupCommand,
			},
			Extract: intent.EmailValue,
			Confirm: true,
			Echo:    confirmEcho("Email set to %s."),
		},
		{
			ID:       FieldPassword,
			Kind:     wizard.ExternalAction,
			Field:    FieldPassword,
			Prompt:   text("Please type your password, then say Done."),
			Missing:  "I don't have your password yet.",
			Received: "Password entered. Say Done to log in.",
			Submit: func(ctx context.Context, d wizard.Data) (wizard.Result, error) {
				acct, err := svc.Authenticate(ctx, d["email"], d[FieldPassword])
				if err != nil {
					return wizard.Result{}, err
				}
				return wizard.Result{Say: "Login successful.", Target: landingFor(acct), UserID: acct.ID}, nil
			},
			Failure: func(err error) string {
				if errors.Is(err, election.ErrInvalidCredentials) {
					return "Login failed. Please check your password, or say Cancel to start again."
				}
				return "Login failed."
			},
		},
	}, env.options()...), nil
}

func signup(_ context.Context, env Env) (*wizard.Wizard, error) {
	svc := env.Election
	return wizard.New(wizard.Config{
		Name:         Signup,
		Intro:        "Sign Up Page.",
		CancelTarget: Landing,
		Departures:   map[string]string{Login: "Opening Login..."},
	}, []wizard.Step{
		{
			ID:      "name",
			Kind:    wizard.FreeText,
			Prompt:  text("Please say your full name."),
			Labels:  []intent.Label{loginCommand},
			Confirm: true,
			Echo:    confirmEcho("Name set to %s."),
		},
		{
			ID:      "regNumber",
			Kind:    wizard.FreeText,
			Prompt:  text("Please say your registration number."),
			Extract: intent.CodeValue,
			Confirm: true,
			Echo:    confirmEcho("Registration number %s."),
		},
		{
			ID:      "department",
			Kind:    wizard.FreeText,
			Prompt:  text("Please say your department."),
			Confirm: true,
			Echo:    confirmEcho("Department set to %s."),
		},
		{
			ID:      "email",
			Kind:    wizard.FreeText,
			Prompt:  text("Please say your email address."),
			Extract: intent.EmailValue,
			Confirm: true,
			Echo:    confirmEcho("Email set to %s."),
		},
		{
			ID:       FieldPassword,
			Kind:     wizard.ExternalAction,
			Field:    FieldPassword,
			Prompt:   text("Please type a password on screen, then say Done."),
			Missing:  "I don't have your password yet.",
			Received: "Password entered. Say Done to create your account.",
			Submit: func(ctx context.Context, d wizard.Data) (wizard.Result, error) {
				acct, err := svc.CreateAccount(ctx, election.NewAccount{
					FullName:   d["name"],
					Email:      d["email"],
					RegNumber:  d["regNumber"],
					Department: d["department"],
					Password:   d[FieldPassword],
				})
				if err != nil {
					return wizard.Result{}, err
				}
				return wizard.Result{
					Say:    "Account created successfully. Logging you in.",
					Target: landingFor(acct),
					UserID: acct.ID,
				}, nil
			},
			Failure: func(err error) string {
				switch {
				case errors.Is(err, election.ErrEmailTaken):
					return "That email is already registered. Say Cancel to go back and log in instead."
				case errors.Is(err, election.ErrMissingFields):
					return "Please fill in all fields."
				default:
					return "There was an error creating your account."
				}
			},
		},
	}, env.options()...), nil
}

func landingFor(acct election.Account) string {
	if acct.Role == election.RoleAdmin {
		return Admin
	}
	return Home
}
