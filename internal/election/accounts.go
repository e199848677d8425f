package election

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/MrWong99/votevoice/pkg/store"
)

// Roles.
const (
	RoleStudent = "student"
	RoleAdmin   = "admin"
)

// NewAccount is the sign-up form.
type NewAccount struct {
	FullName   string
	Email      string
	RegNumber  string
	Department string
	Password   string
}

// Account is a stored user record. The password hash never leaves the
// package.
type Account struct {
	ID         string    `json:"-"`
	FullName   string    `json:"fullName"`
	Email      string    `json:"email"`
	RegNumber  string    `json:"regNumber"`
	Department string    `json:"department"`
	Role       string    `json:"role"`
	CreatedAt  time.Time `json:"createdAt"`
}

type accountRecord struct {
	Account
	PasswordHash string `json:"passwordHash"`
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// IsAdmin reports whether email belongs to the configured administrator.
func (s *Service) IsAdmin(email string) bool {
	return s.cfg.AdminEmail != "" && normalizeEmail(email) == normalizeEmail(s.cfg.AdminEmail)
}

// CreateAccount registers a student and returns the stored account. The
// email index and the user record are written in one transaction, so two
// concurrent sign-ups with the same email cannot both succeed.
func (s *Service) CreateAccount(ctx context.Context, in NewAccount) (Account, error) {
	var acct Account
	err := s.action(ctx, "create_account", func(ctx context.Context) error {
		if err := required(in.FullName, in.Email, in.RegNumber, in.Department, in.Password); err != nil {
			return err
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hash password: %w", err)
		}

		email := normalizeEmail(in.Email)
		rec := accountRecord{
			Account: Account{
				ID:         uuid.NewString(),
				FullName:   strings.TrimSpace(in.FullName),
				Email:      email,
				RegNumber:  strings.TrimSpace(in.RegNumber),
				Department: strings.TrimSpace(in.Department),
				Role:       RoleStudent,
				CreatedAt:  s.now().UTC(),
			},
			PasswordHash: string(hash),
		}
		if s.IsAdmin(email) {
			rec.Role = RoleAdmin
		}
		fields, err := store.Encode(rec)
		if err != nil {
			return err
		}

		err = s.timed(ctx, "create_account", func() error {
			return s.store.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
				_, err := tx.Get(ctx, Emails, email)
				if err == nil {
					return ErrEmailTaken
				}
				if !errors.Is(err, store.ErrNotFound) {
					return err
				}
				if err := tx.Set(ctx, Emails, email, store.Fields{"userId": rec.ID}, store.SetOptions{}); err != nil {
					return err
				}
				return tx.Set(ctx, Users, rec.ID, fields, store.SetOptions{})
			})
		})
		if err != nil {
			return err
		}
		acct = rec.Account
		return nil
	})
	if err != nil {
		return Account{}, fmt.Errorf("election: create account: %w", err)
	}
	return acct, nil
}

// Authenticate checks email and password and returns the account.
func (s *Service) Authenticate(ctx context.Context, email, password string) (Account, error) {
	var acct Account
	err := s.action(ctx, "authenticate", func(ctx context.Context) error {
		idx, err := s.store.Get(ctx, Emails, normalizeEmail(email))
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrInvalidPath) {
			return ErrInvalidCredentials
		}
		if err != nil {
			return err
		}
		rec, err := s.account(ctx, idx.Fields.Text("userId"))
		if errors.Is(err, ErrNotFound) {
			return ErrInvalidCredentials
		}
		if err != nil {
			return err
		}
		if bcrypt.CompareHashAndPassword([]byte(rec.PasswordHash), []byte(password)) != nil {
			return ErrInvalidCredentials
		}
		acct = rec.Account
		return nil
	})
	if err != nil {
		return Account{}, fmt.Errorf("election: authenticate: %w", err)
	}
	return acct, nil
}

// Account returns the account with the given ID.
func (s *Service) Account(ctx context.Context, id string) (Account, error) {
	rec, err := s.account(ctx, id)
	if err != nil {
		return Account{}, fmt.Errorf("election: account: %w", err)
	}
	return rec.Account, nil
}

func (s *Service) account(ctx context.Context, id string) (accountRecord, error) {
	doc, err := s.store.Get(ctx, Users, id)
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrInvalidPath) {
		return accountRecord{}, ErrNotFound
	}
	if err != nil {
		return accountRecord{}, err
	}
	var rec accountRecord
	if err := store.Decode(doc, &rec); err != nil {
		return accountRecord{}, err
	}
	rec.ID = doc.ID
	return rec, nil
}
