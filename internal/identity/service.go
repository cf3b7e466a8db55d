package identity

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/lendwallet/walletd/internal/ledger"
)

const (
	minPasswordLength = 8
	maxPasswordLength = 128
)

// WalletProvisioner opens the first wallet of a newly registered user.
type WalletProvisioner interface {
	CreateWallet(ctx context.Context, ownerID, currency string) (ledger.Wallet, error)
}

// Service manages identity lifecycle.
type Service struct {
	repo     Repository
	wallets  WalletProvisioner
	currency string
	logger   *zap.Logger
}

// NewService creates a new identity service. Registered users receive a
// wallet in the given currency.
func NewService(repo Repository, wallets WalletProvisioner, currency string, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{repo: repo, wallets: wallets, currency: currency, logger: logger}
}

// Register creates a user with a bcrypt password hash and opens their
// default wallet.
func (s *Service) Register(ctx context.Context, reg Registration) (User, ledger.Wallet, error) {
	reg, err := validateRegistration(reg)
	if err != nil {
		return User{}, ledger.Wallet{}, err
	}

	if _, err := s.repo.FindByEmail(ctx, reg.Email); err == nil {
		return User{}, ledger.Wallet{}, ErrEmailTaken
	} else if !errors.Is(err, ErrUserNotFound) {
		return User{}, ledger.Wallet{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(reg.Password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, ledger.Wallet{}, fmt.Errorf("hash password: %w", err)
	}

	user := User{
		ID:           uuid.NewString(),
		UserName:     reg.UserName,
		Email:        reg.Email,
		PasswordHash: hash,
		PhoneNumber:  reg.PhoneNumber,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.repo.Create(ctx, user); err != nil {
		return User{}, ledger.Wallet{}, err
	}

	wallet, err := s.wallets.CreateWallet(ctx, user.ID, s.currency)
	if err != nil {
		s.logger.Error("provision wallet", zap.String("user_id", user.ID), zap.Error(err))
		// Remove the user so the registration can be retried with the same email.
		if delErr := s.repo.Delete(context.WithoutCancel(ctx), user.ID); delErr != nil {
			s.logger.Error("undo registration", zap.String("user_id", user.ID), zap.Error(delErr))
		}
		return User{}, ledger.Wallet{}, fmt.Errorf("provision wallet: %w", err)
	}
	s.logger.Info("user registered", zap.String("user_id", user.ID), zap.String("wallet_id", wallet.ID))
	return user, wallet, nil
}

// Authenticate verifies email and password. Unknown emails and wrong
// passwords produce the same error.
func (s *Service) Authenticate(ctx context.Context, creds Credentials) (User, error) {
	user, err := s.repo.FindByEmail(ctx, normalizeEmail(creds.Email))
	if errors.Is(err, ErrUserNotFound) {
		return User{}, ErrInvalidCredentials
	}
	if err != nil {
		return User{}, err
	}
	if err := bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(creds.Password)); err != nil {
		return User{}, ErrInvalidCredentials
	}
	return user, nil
}

// User looks up a user by id.
func (s *Service) User(ctx context.Context, id string) (User, error) {
	return s.repo.FindByID(ctx, id)
}

func validateRegistration(reg Registration) (Registration, error) {
	reg.UserName = strings.TrimSpace(reg.UserName)
	reg.Email = normalizeEmail(reg.Email)
	reg.PhoneNumber = strings.TrimSpace(reg.PhoneNumber)

	if n := utf8.RuneCountInString(reg.UserName); n < 2 || n > 50 {
		return reg, ErrInvalidUserName
	}
	if addr, err := mail.ParseAddress(reg.Email); err != nil || addr.Address != reg.Email {
		return reg, ErrInvalidEmail
	}
	if n := len(reg.Password); n < minPasswordLength || n > maxPasswordLength {
		return reg, ErrWeakPassword
	}
	if reg.PhoneNumber != "" {
		if n := len(reg.PhoneNumber); n < 11 || n > 15 {
			return reg, ErrInvalidPhoneNumber
		}
	}
	return reg, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
