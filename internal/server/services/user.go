package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/dmitrijs2005/webchat/internal/common"
	"github.com/dmitrijs2005/webchat/internal/dbx"
	"github.com/dmitrijs2005/webchat/internal/logging"
	"github.com/dmitrijs2005/webchat/internal/server/auth"
	"github.com/dmitrijs2005/webchat/internal/server/config"
	"github.com/dmitrijs2005/webchat/internal/server/models"
	"github.com/dmitrijs2005/webchat/internal/server/notify"
	"github.com/dmitrijs2005/webchat/internal/server/otp"
	"github.com/dmitrijs2005/webchat/internal/server/repositories/repomanager"
	usersrepo "github.com/dmitrijs2005/webchat/internal/server/repositories/users"
	"golang.org/x/crypto/bcrypt"
)

// TokenPair bundles a short-lived access token and a long-lived refresh token.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// RegisterInput carries the raw registration form values.
type RegisterInput struct {
	UserName        string
	Email           string
	Password        string
	ConfirmPassword string
	OTP             string
}

var userNamePattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// UserService provides authentication-related operations:
//   - Register: OTP-gated account creation
//   - Login: verify credentials and mint the cookie token pair
//   - Rotate: exchange a refresh token for a fresh pair, revoking the old one
//   - Logout: best-effort refresh-token revocation
//   - password reset request/confirm
type UserService struct {
	db          dbx.DBTX
	repomanager repomanager.RepositoryManager
	otp         *otp.Workflow
	notifier    notify.Notifier
	policy      PasswordPolicy
	logger      logging.Logger

	jwtSecret                    []byte
	accessTokenValidityDuration  time.Duration
	refreshTokenValidityDuration time.Duration
	resetTokenValidityDuration   time.Duration
	baseURL                      string
}

// NewUserService constructs a UserService using repositories and server config.
func NewUserService(db dbx.DBTX, m repomanager.RepositoryManager, wf *otp.Workflow, n notify.Notifier, logger logging.Logger, cfg *config.Config) *UserService {
	return &UserService{
		db:                           db,
		repomanager:                  m,
		otp:                          wf,
		notifier:                     n,
		policy:                       DefaultPasswordPolicy{},
		logger:                       logger.With("module", "users"),
		jwtSecret:                    []byte(cfg.SecretKey),
		accessTokenValidityDuration:  cfg.AccessTokenValidityDuration,
		refreshTokenValidityDuration: cfg.RefreshTokenValidityDuration,
		resetTokenValidityDuration:   time.Hour,
		baseURL:                      strings.TrimRight(cfg.BaseURL, "/"),
	}
}

// SetPasswordPolicy swaps the minimum-strength policy.
func (s *UserService) SetPasswordPolicy(p PasswordPolicy) { s.policy = p }

// Register validates every field, collecting failures, and only then checks
// the OTP. The account is created only when everything passes; the OTP entry
// is consumed afterwards and a welcome notification goes out best-effort.
func (s *UserService) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	var errs ValidationErrors
	repo := s.repomanager.Users(s.db)

	userName := strings.TrimSpace(in.UserName)
	switch {
	case userName == "":
		errs = append(errs, FieldError{Field: "username", Message: "Username is required."})
	case strings.Contains(userName, " "):
		errs = append(errs, FieldError{Field: "username", Message: "Username must not contain spaces. Use '_' instead."})
	case !userNamePattern.MatchString(userName):
		errs = append(errs, FieldError{Field: "username", Message: "Username can contain only letters, numbers and underscore."})
	default:
		exists, err := repo.ExistsByUserName(ctx, userName)
		if err != nil {
			return nil, common.ErrorInternal
		}
		if exists {
			errs = append(errs, FieldError{Field: "username", Message: "Username is already taken."})
		}
	}

	email := otp.NormalizeEmail(in.Email)
	if email == "" {
		errs = append(errs, FieldError{Field: "email", Message: "Email is required."})
	} else if _, err := mail.ParseAddress(email); err != nil {
		errs = append(errs, FieldError{Field: "email", Message: "Enter a valid email address."})
	} else {
		exists, err := repo.ExistsByEmail(ctx, email)
		if err != nil {
			return nil, common.ErrorInternal
		}
		if exists {
			errs = append(errs, FieldError{Field: "email", Message: "Email is already registered."})
		}
	}

	if in.Password != in.ConfirmPassword {
		errs = append(errs, FieldError{Field: "confirm_password", Message: "Passwords do not match"})
	} else if err := s.policy.Validate(in.Password); err != nil {
		errs = append(errs, FieldError{Field: "password", Message: err.Error()})
	}

	if len(errs) > 0 {
		return nil, errs
	}

	// Field checks passed; only now is the passcode consulted.
	if err := s.otp.VerifyCode(email, in.OTP); err != nil {
		errs = append(errs, FieldError{Message: err.Error()})
		return nil, errs
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, common.ErrorInternal
	}

	firstName, lastName := displayNameFromUserName(userName)
	user, err := repo.Create(ctx, &models.User{
		UserName:     userName,
		Email:        email,
		PasswordHash: string(hash),
		FirstName:    firstName,
		LastName:     lastName,
	})
	if err != nil {
		// The unique indexes backstop the existence checks above.
		if errors.Is(err, usersrepo.ErrUserNameTaken) {
			return nil, ValidationErrors{{Field: "username", Message: "Username is already taken."}}
		}
		if errors.Is(err, usersrepo.ErrEmailTaken) {
			return nil, ValidationErrors{{Field: "email", Message: "Email is already registered."}}
		}
		return nil, fmt.Errorf("error creating user: %w", err)
	}

	s.otp.ConsumeCode(email)
	s.notifier.SendWelcome(ctx, email)

	return user, nil
}

// displayNameFromUserName derives display name parts from the handle:
// segments around the first underscore, capitalized.
func displayNameFromUserName(userName string) (first, last string) {
	parts := strings.Split(userName, "_")
	if len(parts) > 0 {
		first = capitalize(parts[0])
	}
	if len(parts) > 1 {
		last = capitalize(parts[1])
	}
	return first, last
}

func capitalize(s string) string {
	if s == "" {
		return ""
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}

// Login resolves the identifier (an email when it contains "@", a handle
// otherwise), verifies the password, and mints a token pair. Unknown
// identifier and wrong password are indistinguishable to the caller.
func (s *UserService) Login(ctx context.Context, identifier, password string) (*models.User, *TokenPair, error) {
	repo := s.repomanager.Users(s.db)

	var user *models.User
	var err error
	if strings.Contains(identifier, "@") {
		user, err = repo.GetByEmail(ctx, otp.NormalizeEmail(identifier))
	} else {
		user, err = repo.GetByUserName(ctx, strings.TrimSpace(identifier))
	}
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, nil, common.ErrInvalidLoginPassword
		}
		return nil, nil, common.ErrorInternal
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, nil, common.ErrInvalidLoginPassword
	}

	pair, err := s.generateTokenPair(user.ID)
	if err != nil {
		return nil, nil, common.ErrorInternal
	}

	s.notifier.SendWelcomeBack(ctx, user.Email)

	return user, pair, nil
}

// VerifyAccess validates an access token and resolves its identity.
func (s *UserService) VerifyAccess(ctx context.Context, accessToken string) (*models.User, error) {
	userID, err := auth.GetUserIDFromToken(accessToken, s.jwtSecret)
	if err != nil {
		return nil, err
	}
	user, err := s.repomanager.Users(s.db).GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrInvalidToken
		}
		return nil, common.ErrorInternal
	}
	return user, nil
}

// Rotate exchanges a valid, un-revoked refresh token for a fresh pair. The
// revocation insert is the atomic winner-picker: of two concurrent rotations
// of the same token id exactly one succeeds, the other sees
// common.ErrRefreshTokenRevoked. All-or-nothing: on any failure no new
// tokens exist.
func (s *UserService) Rotate(ctx context.Context, refreshToken string) (*models.User, *TokenPair, error) {
	userID, tokenID, err := auth.ParseRefreshToken(refreshToken, s.jwtSecret)
	if err != nil {
		return nil, nil, err
	}

	user, err := s.repomanager.Users(s.db).GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, nil, common.ErrInvalidToken
		}
		return nil, nil, common.ErrorInternal
	}

	// Test-and-set: inserting the jti both checks and claims it.
	expiresAt := time.Now().Add(s.refreshTokenValidityDuration)
	if err := s.repomanager.RevokedTokens(s.db).Revoke(ctx, tokenID, userID, expiresAt); err != nil {
		if errors.Is(err, common.ErrRefreshTokenRevoked) {
			return nil, nil, common.ErrRefreshTokenRevoked
		}
		return nil, nil, common.ErrorInternal
	}

	pair, err := s.generateTokenPair(userID)
	if err != nil {
		return nil, nil, common.ErrorInternal
	}
	return user, pair, nil
}

// Logout revokes the presented refresh token. Failures are swallowed: logout
// always succeeds from the caller's perspective.
func (s *UserService) Logout(ctx context.Context, refreshToken string) {
	userID, tokenID, err := auth.ParseRefreshToken(refreshToken, s.jwtSecret)
	if err != nil {
		return
	}
	expiresAt := time.Now().Add(s.refreshTokenValidityDuration)
	if err := s.repomanager.RevokedTokens(s.db).Revoke(ctx, tokenID, userID, expiresAt); err != nil {
		s.logger.Warn(ctx, "logout revocation failed", "error", err)
	}
}

// RequestPasswordReset emails a reset link when the address belongs to an
// account. The outcome is identical either way, so the endpoint leaks
// nothing about registered emails.
func (s *UserService) RequestPasswordReset(ctx context.Context, email string) {
	user, err := s.repomanager.Users(s.db).GetByEmail(ctx, otp.NormalizeEmail(email))
	if err != nil {
		if !errors.Is(err, common.ErrorNotFound) {
			s.logger.Error(ctx, "password reset lookup failed", "error", err)
		}
		return
	}

	token, err := auth.GeneratePasswordResetToken(user.ID, s.jwtSecret, s.resetTokenValidityDuration)
	if err != nil {
		s.logger.Error(ctx, "password reset token generation failed", "error", err)
		return
	}

	resetURL := fmt.Sprintf("%s/password/reset/confirm?token=%s", s.baseURL, token)
	s.notifier.SendPasswordReset(ctx, user.Email, user.UserName, resetURL)
}

// ConfirmPasswordReset validates the reset token and sets the new password.
func (s *UserService) ConfirmPasswordReset(ctx context.Context, token, password, confirmPassword string) error {
	userID, err := auth.ParsePasswordResetToken(token, s.jwtSecret)
	if err != nil {
		return common.ErrInvalidToken
	}

	if password != confirmPassword {
		return ValidationErrors{{Field: "confirm_password", Message: "Passwords do not match"}}
	}
	if err := s.policy.Validate(password); err != nil {
		return ValidationErrors{{Field: "password", Message: err.Error()}}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return common.ErrorInternal
	}
	if err := s.repomanager.Users(s.db).UpdatePassword(ctx, userID, string(hash)); err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return common.ErrInvalidToken
		}
		return common.ErrorInternal
	}
	return nil
}

func (s *UserService) generateTokenPair(userID string) (*TokenPair, error) {
	access, err := auth.GenerateAccessToken(userID, s.jwtSecret, s.accessTokenValidityDuration)
	if err != nil {
		return nil, err
	}
	refresh, _, err := auth.GenerateRefreshToken(userID, s.jwtSecret, s.refreshTokenValidityDuration)
	if err != nil {
		return nil, err
	}
	return &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}
