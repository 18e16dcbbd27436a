package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/account-service/internal/auth"
	"github.com/spec-kit/account-service/internal/config"
	"github.com/spec-kit/account-service/internal/domain"
	"github.com/spec-kit/account-service/internal/events"
	"github.com/spec-kit/account-service/internal/mailer"
	"github.com/spec-kit/account-service/internal/media"
	"github.com/spec-kit/account-service/internal/repository"
	apperrors "github.com/spec-kit/account-service/pkg/util"
)

// CooldownStore limits how often verification emails can be resent.
type CooldownStore interface {
	AcquireCooldown(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// CreateAccountInput carries registration payload fields.
type CreateAccountInput struct {
	Name     string
	Email    string
	Password string
	Language string
	Theme    string
}

// FileUpload carries an inbound media attachment.
type FileUpload struct {
	Filename    string
	ContentType string
	Content     io.Reader
}

// ListParams are the raw listing query parameters. IsVerified and IsDeleted
// are three-state: nil means unspecified.
type ListParams struct {
	IsVerified *bool
	IsDeleted  *bool
	Search     string
	Sort       string
	Page       int
	Limit      int
}

// AccountService implements account lifecycle operations.
type AccountService struct {
	repo       repository.AccountRepository
	mail       mailer.Mailer
	media      media.Uploader
	cooldowns  CooldownStore
	dispatcher events.Dispatcher
	logger     *zap.Logger
	account    config.AccountConfig
	bcryptCost int
}

// AccountDependencies encapsulates collaborator requirements.
type AccountDependencies struct {
	Repo       repository.AccountRepository
	Mailer     mailer.Mailer
	Media      media.Uploader
	Cooldowns  CooldownStore
	Dispatcher events.Dispatcher
	Logger     *zap.Logger
}

// NewAccountService builds the service.
func NewAccountService(cfg config.Config, deps AccountDependencies) *AccountService {
	return &AccountService{
		repo:       deps.Repo,
		mail:       deps.Mailer,
		media:      deps.Media,
		cooldowns:  deps.Cooldowns,
		dispatcher: deps.Dispatcher,
		logger:     deps.Logger,
		account:    cfg.Account,
		bcryptCost: cfg.Auth.BcryptCost,
	}
}

// generateVerificationCode returns a uniformly random 6-digit numeric code.
func generateVerificationCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}

// Create registers a new unverified account inside a single transaction.
// The verification email is sent before commit: if delivery fails, the
// transaction aborts and the account never becomes visible.
func (s *AccountService) Create(ctx context.Context, input CreateAccountInput) (*domain.AccountSummary, error) {
	var created *domain.Account

	err := s.repo.RunInTransaction(ctx, func(txRepo repository.AccountRepository) error {
		if _, err := txRepo.FindByEmail(ctx, input.Email); err == nil {
			return apperrors.NewConflict("account with this email already exists", nil)
		} else if !errors.Is(err, pgx.ErrNoRows) {
			return err
		}

		if input.Password == "" {
			return apperrors.NewPayloadNotFound("password must be included")
		}

		hash, err := auth.HashPassword(input.Password, s.bcryptCost)
		if err != nil {
			return err
		}

		code, err := generateVerificationCode()
		if err != nil {
			return err
		}

		now := time.Now()
		account := &domain.Account{
			Name:                      input.Name,
			Email:                     input.Email,
			PasswordHash:              hash,
			Role:                      domain.RoleUser,
			IsVerified:                false,
			VerificationCode:          code,
			VerificationCodeExpiresAt: now.Add(s.account.VerificationTTL()),
			LastVerificationSentAt:    now,
			Tokens:                    s.account.DefaultTokens,
			Language:                  orDefault(input.Language, s.account.DefaultLanguage),
			Theme:                     domain.Theme(orDefault(input.Theme, s.account.DefaultTheme)),
		}

		if err := txRepo.Create(ctx, account); err != nil {
			// A concurrent registration can pass the pre-insert check and
			// lose on the unique email constraint instead.
			if apperrors.IsUniqueViolation(err) {
				return apperrors.NewConflict("account with this email already exists", nil)
			}
			return err
		}

		if err := s.mail.SendVerificationEmail(ctx, account.Email, code); err != nil {
			return err
		}

		created = account
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events.EventAccountCreated, created.ID,
		events.AccountCreatedPayload{Email: created.Email, Role: created.Role})

	return &domain.AccountSummary{
		Name:                  created.Name,
		Image:                 created.Image,
		Email:                 created.Email,
		Role:                  created.Role,
		Tokens:                created.Tokens,
		Theme:                 created.Theme,
		Language:              created.Language,
		IsVerified:            created.IsVerified,
		IsVerificationExpired: created.VerificationCodeExpiresAt.Before(time.Now()),
	}, nil
}

// GetSelf fetches the caller's own active account. An absent or deleted
// account surfaces as Forbidden, not NotFound; other lookups report
// NotFound. Call sites rely on this asymmetry.
func (s *AccountService) GetSelf(ctx context.Context, userID string) (*domain.Account, error) {
	account, err := s.repo.GetActiveByID(ctx, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewForbidden("failed to fetch account")
		}
		return nil, err
	}
	return sanitized(account), nil
}

// GetByID fetches any account by id with secret fields stripped.
func (s *AccountService) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	account, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("account", nil)
		}
		return nil, err
	}
	return sanitized(account), nil
}

// List returns a filtered, paginated page of accounts with metadata.
func (s *AccountService) List(ctx context.Context, params ListParams) ([]domain.Account, *repository.ListMeta, error) {
	filter := repository.ListFilter{
		Search: params.Search,
		Sort:   params.Sort,
		Page:   params.Page,
		Limit:  params.Limit,
	}

	if params.IsVerified != nil {
		v := *params.IsVerified
		// Legacy filter semantics: a false isVerified filter behaves as true.
		if !v {
			v = true
		}
		filter.IsVerified = &v
	}
	if params.IsDeleted != nil {
		v := *params.IsDeleted
		filter.IsDeleted = &v
		// Specifying the deletion filter also hides admin accounts.
		filter.ExcludeAdmin = true
	}

	return s.repo.List(ctx, filter)
}

// UpdateProfile merges the provided fields into the account document.
// Field-level validation is the caller's responsibility.
func (s *AccountService) UpdateProfile(ctx context.Context, id string, fields map[string]any) (*domain.Account, error) {
	account, err := s.repo.UpdateFields(ctx, id, fields)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("account", nil)
		}
		return nil, err
	}
	return sanitized(account), nil
}

// ChangeLanguage updates the preferred language of an active account.
func (s *AccountService) ChangeLanguage(ctx context.Context, userID, language string) (*domain.Account, error) {
	if _, err := s.requireActive(ctx, userID); err != nil {
		return nil, err
	}
	account, err := s.repo.SetLanguage(ctx, userID, language)
	if err != nil {
		return nil, err
	}
	return sanitized(account), nil
}

// ChangeTheme updates the preferred theme of an active account.
func (s *AccountService) ChangeTheme(ctx context.Context, userID string, theme domain.Theme) (*domain.Account, error) {
	if _, err := s.requireActive(ctx, userID); err != nil {
		return nil, err
	}
	account, err := s.repo.SetTheme(ctx, userID, theme)
	if err != nil {
		return nil, err
	}
	return sanitized(account), nil
}

// UploadProfileImage stores the attachment and persists its URL.
func (s *AccountService) UploadProfileImage(ctx context.Context, userID string, upload *FileUpload) (*domain.Account, error) {
	account, err := s.requireActive(ctx, userID)
	if err != nil {
		return nil, err
	}
	if upload == nil || upload.Content == nil {
		return nil, apperrors.NewBadRequest("please provide an image first")
	}

	key := fmt.Sprintf("%s-%s-%d", account.Name, account.Role, time.Now().UnixMilli())
	url, err := s.media.Upload(ctx, key, upload.Content, upload.ContentType)
	if err != nil {
		return nil, err
	}

	updated, err := s.repo.SetImage(ctx, userID, url)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events.EventProfileImageChanged, userID, nil)
	return sanitized(updated), nil
}

// DeductTokens atomically decrements the token balance. There is no floor:
// the balance may go negative and is treated as debt.
func (s *AccountService) DeductTokens(ctx context.Context, id string, amount int64) (*domain.Account, error) {
	account, err := s.repo.DeductTokens(ctx, id, amount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("account", nil)
		}
		return nil, err
	}

	s.publish(ctx, events.EventAccountTokensSpent, id,
		events.TokensSpentPayload{Amount: amount, Balance: account.Tokens})
	return sanitized(account), nil
}

// ToggleDeleted flips the soft-delete flag. Setting the current value again
// is a no-op write.
func (s *AccountService) ToggleDeleted(ctx context.Context, id string, deleted bool) (*domain.Account, error) {
	if _, err := s.repo.GetByID(ctx, id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("account", nil)
		}
		return nil, err
	}

	account, err := s.repo.SetDeleted(ctx, id, deleted)
	if err != nil {
		return nil, err
	}

	eventType := events.EventAccountRestored
	if deleted {
		eventType = events.EventAccountDeleted
	}
	s.publish(ctx, eventType, id, events.DeletionToggledPayload{Deleted: deleted})
	return sanitized(account), nil
}

// VerifyEmail activates an account when the submitted code matches and has
// not expired.
func (s *AccountService) VerifyEmail(ctx context.Context, email, code string) (*domain.Account, error) {
	account, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("account", nil)
		}
		return nil, err
	}
	if account.IsDeleted {
		return nil, apperrors.NewForbidden("account deleted")
	}
	if account.IsVerified {
		return nil, apperrors.NewBadRequest("account already verified")
	}
	if account.VerificationCode == "" || account.VerificationCode != code {
		return nil, apperrors.NewBadRequest("invalid verification code")
	}
	if time.Now().After(account.VerificationCodeExpiresAt) {
		return nil, apperrors.NewForbidden("verification code expired")
	}

	if err := s.repo.MarkVerified(ctx, account.ID); err != nil {
		return nil, err
	}

	s.publish(ctx, events.EventAccountVerified, account.ID, nil)
	account.IsVerified = true
	return sanitized(account), nil
}

// ResendVerification issues a fresh verification code, rate limited per
// account. The cooldown is best effort: if the cooldown store is down the
// resend proceeds.
func (s *AccountService) ResendVerification(ctx context.Context, email string) error {
	account, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NewNotFound("account", nil)
		}
		return err
	}
	if account.IsDeleted {
		return apperrors.NewForbidden("account deleted")
	}
	if account.IsVerified {
		return apperrors.NewBadRequest("account already verified")
	}

	if s.cooldowns != nil {
		ok, err := s.cooldowns.AcquireCooldown(ctx, "verification:cooldown:"+account.ID, s.account.ResendCooldown())
		if err != nil {
			s.logger.Warn("cooldown store unavailable; proceeding with resend", zap.Error(err))
		} else if !ok {
			return apperrors.NewTooManyRequests("verification email was sent recently")
		}
	}

	code, err := generateVerificationCode()
	if err != nil {
		return err
	}

	now := time.Now()
	if err := s.repo.SetVerification(ctx, account.ID, code, now.Add(s.account.VerificationTTL()), now); err != nil {
		return err
	}
	if err := s.mail.SendVerificationEmail(ctx, account.Email, code); err != nil {
		return err
	}

	s.publish(ctx, events.EventVerificationResent, account.ID, nil)
	return nil
}

func (s *AccountService) requireActive(ctx context.Context, userID string) (*domain.Account, error) {
	account, err := s.repo.GetActiveByID(ctx, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("account", nil)
		}
		return nil, err
	}
	return account, nil
}

func (s *AccountService) publish(ctx context.Context, eventType events.EventType, accountID string, payload any) {
	if s.dispatcher == nil {
		return
	}
	_ = s.dispatcher.Publish(ctx, events.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		AccountID: accountID,
		Timestamp: time.Now(),
		Payload:   payload,
	})
}

func sanitized(account *domain.Account) *domain.Account {
	clean := account.Sanitized()
	return &clean
}

func orDefault(val, fallback string) string {
	if val == "" {
		return fallback
	}
	return val
}
