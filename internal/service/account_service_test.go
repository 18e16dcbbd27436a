package service_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/account-service/internal/config"
	"github.com/spec-kit/account-service/internal/domain"
	"github.com/spec-kit/account-service/internal/repository"
	"github.com/spec-kit/account-service/internal/service"
	apperrors "github.com/spec-kit/account-service/pkg/util"
)

// memRepo is an in-memory AccountRepository. RunInTransaction operates on a
// deep copy and commits it only when fn succeeds, mirroring snapshot
// isolation closely enough for the atomicity tests.
type memRepo struct {
	accounts   map[string]*domain.Account
	seq        int
	lastFilter *repository.ListFilter
	createErr  error
}

func newMemRepo() *memRepo {
	return &memRepo{accounts: map[string]*domain.Account{}}
}

func (m *memRepo) clone() map[string]*domain.Account {
	copied := make(map[string]*domain.Account, len(m.accounts))
	for id, account := range m.accounts {
		dup := *account
		copied[id] = &dup
	}
	return copied
}

func (m *memRepo) Create(_ context.Context, account *domain.Account) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.seq++
	account.ID = fmt.Sprintf("acc-%d", m.seq)
	account.CreatedAt = time.Now()
	account.UpdatedAt = account.CreatedAt
	dup := *account
	m.accounts[account.ID] = &dup
	return nil
}

func (m *memRepo) GetByID(_ context.Context, id string) (*domain.Account, error) {
	account, ok := m.accounts[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	dup := *account
	return &dup, nil
}

func (m *memRepo) GetActiveByID(ctx context.Context, id string) (*domain.Account, error) {
	account, err := m.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if account.IsDeleted {
		return nil, pgx.ErrNoRows
	}
	return account, nil
}

func (m *memRepo) FindByEmail(_ context.Context, email string) (*domain.Account, error) {
	for _, account := range m.accounts {
		if account.Email == email {
			dup := *account
			return &dup, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (m *memRepo) UpdateFields(_ context.Context, id string, fields map[string]any) (*domain.Account, error) {
	account, ok := m.accounts[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	for name, value := range fields {
		switch name {
		case "name":
			account.Name, _ = value.(string)
		case "language":
			account.Language, _ = value.(string)
		case "theme":
			if s, ok := value.(string); ok {
				account.Theme = domain.Theme(s)
			}
		case "image":
			account.Image, _ = value.(string)
		}
	}
	account.UpdatedAt = time.Now()
	dup := *account
	return &dup, nil
}

func (m *memRepo) SetLanguage(ctx context.Context, id, language string) (*domain.Account, error) {
	return m.UpdateFields(ctx, id, map[string]any{"language": language})
}

func (m *memRepo) SetTheme(ctx context.Context, id string, theme domain.Theme) (*domain.Account, error) {
	return m.UpdateFields(ctx, id, map[string]any{"theme": string(theme)})
}

func (m *memRepo) SetImage(ctx context.Context, id, imageURL string) (*domain.Account, error) {
	return m.UpdateFields(ctx, id, map[string]any{"image": imageURL})
}

func (m *memRepo) SetVerification(_ context.Context, id, code string, expiresAt, sentAt time.Time) error {
	account, ok := m.accounts[id]
	if !ok {
		return pgx.ErrNoRows
	}
	account.VerificationCode = code
	account.VerificationCodeExpiresAt = expiresAt
	account.LastVerificationSentAt = sentAt
	return nil
}

func (m *memRepo) MarkVerified(_ context.Context, id string) error {
	account, ok := m.accounts[id]
	if !ok {
		return pgx.ErrNoRows
	}
	account.IsVerified = true
	account.VerificationCode = ""
	return nil
}

func (m *memRepo) DeductTokens(_ context.Context, id string, amount int64) (*domain.Account, error) {
	account, ok := m.accounts[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	account.Tokens -= amount
	dup := *account
	return &dup, nil
}

func (m *memRepo) SetDeleted(_ context.Context, id string, deleted bool) (*domain.Account, error) {
	account, ok := m.accounts[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	account.IsDeleted = deleted
	dup := *account
	return &dup, nil
}

func (m *memRepo) List(_ context.Context, filter repository.ListFilter) ([]domain.Account, *repository.ListMeta, error) {
	m.lastFilter = &filter
	var result []domain.Account
	for _, account := range m.accounts {
		if filter.IsVerified != nil && account.IsVerified != *filter.IsVerified {
			continue
		}
		if filter.IsDeleted != nil && account.IsDeleted != *filter.IsDeleted {
			continue
		}
		if filter.ExcludeAdmin && account.Role == domain.RoleAdmin {
			continue
		}
		result = append(result, account.Sanitized())
	}
	meta := &repository.ListMeta{Page: 1, Limit: len(result), Total: int64(len(result)), TotalPages: 1}
	return result, meta, nil
}

func (m *memRepo) RunInTransaction(_ context.Context, fn func(repository.AccountRepository) error) error {
	txRepo := &memRepo{accounts: m.clone(), seq: m.seq, createErr: m.createErr}
	if err := fn(txRepo); err != nil {
		return err
	}
	m.accounts = txRepo.accounts
	m.seq = txRepo.seq
	return nil
}

type mailRecorder struct {
	sent []string
	err  error
}

func (m *mailRecorder) SendVerificationEmail(_ context.Context, email, code string) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, email+":"+code)
	return nil
}

type uploadRecorder struct {
	key string
	err error
}

func (u *uploadRecorder) Upload(_ context.Context, key string, _ io.Reader, _ string) (string, error) {
	if u.err != nil {
		return "", u.err
	}
	u.key = key
	return "https://cdn.example.com/" + key, nil
}

type cooldownStub struct {
	allow bool
	err   error
}

func (c *cooldownStub) AcquireCooldown(context.Context, string, time.Duration) (bool, error) {
	return c.allow, c.err
}

func testConfig() config.Config {
	return config.Config{
		Auth: config.AuthConfig{JWTSecret: "secret", AccessTokenTTLMinutes: 60, BcryptCost: 4},
		Account: config.AccountConfig{
			DefaultTokens:          5,
			DefaultLanguage:        "en",
			DefaultTheme:           "light",
			VerificationTTLMinutes: 10,
			ResendCooldownSeconds:  60,
		},
	}
}

func newService(repo *memRepo, mail *mailRecorder, opts ...func(*service.AccountDependencies)) *service.AccountService {
	deps := service.AccountDependencies{
		Repo:   repo,
		Mailer: mail,
		Logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&deps)
	}
	return service.NewAccountService(testConfig(), deps)
}

func domainStatus(t *testing.T, err error) int {
	t.Helper()
	var de *apperrors.DomainError
	require.ErrorAs(t, err, &de)
	return de.HTTPStatus
}

func TestCreatePersistsUnverifiedAccount(t *testing.T) {
	repo := newMemRepo()
	mail := &mailRecorder{}
	svc := newService(repo, mail)

	summary, err := svc.Create(context.Background(), service.CreateAccountInput{
		Name:     "Alice",
		Email:    "alice@example.com",
		Password: "hunter22",
	})
	require.NoError(t, err)

	assert.Equal(t, "Alice", summary.Name)
	assert.Equal(t, domain.RoleUser, summary.Role)
	assert.Equal(t, int64(5), summary.Tokens)
	assert.False(t, summary.IsVerified)
	assert.False(t, summary.IsVerificationExpired)
	require.Len(t, mail.sent, 1)

	stored, err := repo.FindByEmail(context.Background(), "alice@example.com")
	require.NoError(t, err)
	assert.False(t, stored.IsVerified)
	assert.Len(t, stored.VerificationCode, 6)
	assert.NotEqual(t, "hunter22", stored.PasswordHash)
	assert.True(t, stored.VerificationCodeExpiresAt.After(time.Now()))
}

func TestCreateDuplicateEmailConflicts(t *testing.T) {
	repo := newMemRepo()
	svc := newService(repo, &mailRecorder{})
	ctx := context.Background()

	_, err := svc.Create(ctx, service.CreateAccountInput{Name: "A", Email: "a@example.com", Password: "pw123456"})
	require.NoError(t, err)

	_, err = svc.Create(ctx, service.CreateAccountInput{Name: "B", Email: "a@example.com", Password: "pw123456"})
	assert.Equal(t, 409, domainStatus(t, err))
}

func TestCreateConflictsWhenInsertLosesUniqueEmailRace(t *testing.T) {
	repo := newMemRepo()
	// Simulates the loser of two concurrent registrations: the pre-insert
	// email check sees no row, then the INSERT hits the unique constraint.
	repo.createErr = &pgconn.PgError{Code: "23505", ConstraintName: "accounts_email_key"}
	svc := newService(repo, &mailRecorder{})
	ctx := context.Background()

	_, err := svc.Create(ctx, service.CreateAccountInput{Name: "A", Email: "a@example.com", Password: "pw123456"})
	assert.Equal(t, 409, domainStatus(t, err))

	_, err = repo.FindByEmail(ctx, "a@example.com")
	assert.ErrorIs(t, err, pgx.ErrNoRows)
}

func TestCreateMissingPassword(t *testing.T) {
	repo := newMemRepo()
	svc := newService(repo, &mailRecorder{})

	_, err := svc.Create(context.Background(), service.CreateAccountInput{Name: "A", Email: "a@example.com"})
	assert.Equal(t, 404, domainStatus(t, err))

	_, err = repo.FindByEmail(context.Background(), "a@example.com")
	assert.ErrorIs(t, err, pgx.ErrNoRows)
}

func TestCreateAbortsWhenMailFails(t *testing.T) {
	repo := newMemRepo()
	mailErr := errors.New("smtp unavailable")
	svc := newService(repo, &mailRecorder{err: mailErr})
	ctx := context.Background()

	_, err := svc.Create(ctx, service.CreateAccountInput{Name: "A", Email: "a@example.com", Password: "pw123456"})
	// The provider error propagates unchanged.
	assert.ErrorIs(t, err, mailErr)

	_, err = repo.FindByEmail(ctx, "a@example.com")
	assert.ErrorIs(t, err, pgx.ErrNoRows)

	// A later attempt with the same email must succeed, not conflict.
	okSvc := newService(repo, &mailRecorder{})
	_, err = okSvc.Create(ctx, service.CreateAccountInput{Name: "A", Email: "a@example.com", Password: "pw123456"})
	require.NoError(t, err)
}

func seedAccount(t *testing.T, repo *memRepo, mutate func(*domain.Account)) *domain.Account {
	t.Helper()
	account := &domain.Account{
		Name:       "Alice",
		Email:      fmt.Sprintf("alice%d@example.com", repo.seq+1),
		Role:       domain.RoleUser,
		IsVerified: true,
		Tokens:     5,
		Language:   "en",
		Theme:      domain.ThemeLight,
	}
	if mutate != nil {
		mutate(account)
	}
	require.NoError(t, repo.Create(context.Background(), account))
	return account
}

func TestGetSelfAbsentIsForbidden(t *testing.T) {
	svc := newService(newMemRepo(), &mailRecorder{})

	_, err := svc.GetSelf(context.Background(), "ghost")
	assert.Equal(t, 403, domainStatus(t, err))
}

func TestGetByIDAbsentIsNotFound(t *testing.T) {
	svc := newService(newMemRepo(), &mailRecorder{})

	_, err := svc.GetByID(context.Background(), "ghost")
	assert.Equal(t, 404, domainStatus(t, err))
}

func TestGetByIDStripsSecrets(t *testing.T) {
	repo := newMemRepo()
	account := seedAccount(t, repo, func(a *domain.Account) {
		a.PasswordHash = "hash"
		a.VerificationCode = "123456"
	})
	svc := newService(repo, &mailRecorder{})

	got, err := svc.GetByID(context.Background(), account.ID)
	require.NoError(t, err)
	assert.Empty(t, got.PasswordHash)
	assert.Empty(t, got.VerificationCode)
}

func TestToggleDeletedVisibilityRoundTrip(t *testing.T) {
	repo := newMemRepo()
	account := seedAccount(t, repo, nil)
	svc := newService(repo, &mailRecorder{})
	ctx := context.Background()

	_, err := svc.ToggleDeleted(ctx, account.ID, true)
	require.NoError(t, err)

	_, err = svc.GetSelf(ctx, account.ID)
	assert.Equal(t, 403, domainStatus(t, err))
	_, err = svc.ChangeLanguage(ctx, account.ID, "de")
	assert.Equal(t, 404, domainStatus(t, err))

	// GetByID deliberately still sees soft-deleted accounts.
	got, err := svc.GetByID(ctx, account.ID)
	require.NoError(t, err)
	assert.True(t, got.IsDeleted)

	_, err = svc.ToggleDeleted(ctx, account.ID, false)
	require.NoError(t, err)
	_, err = svc.GetSelf(ctx, account.ID)
	require.NoError(t, err)
}

func TestToggleDeletedUnknownAccount(t *testing.T) {
	svc := newService(newMemRepo(), &mailRecorder{})

	_, err := svc.ToggleDeleted(context.Background(), "ghost", true)
	assert.Equal(t, 404, domainStatus(t, err))
}

func TestDeductTokensAllowsNegativeBalance(t *testing.T) {
	repo := newMemRepo()
	account := seedAccount(t, repo, func(a *domain.Account) { a.Tokens = 5 })
	svc := newService(repo, &mailRecorder{})

	got, err := svc.DeductTokens(context.Background(), account.ID, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(-5), got.Tokens)
}

func TestListCoercesFalsyVerifiedFilter(t *testing.T) {
	repo := newMemRepo()
	svc := newService(repo, &mailRecorder{})

	falseVal := false
	_, _, err := svc.List(context.Background(), service.ListParams{IsVerified: &falseVal})
	require.NoError(t, err)

	require.NotNil(t, repo.lastFilter.IsVerified)
	// Legacy behavior: filtering on isVerified=false behaves as true.
	assert.True(t, *repo.lastFilter.IsVerified)
	assert.False(t, repo.lastFilter.ExcludeAdmin)
}

func TestListDeletedFilterExcludesAdmins(t *testing.T) {
	repo := newMemRepo()
	seedAccount(t, repo, nil)
	seedAccount(t, repo, func(a *domain.Account) {
		a.Email = "admin@example.com"
		a.Role = domain.RoleAdmin
	})
	svc := newService(repo, &mailRecorder{})

	falseVal := false
	accounts, meta, err := svc.List(context.Background(), service.ListParams{IsDeleted: &falseVal})
	require.NoError(t, err)

	require.NotNil(t, repo.lastFilter.IsDeleted)
	assert.False(t, *repo.lastFilter.IsDeleted)
	assert.True(t, repo.lastFilter.ExcludeAdmin)
	assert.Equal(t, int64(1), meta.Total)
	for _, account := range accounts {
		assert.NotEqual(t, domain.RoleAdmin, account.Role)
	}
}

func TestChangeLanguageAndTheme(t *testing.T) {
	repo := newMemRepo()
	account := seedAccount(t, repo, nil)
	svc := newService(repo, &mailRecorder{})
	ctx := context.Background()

	got, err := svc.ChangeLanguage(ctx, account.ID, "de")
	require.NoError(t, err)
	assert.Equal(t, "de", got.Language)

	got, err = svc.ChangeTheme(ctx, account.ID, domain.ThemeDark)
	require.NoError(t, err)
	assert.Equal(t, domain.ThemeDark, got.Theme)
}

func TestUpdateProfileUnknownAccount(t *testing.T) {
	svc := newService(newMemRepo(), &mailRecorder{})

	_, err := svc.UpdateProfile(context.Background(), "ghost", map[string]any{"name": "Bob"})
	assert.Equal(t, 404, domainStatus(t, err))
}

func TestUpdateProfileMergesFields(t *testing.T) {
	repo := newMemRepo()
	account := seedAccount(t, repo, nil)
	svc := newService(repo, &mailRecorder{})

	got, err := svc.UpdateProfile(context.Background(), account.ID, map[string]any{"name": "Bob"})
	require.NoError(t, err)
	assert.Equal(t, "Bob", got.Name)
	assert.Empty(t, got.PasswordHash)
}

func TestVerifyEmail(t *testing.T) {
	repo := newMemRepo()
	account := seedAccount(t, repo, func(a *domain.Account) {
		a.IsVerified = false
		a.VerificationCode = "123456"
		a.VerificationCodeExpiresAt = time.Now().Add(5 * time.Minute)
	})
	svc := newService(repo, &mailRecorder{})
	ctx := context.Background()

	_, err := svc.VerifyEmail(ctx, account.Email, "000000")
	assert.Equal(t, 400, domainStatus(t, err))

	got, err := svc.VerifyEmail(ctx, account.Email, "123456")
	require.NoError(t, err)
	assert.True(t, got.IsVerified)

	_, err = svc.VerifyEmail(ctx, account.Email, "123456")
	assert.Equal(t, 400, domainStatus(t, err))
}

func TestVerifyEmailExpiredCode(t *testing.T) {
	repo := newMemRepo()
	account := seedAccount(t, repo, func(a *domain.Account) {
		a.IsVerified = false
		a.VerificationCode = "123456"
		a.VerificationCodeExpiresAt = time.Now().Add(-time.Minute)
	})
	svc := newService(repo, &mailRecorder{})

	_, err := svc.VerifyEmail(context.Background(), account.Email, "123456")
	assert.Equal(t, 403, domainStatus(t, err))
}

func TestResendVerificationCooldown(t *testing.T) {
	repo := newMemRepo()
	account := seedAccount(t, repo, func(a *domain.Account) {
		a.IsVerified = false
		a.VerificationCode = "123456"
	})
	mail := &mailRecorder{}
	svc := newService(repo, mail, func(deps *service.AccountDependencies) {
		deps.Cooldowns = &cooldownStub{allow: false}
	})

	err := svc.ResendVerification(context.Background(), account.Email)
	assert.Equal(t, 429, domainStatus(t, err))
	assert.Empty(t, mail.sent)
}

func TestResendVerificationIssuesFreshCode(t *testing.T) {
	repo := newMemRepo()
	account := seedAccount(t, repo, func(a *domain.Account) {
		a.IsVerified = false
		a.VerificationCode = "123456"
		a.VerificationCodeExpiresAt = time.Now().Add(-time.Minute)
	})
	mail := &mailRecorder{}
	svc := newService(repo, mail, func(deps *service.AccountDependencies) {
		deps.Cooldowns = &cooldownStub{allow: true}
	})
	ctx := context.Background()

	require.NoError(t, svc.ResendVerification(ctx, account.Email))
	require.Len(t, mail.sent, 1)

	stored, err := repo.FindByEmail(ctx, account.Email)
	require.NoError(t, err)
	assert.Len(t, stored.VerificationCode, 6)
	assert.True(t, stored.VerificationCodeExpiresAt.After(time.Now()))
	assert.True(t, strings.HasSuffix(mail.sent[0], stored.VerificationCode))
}

func TestUploadProfileImageRequiresFile(t *testing.T) {
	repo := newMemRepo()
	account := seedAccount(t, repo, nil)
	svc := newService(repo, &mailRecorder{}, func(deps *service.AccountDependencies) {
		deps.Media = &uploadRecorder{}
	})

	_, err := svc.UploadProfileImage(context.Background(), account.ID, nil)
	assert.Equal(t, 400, domainStatus(t, err))
}

func TestUploadProfileImagePersistsURL(t *testing.T) {
	repo := newMemRepo()
	account := seedAccount(t, repo, func(a *domain.Account) { a.Name = "Alice" })
	uploader := &uploadRecorder{}
	svc := newService(repo, &mailRecorder{}, func(deps *service.AccountDependencies) {
		deps.Media = uploader
	})

	got, err := svc.UploadProfileImage(context.Background(), account.ID, &service.FileUpload{
		Filename:    "avatar.png",
		ContentType: "image/png",
		Content:     strings.NewReader("png-bytes"),
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(uploader.key, "Alice-user-"))
	assert.Equal(t, "https://cdn.example.com/"+uploader.key, got.Image)
}

func TestUploadProfileImageDeletedAccount(t *testing.T) {
	repo := newMemRepo()
	account := seedAccount(t, repo, func(a *domain.Account) { a.IsDeleted = true })
	svc := newService(repo, &mailRecorder{}, func(deps *service.AccountDependencies) {
		deps.Media = &uploadRecorder{}
	})

	_, err := svc.UploadProfileImage(context.Background(), account.ID, &service.FileUpload{
		Content: strings.NewReader("png-bytes"),
	})
	assert.Equal(t, 404, domainStatus(t, err))
}

func TestResendVerificationAlreadyVerified(t *testing.T) {
	repo := newMemRepo()
	account := seedAccount(t, repo, nil)
	svc := newService(repo, &mailRecorder{})

	err := svc.ResendVerification(context.Background(), account.Email)
	assert.Equal(t, 400, domainStatus(t, err))
}
