package repository

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/account-service/internal/domain"
)

const accountColumns = `id, name, email, password_hash, role, is_verified,
        verification_code, verification_code_expires_at, last_verification_sent_at,
        is_deleted, tokens, language, theme, image, created_at, updated_at`

// AccountRepository defines persistence access for accounts.
type AccountRepository interface {
	Create(ctx context.Context, account *domain.Account) error
	GetByID(ctx context.Context, id string) (*domain.Account, error)
	GetActiveByID(ctx context.Context, id string) (*domain.Account, error)
	FindByEmail(ctx context.Context, email string) (*domain.Account, error)
	UpdateFields(ctx context.Context, id string, fields map[string]any) (*domain.Account, error)
	SetLanguage(ctx context.Context, id, language string) (*domain.Account, error)
	SetTheme(ctx context.Context, id string, theme domain.Theme) (*domain.Account, error)
	SetImage(ctx context.Context, id, imageURL string) (*domain.Account, error)
	SetVerification(ctx context.Context, id, code string, expiresAt, sentAt time.Time) error
	MarkVerified(ctx context.Context, id string) error
	DeductTokens(ctx context.Context, id string, amount int64) (*domain.Account, error)
	SetDeleted(ctx context.Context, id string, deleted bool) (*domain.Account, error)
	List(ctx context.Context, filter ListFilter) ([]domain.Account, *ListMeta, error)
	RunInTransaction(ctx context.Context, fn func(AccountRepository) error) error
}

// querier abstracts over pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type accountRepository struct {
	pool *pgxpool.Pool
	db   querier
}

// NewAccountRepository returns a Postgres-backed implementation.
func NewAccountRepository(pool *pgxpool.Pool) AccountRepository {
	return &accountRepository{pool: pool, db: pool}
}

func (r *accountRepository) Create(ctx context.Context, account *domain.Account) error {
	const query = `
        INSERT INTO accounts (name, email, password_hash, role, is_verified,
            verification_code, verification_code_expires_at, last_verification_sent_at,
            is_deleted, tokens, language, theme, image)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
        RETURNING id, created_at, updated_at`

	return r.db.QueryRow(ctx, query,
		account.Name,
		account.Email,
		account.PasswordHash,
		account.Role,
		account.IsVerified,
		account.VerificationCode,
		account.VerificationCodeExpiresAt,
		account.LastVerificationSentAt,
		account.IsDeleted,
		account.Tokens,
		account.Language,
		account.Theme,
		account.Image,
	).Scan(&account.ID, &account.CreatedAt, &account.UpdatedAt)
}

func (r *accountRepository) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	query := fmt.Sprintf("SELECT %s FROM accounts WHERE id=$1", accountColumns)
	return r.fetchSingle(ctx, query, id)
}

func (r *accountRepository) GetActiveByID(ctx context.Context, id string) (*domain.Account, error) {
	query := fmt.Sprintf("SELECT %s FROM accounts WHERE id=$1 AND is_deleted=FALSE", accountColumns)
	return r.fetchSingle(ctx, query, id)
}

func (r *accountRepository) FindByEmail(ctx context.Context, email string) (*domain.Account, error) {
	query := fmt.Sprintf("SELECT %s FROM accounts WHERE email=$1", accountColumns)
	return r.fetchSingle(ctx, query, email)
}

var columnNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// UpdateFields merges the provided fields into the account row. Field names
// must be valid lowercase identifiers; anything else is rejected before it
// reaches the SQL text. No further whitelist is applied at this layer.
func (r *accountRepository) UpdateFields(ctx context.Context, id string, fields map[string]any) (*domain.Account, error) {
	if len(fields) == 0 {
		return r.GetByID(ctx, id)
	}

	names := make([]string, 0, len(fields))
	for name := range fields {
		if !columnNamePattern.MatchString(name) {
			return nil, fmt.Errorf("invalid field name %q", name)
		}
		names = append(names, name)
	}
	sort.Strings(names)

	sets := make([]string, 0, len(names)+1)
	args := []any{id}
	for _, name := range names {
		args = append(args, fields[name])
		sets = append(sets, fmt.Sprintf("%s=$%d", name, len(args)))
	}
	sets = append(sets, "updated_at=NOW()")

	query := fmt.Sprintf("UPDATE accounts SET %s WHERE id=$1 RETURNING %s",
		strings.Join(sets, ", "), accountColumns)
	return r.scanRow(r.db.QueryRow(ctx, query, args...))
}

func (r *accountRepository) SetLanguage(ctx context.Context, id, language string) (*domain.Account, error) {
	query := fmt.Sprintf(
		"UPDATE accounts SET language=$2, updated_at=NOW() WHERE id=$1 RETURNING %s", accountColumns)
	return r.scanRow(r.db.QueryRow(ctx, query, id, language))
}

func (r *accountRepository) SetTheme(ctx context.Context, id string, theme domain.Theme) (*domain.Account, error) {
	query := fmt.Sprintf(
		"UPDATE accounts SET theme=$2, updated_at=NOW() WHERE id=$1 RETURNING %s", accountColumns)
	return r.scanRow(r.db.QueryRow(ctx, query, id, theme))
}

func (r *accountRepository) SetImage(ctx context.Context, id, imageURL string) (*domain.Account, error) {
	query := fmt.Sprintf(
		"UPDATE accounts SET image=$2, updated_at=NOW() WHERE id=$1 RETURNING %s", accountColumns)
	return r.scanRow(r.db.QueryRow(ctx, query, id, imageURL))
}

func (r *accountRepository) SetVerification(ctx context.Context, id, code string, expiresAt, sentAt time.Time) error {
	const query = `
        UPDATE accounts SET verification_code=$2, verification_code_expires_at=$3,
            last_verification_sent_at=$4, updated_at=NOW()
        WHERE id=$1`
	cmd, err := r.db.Exec(ctx, query, id, code, expiresAt, sentAt)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *accountRepository) MarkVerified(ctx context.Context, id string) error {
	const query = `
        UPDATE accounts SET is_verified=TRUE, verification_code='', updated_at=NOW()
        WHERE id=$1`
	cmd, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// DeductTokens decrements the balance in a single atomic update. The balance
// is allowed to go negative; callers treat a negative balance as debt.
func (r *accountRepository) DeductTokens(ctx context.Context, id string, amount int64) (*domain.Account, error) {
	query := fmt.Sprintf(
		"UPDATE accounts SET tokens=tokens-$2, updated_at=NOW() WHERE id=$1 RETURNING %s", accountColumns)
	return r.scanRow(r.db.QueryRow(ctx, query, id, amount))
}

func (r *accountRepository) SetDeleted(ctx context.Context, id string, deleted bool) (*domain.Account, error) {
	query := fmt.Sprintf(
		"UPDATE accounts SET is_deleted=$2, updated_at=NOW() WHERE id=$1 RETURNING %s", accountColumns)
	return r.scanRow(r.db.QueryRow(ctx, query, id, deleted))
}

func (r *accountRepository) List(ctx context.Context, filter ListFilter) ([]domain.Account, *ListMeta, error) {
	lq := NewListQuery(filter)

	query, args := lq.Build()
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	accounts, err := scanPublicAccounts(rows)
	if err != nil {
		return nil, nil, err
	}

	countQuery, countArgs := lq.BuildCount()
	var total int64
	if err := r.db.QueryRow(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, nil, err
	}

	return accounts, lq.Meta(total), nil
}

// RunInTransaction executes fn against a transaction-scoped repository.
// Any error from fn rolls the transaction back and is returned unchanged.
func (r *accountRepository) RunInTransaction(ctx context.Context, fn func(AccountRepository) error) error {
	if r.pool == nil {
		return errors.New("transactions require a pool-backed repository")
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	txRepo := &accountRepository{db: tx}
	if err := fn(txRepo); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *accountRepository) fetchSingle(ctx context.Context, query string, arg any) (*domain.Account, error) {
	return r.scanRow(r.db.QueryRow(ctx, query, arg))
}

func (r *accountRepository) scanRow(row pgx.Row) (*domain.Account, error) {
	var account domain.Account
	if err := row.Scan(
		&account.ID,
		&account.Name,
		&account.Email,
		&account.PasswordHash,
		&account.Role,
		&account.IsVerified,
		&account.VerificationCode,
		&account.VerificationCodeExpiresAt,
		&account.LastVerificationSentAt,
		&account.IsDeleted,
		&account.Tokens,
		&account.Language,
		&account.Theme,
		&account.Image,
		&account.CreatedAt,
		&account.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &account, nil
}

func scanPublicAccounts(rows pgx.Rows) ([]domain.Account, error) {
	var result []domain.Account
	for rows.Next() {
		var account domain.Account
		if err := rows.Scan(
			&account.ID,
			&account.Name,
			&account.Email,
			&account.Role,
			&account.IsVerified,
			&account.IsDeleted,
			&account.Tokens,
			&account.Language,
			&account.Theme,
			&account.Image,
			&account.CreatedAt,
			&account.UpdatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, account)
	}
	return result, rows.Err()
}
