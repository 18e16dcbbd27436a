package util

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToDomainErrorPassesThroughDomainErrors(t *testing.T) {
	original := NewConflict("email already exists", nil)

	mapped := ToDomainError(fmt.Errorf("wrapped: %w", original))
	require.NotNil(t, mapped)
	assert.Equal(t, "CONFLICT", mapped.Code)
	assert.Equal(t, 409, mapped.HTTPStatus)
}

func TestToDomainErrorMapsNoRows(t *testing.T) {
	mapped := ToDomainError(pgx.ErrNoRows)
	require.NotNil(t, mapped)
	assert.Equal(t, "NOT_FOUND", mapped.Code)
	assert.Equal(t, 404, mapped.HTTPStatus)
}

func TestToDomainErrorMapsUniqueViolation(t *testing.T) {
	mapped := ToDomainError(&pgconn.PgError{Code: "23505", ConstraintName: "accounts_email_key"})
	require.NotNil(t, mapped)
	assert.Equal(t, "CONFLICT", mapped.Code)
	assert.Equal(t, 409, mapped.HTTPStatus)
}

func TestToDomainErrorDefaultsToInternal(t *testing.T) {
	mapped := ToDomainError(errors.New("boom"))
	require.NotNil(t, mapped)
	assert.Equal(t, "INTERNAL_ERROR", mapped.Code)
	assert.Equal(t, 500, mapped.HTTPStatus)
}

func TestDomainErrorUnwrap(t *testing.T) {
	cause := errors.New("cause")
	wrapped := NewInternalError(cause)
	assert.ErrorIs(t, wrapped, cause)
}

func TestStatusConstructors(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{NewUnauthorized("x"), 401},
		{NewForbidden("x"), 403},
		{NewNotFound("account", nil), 404},
		{NewPayloadNotFound("x"), 404},
		{NewBadRequest("x"), 400},
		{NewConflict("x", nil), 409},
		{NewTooManyRequests("x"), 429},
	}
	for _, tc := range cases {
		var de *DomainError
		require.ErrorAs(t, tc.err, &de)
		assert.Equal(t, tc.status, de.HTTPStatus)
	}
}
