//go:build integration

// Package cqlassert provides table assertion helpers for integration tests.
package cqlassert

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cqlfixture/internal/schema"
)

// queryTimeout bounds each lookup. It is shorter than the client request
// timeout so a stuck read fails the test rather than hanging it.
const queryTimeout = 10 * time.Second

// FindUser looks up a user by id.
func FindUser(t *testing.T, b *schema.Bootstrapper, id uuid.UUID) (schema.User, bool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	u, found, err := b.FindByID(ctx, id)
	require.NoError(t, err, "failed to query user %s", id)
	return u, found
}

// AssertUser checks that want is stored exactly.
func AssertUser(t *testing.T, b *schema.Bootstrapper, want schema.User) {
	t.Helper()
	got, found := FindUser(t, b, want.ID)
	if assert.True(t, found, "user %s should exist", want.ID) {
		assert.Equal(t, want, got)
	}
}

// AssertUserAbsent checks that no row has the given id.
func AssertUserAbsent(t *testing.T, b *schema.Bootstrapper, id uuid.UUID) {
	t.Helper()
	_, found := FindUser(t, b, id)
	assert.False(t, found, "user %s should not exist", id)
}

// AssertUsersPresent checks that every user in want is stored exactly.
// Other rows are ignored.
func AssertUsersPresent(t *testing.T, b *schema.Bootstrapper, want []schema.User) {
	t.Helper()
	for _, u := range want {
		AssertUser(t, b, u)
	}
}

// AssertTableContains selects every row and checks that each user in want
// is among them.
func AssertTableContains(t *testing.T, b *schema.Bootstrapper, want []schema.User) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	all, err := b.All(ctx)
	require.NoError(t, err, "failed to select users")
	require.NotEmpty(t, all, "select over the table returned no rows")
	assert.Subset(t, all, want)
}

// RequireCount fails the test unless the table holds exactly n rows.
func RequireCount(t *testing.T, b *schema.Bootstrapper, n int) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	got, err := b.Count(ctx)
	require.NoError(t, err, "failed to count users")
	require.Equal(t, n, got, "unexpected row count")
}
