//go:build integration

package direct

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cqlfixture/internal/fixture"
	"cqlfixture/internal/schema"
	"cqlfixture/tests/integration/cqlassert"
)

func TestEnvironmentRunning(t *testing.T) {
	env := fx.Environment()
	if env == nil {
		t.Skip("running against configured contact points")
	}

	assert.True(t, env.Running(testCtx), "cassandra container should be running")
	assert.False(t, env.FaultInjection())
	assert.Equal(t, env.Cassandra, env.ClientEndpoint())
	assert.Contains(t, []fixture.State{fixture.SchemaReady, fixture.Asserted}, fx.State())
}

func TestEnsureSchemaIsIdempotent(t *testing.T) {
	cfg := fx.Config().Cassandra
	b := fx.Schema()

	require.NoError(t, b.EnsureSchema(testCtx, cfg.Keyspace, cfg.ReplicationFactor))
	require.NoError(t, b.EnsureSchema(testCtx, cfg.Keyspace, cfg.ReplicationFactor))

	ok, err := fx.Session().KeyspaceExists(cfg.Keyspace)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = fx.Session().TableExists(cfg.Keyspace, schema.TableName)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSeededUsersVisible(t *testing.T) {
	cqlassert.AssertUsersPresent(t, fx.Schema(), schema.DefaultUsers())
	cqlassert.AssertTableContains(t, fx.Schema(), schema.DefaultUsers())
}

func TestInsertThenSelect(t *testing.T) {
	flavio := schema.User{
		ID:      uuid.MustParse("9433e0e6-8768-11ed-a1eb-0242ac120002"),
		Name:    "Flavio",
		Address: "Blumenau",
		Age:     60,
	}

	err := fx.Assert(testCtx, fx.RetryPolicy(), func(ctx context.Context) error {
		return fx.Schema().Insert(ctx, flavio)
	})
	require.NoError(t, err)
	assert.Equal(t, fixture.Asserted, fx.State())

	cqlassert.AssertUser(t, fx.Schema(), flavio)
}

func TestInsertIsUpsert(t *testing.T) {
	edison := schema.DefaultUsers()[0]
	older := edison
	older.Age++

	b := fx.Schema()
	require.NoError(t, b.Insert(testCtx, older))
	cqlassert.AssertUser(t, b, older)

	require.NoError(t, b.Insert(testCtx, edison))
	cqlassert.AssertUser(t, b, edison)
}

func TestDropAbsentTable(t *testing.T) {
	ok, err := fx.Session().TableExists(fx.Config().Cassandra.Keyspace, "absent_table")
	require.NoError(t, err)
	require.False(t, ok)

	assert.NoError(t, fx.Schema().DropTable(testCtx, "absent_table"))
}
