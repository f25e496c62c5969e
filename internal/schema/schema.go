// Package schema bootstraps the keyspace and user table the fixture tests run against.
package schema

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"cqlfixture/internal/core"
)

// TableName is the table every scenario reads and writes.
const TableName = "user"

// Session is the subset of cql.Session the bootstrapper needs.
type Session interface {
	Exec(ctx context.Context, stmt string, args ...any) error
	Select(ctx context.Context, stmt string, args []any, scan func(gocql.Scanner) error) error
	Use(keyspace string) error
	Keyspace() string
}

// User is one row of the user table.
type User struct {
	ID      uuid.UUID `yaml:"id" json:"id"`
	Name    string    `yaml:"name" json:"name"`
	Address string    `yaml:"address" json:"address"`
	Age     int       `yaml:"age" json:"age"`
}

var identifier = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]{0,47}$`)

// ValidateIdentifier rejects names that cannot be interpolated into CQL unquoted.
func ValidateIdentifier(name string) error {
	if !identifier.MatchString(name) {
		return fmt.Errorf("invalid identifier %q", name)
	}
	return nil
}

// CreateKeyspaceStatement renders an idempotent keyspace creation.
func CreateKeyspaceStatement(keyspace string, replicationFactor int) string {
	return fmt.Sprintf("CREATE KEYSPACE IF NOT EXISTS %s WITH replication = "+
		"{'class':'SimpleStrategy','replication_factor':'%d'}", keyspace, replicationFactor)
}

// CreateTableStatement renders an idempotent user table creation.
func CreateTableStatement(keyspace string) string {
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s.%s (id uuid PRIMARY KEY, name text, address text, age int)",
		keyspace, TableName)
}

// DropTableStatement renders a drop that tolerates a missing table.
func DropTableStatement(keyspace, table string) string {
	return fmt.Sprintf("DROP TABLE IF EXISTS %s.%s", keyspace, table)
}

func insertStatement(keyspace string) string {
	return fmt.Sprintf("INSERT INTO %s.%s (id, name, address, age) VALUES (?, ?, ?, ?)", keyspace, TableName)
}

func selectStatement(keyspace string) string {
	return fmt.Sprintf("SELECT id, name, address, age FROM %s.%s", keyspace, TableName)
}

// Bootstrapper creates and populates the schema through a Session.
type Bootstrapper struct {
	session Session
	logger  *slog.Logger
}

// New creates a Bootstrapper. logger may be nil.
func New(session Session, logger *slog.Logger) *Bootstrapper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bootstrapper{session: session, logger: logger.With("component", "schema")}
}

// EnsureSchema creates the keyspace if missing, selects it and creates the
// user table if missing. Running it again is a no-op.
func (b *Bootstrapper) EnsureSchema(ctx context.Context, keyspace string, replicationFactor int) error {
	if err := ValidateIdentifier(keyspace); err != nil {
		return core.NewSchemaError("", err)
	}
	if replicationFactor < 1 {
		return core.NewSchemaError("", fmt.Errorf("replication factor must be at least 1, got %d", replicationFactor))
	}

	if err := b.session.Exec(ctx, CreateKeyspaceStatement(keyspace, replicationFactor)); err != nil {
		return err
	}
	if err := b.session.Use(keyspace); err != nil {
		return err
	}
	if err := b.session.Exec(ctx, CreateTableStatement(keyspace)); err != nil {
		return err
	}

	b.logger.Info("schema ready", "keyspace", keyspace, "table", TableName, "replication_factor", replicationFactor)
	return nil
}

// RecreateTable drops and recreates the user table so a suite starts empty.
func (b *Bootstrapper) RecreateTable(ctx context.Context) error {
	ks, err := b.keyspace()
	if err != nil {
		return err
	}
	if err := b.session.Exec(ctx, DropTableStatement(ks, TableName)); err != nil {
		return err
	}
	return b.session.Exec(ctx, CreateTableStatement(ks))
}

// Seed inserts every user. Existing ids are overwritten, as Cassandra inserts upsert.
func (b *Bootstrapper) Seed(ctx context.Context, users []User) error {
	for _, u := range users {
		if err := b.Insert(ctx, u); err != nil {
			return err
		}
	}
	b.logger.Info("seeded users", "count", len(users))
	return nil
}

// Insert writes one user.
func (b *Bootstrapper) Insert(ctx context.Context, u User) error {
	ks, err := b.keyspace()
	if err != nil {
		return err
	}
	if u.ID == uuid.Nil {
		return core.NewSchemaError(insertStatement(ks), fmt.Errorf("user %q has no id", u.Name))
	}
	return b.session.Exec(ctx, insertStatement(ks), gocql.UUID(u.ID), u.Name, u.Address, u.Age)
}

// FindByID returns the user with the given id; found is false when absent.
func (b *Bootstrapper) FindByID(ctx context.Context, id uuid.UUID) (user User, found bool, err error) {
	ks, err := b.keyspace()
	if err != nil {
		return User{}, false, err
	}
	stmt := selectStatement(ks) + " WHERE id = ?"
	err = b.session.Select(ctx, stmt, []any{gocql.UUID(id)}, func(s gocql.Scanner) error {
		u, err := scanUser(s)
		if err != nil {
			return err
		}
		user, found = u, true
		return nil
	})
	return user, found, err
}

// All returns every user in the table.
func (b *Bootstrapper) All(ctx context.Context) ([]User, error) {
	ks, err := b.keyspace()
	if err != nil {
		return nil, err
	}
	var users []User
	err = b.session.Select(ctx, selectStatement(ks), nil, func(s gocql.Scanner) error {
		u, err := scanUser(s)
		if err != nil {
			return err
		}
		users = append(users, u)
		return nil
	})
	return users, err
}

// Count returns the number of rows in the user table.
func (b *Bootstrapper) Count(ctx context.Context) (int, error) {
	ks, err := b.keyspace()
	if err != nil {
		return 0, err
	}
	var n int64
	stmt := fmt.Sprintf("SELECT COUNT(*) FROM %s.%s", ks, TableName)
	err = b.session.Select(ctx, stmt, nil, func(s gocql.Scanner) error {
		return s.Scan(&n)
	})
	return int(n), err
}

// DropTable drops table from the selected keyspace; a missing table is not an error.
func (b *Bootstrapper) DropTable(ctx context.Context, table string) error {
	ks, err := b.keyspace()
	if err != nil {
		return err
	}
	if err := ValidateIdentifier(table); err != nil {
		return core.NewSchemaError("", err)
	}
	if err := b.session.Exec(ctx, DropTableStatement(ks, table)); err != nil {
		return err
	}
	b.logger.Info("table dropped", "keyspace", ks, "table", table)
	return nil
}

// Keyspace returns the keyspace statements are qualified with; "" before EnsureSchema.
func (b *Bootstrapper) Keyspace() string {
	return b.session.Keyspace()
}

func (b *Bootstrapper) keyspace() (string, error) {
	ks := b.session.Keyspace()
	if ks == "" {
		return "", core.NewStateError("no keyspace selected; call EnsureSchema first")
	}
	return ks, nil
}

func scanUser(s gocql.Scanner) (User, error) {
	var (
		id  gocql.UUID
		u   User
		age int
	)
	if err := s.Scan(&id, &u.Name, &u.Address, &age); err != nil {
		return User{}, err
	}
	u.ID = uuid.UUID(id)
	u.Age = age
	return u, nil
}
