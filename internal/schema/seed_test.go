package schema

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultUsers(t *testing.T) {
	users := DefaultUsers()
	require.Len(t, users, 4)

	assert.Equal(t, User{
		ID:      uuid.MustParse("78ac5be4-5394-11ed-bdc3-0242ac120002"),
		Name:    "Edison",
		Address: "Curitiba",
		Age:     36,
	}, users[0])

	names := make([]string, 0, len(users))
	for _, u := range users {
		names = append(names, u.Name)
	}
	assert.Equal(t, []string{"Edison", "Paulo", "Micael", "Barbara"}, names)
	assert.Equal(t, "Timbó", users[3].Address)
}

func TestDefaultUsers_ReturnsCopy(t *testing.T) {
	first := DefaultUsers()
	first[0].Name = "changed"
	assert.Equal(t, "Edison", DefaultUsers()[0].Name)
}

func TestLoadUsers(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int
		wantErr string
	}{
		{
			name:  "two rows",
			input: "- {id: 9433e0e6-8768-11ed-a1eb-0242ac120002, name: Flavio, address: Blumenau, age: 60}\n- {id: e48800c6-876e-11ed-a1eb-0242ac120002, name: Eduardo, address: Blumenau, age: 36}\n",
			want:  2,
		},
		{
			name:  "empty document",
			input: "",
			want:  0,
		},
		{
			name:    "unknown field",
			input:   "- {id: 9433e0e6-8768-11ed-a1eb-0242ac120002, name: Flavio, city: Blumenau}\n",
			wantErr: "failed to decode users",
		},
		{
			name:    "missing id",
			input:   "- {name: Flavio, address: Blumenau, age: 60}\n",
			wantErr: "has no id",
		},
		{
			name:    "malformed id",
			input:   "- {id: not-a-uuid, name: Flavio}\n",
			wantErr: "failed to decode users",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			users, err := LoadUsers(strings.NewReader(tt.input))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Len(t, users, tt.want)
		})
	}
}

func TestLoadUsersFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte("- id: cc842e38-df0f-45d1-bbf0-c516863b9f73\n  name: Barbara\n  address: Timbó\n  age: 20\n"), 0o600))

	users, err := LoadUsersFile(path)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, 20, users[0].Age)

	_, err = LoadUsersFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to open seed file")
}

func TestValidateIdentifier(t *testing.T) {
	for _, ok := range []string{"test", "user", "Fixture_01", "a"} {
		assert.NoError(t, ValidateIdentifier(ok), ok)
	}
	for _, bad := range []string{"", "_x", "9a", "a-b", "a.b", "a b", strings.Repeat("a", 49)} {
		assert.Error(t, ValidateIdentifier(bad), bad)
	}
}
