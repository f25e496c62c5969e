package schema

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

//go:embed users.yaml
var defaultSeed []byte

// LoadUsers decodes a YAML list of users. Every row needs a well-formed id.
func LoadUsers(r io.Reader) ([]User, error) {
	var users []User
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&users); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to decode users: %w", err)
	}
	for i, u := range users {
		if u.ID == uuid.Nil {
			return nil, fmt.Errorf("user %d (%q) has no id", i, u.Name)
		}
	}
	return users, nil
}

// LoadUsersFile reads users from a YAML file.
func LoadUsersFile(path string) ([]User, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open seed file: %w", err)
	}
	defer func() { _ = f.Close() }()
	return LoadUsers(f)
}

// DefaultUsers returns the four built-in rows.
func DefaultUsers() []User {
	users, err := LoadUsers(bytes.NewReader(defaultSeed))
	if err != nil {
		panic("schema: embedded seed is invalid: " + err.Error())
	}
	return users
}
