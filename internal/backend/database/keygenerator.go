package database

import (
	"github.com/google/uuid"
)

// generateID returns a random (version 4) UUID in its canonical string form.
func generateID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
