// Package apikey mints API keys. Raw keys are returned once; only the
// bcrypt hash and a lookup prefix are stored.
package apikey

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/kiranshivaraju/handhunter/internal/api/middleware"
	"github.com/kiranshivaraju/handhunter/pkg/models"
)

// Prefix marks HandHunter keys.
const Prefix = "hh_"

const secretBytes = 24

// Generate returns a raw key and the record to store for it.
func Generate(userID uuid.UUID, name string, scopes []string) (string, *models.APIKey, error) {
	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", nil, fmt.Errorf("reading random bytes: %w", err)
	}
	raw := Prefix + hex.EncodeToString(buf)

	hash, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return "", nil, fmt.Errorf("hashing key: %w", err)
	}

	if scopes == nil {
		scopes = []string{}
	}
	now := time.Now().UTC()
	return raw, &models.APIKey{
		ID:        uuid.New(),
		UserID:    userID,
		Name:      name,
		KeyHash:   string(hash),
		KeyPrefix: raw[:middleware.KeyPrefixLen],
		Scopes:    scopes,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}
