package service

import (
	"context"
	"errors"
	"fmt"

	"filedrop/internal/server/database"

	"golang.org/x/crypto/bcrypt"
)

// ErrStoredPasswordMismatch means the settings row was written for a
// different shared password than the one currently configured.
var ErrStoredPasswordMismatch = errors.New("stored upload password hash does not match configured password")

// SettingsRepository persists the hashed shared password.
type SettingsRepository interface {
	GetSettings(ctx context.Context) (*database.Settings, error)
	UpsertSettings(ctx context.Context, passwordHash string) error
}

// InitPassword hashes the configured shared password and stores it in the
// settings row, replacing any previous hash.
func InitPassword(ctx context.Context, repo SettingsRepository, password string) error {
	if password == "" {
		return fmt.Errorf("%w: UPLOAD_PASSWORD is not set", ErrConfig)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	if err := repo.UpsertSettings(ctx, string(hash)); err != nil {
		return fmt.Errorf("%w: %w", ErrStorage, err)
	}
	return nil
}

// CheckStoredPassword compares the configured password with the stored hash.
// A deployment without a settings row passes; requests are always checked
// against the configured password.
func CheckStoredPassword(ctx context.Context, repo SettingsRepository, password string) error {
	settings, err := repo.GetSettings(ctx)
	if err != nil {
		if errors.Is(err, database.ErrSettingsNotFound) {
			return nil
		}
		return fmt.Errorf("%w: %w", ErrStorage, err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(settings.PasswordHash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrStoredPasswordMismatch
		}
		return fmt.Errorf("invalid stored password hash: %w", err)
	}
	return nil
}
