package commands

import (
	"context"
	"fmt"

	"arenachat/internal/auth"
	"arenachat/internal/config"
	"arenachat/internal/models"
	"arenachat/internal/storage"
)

// MintToken issues a bearer token for an identity and prints it. This is
// the maintenance stand-in for the platform's token endpoint, handy for
// local runs and smoke tests.
func MintToken(ctx context.Context, cfg *config.Config, identityID, displayName string) error {
	if identityID == "" {
		return fmt.Errorf("identity id is required")
	}
	if displayName == "" {
		displayName = identityID
	}

	store, err := storage.NewBboltStorage(cfg.DBFile)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	authService, err := auth.NewService(ctx, auth.Config{TokenExpiry: cfg.TokenExpiry}, store)
	if err != nil {
		return err
	}

	token, err := authService.Mint(models.Identity{ID: identityID, DisplayName: displayName})
	if err != nil {
		return err
	}

	fmt.Printf("identity: %s\ntoken:    %s\nexpires:  %s\n", identityID, token, cfg.TokenExpiry)
	return nil
}
