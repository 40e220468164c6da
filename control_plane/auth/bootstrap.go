package auth

import (
	"context"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/codehub/controlplane/control_plane/store"
)

// BootstrapAdmin upserts the ADMIN_USERNAME/ADMIN_PASSWORD account at
// startup (§6). This is the one password-hashing call the core itself
// makes — user signup/management at large is an external collaborator.
func BootstrapAdmin(ctx context.Context, bootstrap store.AdminBootstrapStore, username, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("auth: hash admin password: %w", err)
	}
	return bootstrap.UpsertAdminUser(ctx, username, string(hash))
}
