package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type fakeAdminStore struct {
	username string
	hash     string
}

func (f *fakeAdminStore) UpsertAdminUser(ctx context.Context, username string, bcryptHash string) error {
	f.username = username
	f.hash = bcryptHash
	return nil
}

func TestBootstrapAdminHashesPassword(t *testing.T) {
	store := &fakeAdminStore{}
	err := BootstrapAdmin(context.Background(), store, "admin", "qwer1234")
	require.NoError(t, err)
	require.Equal(t, "admin", store.username)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(store.hash), []byte("qwer1234")))
}
