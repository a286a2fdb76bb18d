package auth

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/patmn/loanbook/pkg/models"
)

type fakeAdminStore struct {
	admins map[string]*models.Admin
}

func (f *fakeAdminStore) CreateAdmin(admin *models.Admin) error {
	f.admins[admin.Email] = admin
	return nil
}

func (f *fakeAdminStore) FindAdminByEmail(email string) (*models.Admin, error) {
	admin, ok := f.admins[email]
	if !ok {
		return nil, models.ErrAdminNotFound
	}
	return admin, nil
}

func newTestService() (*Service, *fakeAdminStore) {
	store := &fakeAdminStore{admins: make(map[string]*models.Admin)}
	log := logrus.New()
	log.SetOutput(io.Discard)
	return NewService(store, log, "test-secret"), store
}

func TestRegister(t *testing.T) {
	svc, store := newTestService()

	admin, err := svc.Register("ops", "ops@example.com", "s3cretpass")
	require.NoError(t, err)
	assert.Equal(t, "ops", admin.Username)
	assert.NotEqual(t, "s3cretpass", admin.PasswordHash, "password must be hashed")

	stored := store.admins["ops@example.com"]
	require.NotNil(t, stored)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte("s3cretpass")))
}

func TestRegisterValidation(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.Register("", "ops@example.com", "s3cretpass")
	assert.Error(t, err)

	_, err = svc.Register("ops", "", "s3cretpass")
	assert.Error(t, err)

	_, err = svc.Register("ops", "ops@example.com", "short")
	assert.Error(t, err)
}

func TestLogin(t *testing.T) {
	svc, _ := newTestService()
	_, err := svc.Register("ops", "ops@example.com", "s3cretpass")
	require.NoError(t, err)

	token, err := svc.Login("ops@example.com", "s3cretpass")
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	_, err = svc.Login("ops@example.com", "wrongpass")
	assert.Error(t, err)

	_, err = svc.Login("nobody@example.com", "s3cretpass")
	assert.Error(t, err)
}
