package service

import (
	"testing"

	"github.com/cumulusfs/cumulus/pkg/apperr"
	"github.com/cumulusfs/cumulus/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndLogin(t *testing.T) {
	e := newTestEnv(t)

	user, err := e.users.Register("alice", "alice@example.com", "password-1")
	require.NoError(t, err)
	assert.NotEqual(t, "password-1", user.Password)

	token, logged, err := e.users.Login("alice@example.com", "password-1")
	require.NoError(t, err)
	assert.Equal(t, user.ID, logged.ID)

	claims, err := utils.ParseToken(token, "test-secret")
	require.NoError(t, err)
	assert.Equal(t, user.ID.String(), claims.UserID)
}

func TestRegisterDuplicateEmailConflicts(t *testing.T) {
	e := newTestEnv(t)
	_, err := e.users.Register("alice", "alice@example.com", "password-1")
	require.NoError(t, err)

	_, err = e.users.Register("alice2", "alice@example.com", "password-2")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindConflict))
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	e := newTestEnv(t)
	_, err := e.users.Register("alice", "alice@example.com", "password-1")
	require.NoError(t, err)

	_, _, err = e.users.Login("alice@example.com", "wrong")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized))

	_, _, err = e.users.Login("nobody@example.com", "password-1")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized))
}

func TestSearchUsers(t *testing.T) {
	e := newTestEnv(t)
	e.registerUser(t, "alice")
	e.registerUser(t, "alicia")
	e.registerUser(t, "bob")

	users, err := e.users.Search("ali")
	require.NoError(t, err)
	assert.Len(t, users, 2)

	users, err = e.users.Search("")
	require.NoError(t, err)
	assert.Empty(t, users)
}
