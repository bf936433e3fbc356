package membership

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	issuer := NewTokenIssuer("secret", time.Hour)
	u := &User{ID: uuid.New(), Role: RoleLibrarian}

	token, err := issuer.Issue(u)
	require.NoError(t, err)

	claims, err := issuer.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, u.ID, claims.UserID)
	assert.Equal(t, RoleLibrarian, claims.Role)
}

func TestTokenRejectsOtherSecretAndExpiry(t *testing.T) {
	u := &User{ID: uuid.New(), Role: RoleStudent}

	token, err := NewTokenIssuer("secret", time.Hour).Issue(u)
	require.NoError(t, err)
	_, err = NewTokenIssuer("another", time.Hour).Parse(token)
	assert.Error(t, err)

	expired := NewTokenIssuer("secret", time.Minute)
	expired.now = func() time.Time { return time.Now().Add(-time.Hour) }
	old, err := expired.Issue(u)
	require.NoError(t, err)
	_, err = expired.Principal(old)
	assert.Error(t, err)
}

func TestPasswordHashing(t *testing.T) {
	cred, err := hashPassword("s3cret-pass")
	require.NoError(t, err)

	ok, err := verifyPassword("s3cret-pass", cred)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = verifyPassword("other", cred)
	require.NoError(t, err)
	assert.False(t, ok)

	again, err := hashPassword("s3cret-pass")
	require.NoError(t, err)
	assert.NotEqual(t, cred.Salt, again.Salt, "every hash gets a fresh salt")
}
