package session

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filehaven/filehaven/pkg/identity"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func testAuthority(t *testing.T) (*Authority, *identity.User) {
	t.Helper()
	reg, err := identity.Load(identity.LoadOptions{
		FileRoot:      t.TempDir(),
		AdminPassword: "pw",
	})
	require.NoError(t, err)

	auth, err := New(Config{Secret: testSecret}, reg)
	require.NoError(t, err)
	return auth, reg.Lookup("admin")
}

func TestIssueVerifyRoundTrip(t *testing.T) {
	auth, admin := testAuthority(t)

	token, sess, err := auth.Issue(admin)
	require.NoError(t, err)
	assert.NotEmpty(t, sess.Nonce)

	got, err := auth.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, admin, got.User)
	assert.Equal(t, sess.Nonce, got.Nonce)
	assert.WithinDuration(t, time.Now().Add(8*time.Hour), got.ExpiresAt, time.Minute)
}

func TestReissueKeepsNonce(t *testing.T) {
	auth, admin := testAuthority(t)

	_, sess, err := auth.Issue(admin)
	require.NoError(t, err)

	token, rotated, err := auth.Reissue(sess)
	require.NoError(t, err)
	assert.Equal(t, sess.Nonce, rotated.Nonce)

	got, err := auth.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, sess.Nonce, got.Nonce)
	assert.Equal(t, admin, got.User)
}

func TestVerifyRejectsTampering(t *testing.T) {
	auth, admin := testAuthority(t)
	token, _, err := auth.Issue(admin)
	require.NoError(t, err)

	// Flip a single character anywhere in the token.
	for _, i := range []int{0, len(token) / 2, len(token) - 1} {
		mutated := []byte(token)
		if mutated[i] == 'A' {
			mutated[i] = 'B'
		} else {
			mutated[i] = 'A'
		}
		_, err := auth.Verify(string(mutated))
		assert.ErrorIs(t, err, ErrUnauthorized, "mutation at %d", i)
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	auth, _ := testAuthority(t)

	for _, token := range []string{
		"", ".", "..", "abc", "abc.def", "abc.def.ghi",
		"!!!.###", strings.Repeat("A", 512),
	} {
		_, err := auth.Verify(token)
		assert.ErrorIs(t, err, ErrUnauthorized, "token %q", token)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	auth, admin := testAuthority(t)
	token, _, err := auth.Issue(admin)
	require.NoError(t, err)

	reg, err := identity.Load(identity.LoadOptions{FileRoot: t.TempDir(), AdminPassword: "pw"})
	require.NoError(t, err)
	other, err := New(Config{Secret: "ffffffffffffffffffffffffffffffff"}, reg)
	require.NoError(t, err)

	_, err = other.Verify(token)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestExpiryAndRotation(t *testing.T) {
	auth, admin := testAuthority(t)

	t0 := time.Now()
	auth.now = func() time.Time { return t0 }

	token, _, err := auth.Issue(admin)
	require.NoError(t, err)

	// At T0+7h40m the token is valid and inside the rotation window.
	auth.now = func() time.Time { return t0.Add(7*time.Hour + 40*time.Minute) }
	sess, err := auth.Verify(token)
	require.NoError(t, err)
	assert.True(t, auth.ShouldRotate(sess))

	// A rotated token issued now is valid well past the original expiry.
	rotated, _, err := auth.Issue(admin)
	require.NoError(t, err)
	auth.now = func() time.Time { return t0.Add(15 * time.Hour) }
	_, err = auth.Verify(rotated)
	assert.NoError(t, err)

	// The original expires at T0+8h.
	auth.now = func() time.Time { return t0.Add(8*time.Hour + time.Second) }
	_, err = auth.Verify(token)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestRotationThreshold(t *testing.T) {
	auth, admin := testAuthority(t)
	t0 := time.Now()
	auth.now = func() time.Time { return t0 }

	_, sess, err := auth.Issue(admin)
	require.NoError(t, err)

	auth.now = func() time.Time { return t0.Add(7 * time.Hour) }
	assert.False(t, auth.ShouldRotate(sess), "90 minutes remaining, outside window")

	auth.now = func() time.Time { return t0.Add(7*time.Hour + 30*time.Minute) }
	assert.True(t, auth.ShouldRotate(sess), "exactly 30 minutes remaining")
}

func TestShortSecretRejected(t *testing.T) {
	_, err := New(Config{Secret: "short"}, nil)
	assert.ErrorIs(t, err, ErrInvalidSecretLength)
}
