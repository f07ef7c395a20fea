package shared

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCSRFTokenLifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewCSRFManager("secret")
	sess := &Session{ID: "s1", values: map[string]string{}}

	token, err := m.EnsureToken(ctx, sess)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	again, err := m.EnsureToken(ctx, sess)
	require.NoError(t, err)
	require.Equal(t, token, again)
	require.NoError(t, m.VerifyToken(ctx, sess, token))

	rotated, err := m.RotateToken(ctx, sess)
	require.NoError(t, err)
	require.NotEqual(t, token, rotated)
	require.ErrorIs(t, m.VerifyToken(ctx, sess, token), ErrCSRFTokenMismatch)
	require.NoError(t, m.VerifyToken(ctx, sess, rotated))
}

func TestCSRFVerifyMissing(t *testing.T) {
	ctx := context.Background()
	m := NewCSRFManager("secret")

	require.ErrorIs(t, m.VerifyToken(ctx, nil, "x"), ErrCSRFTokenMissing)
	sess := &Session{ID: "s1"}
	require.ErrorIs(t, m.VerifyToken(ctx, sess, "x"), ErrCSRFTokenMissing)

	_, err := m.EnsureToken(ctx, sess)
	require.NoError(t, err)
	require.ErrorIs(t, m.VerifyToken(ctx, sess, ""), ErrCSRFTokenMissing)

	_, err = m.EnsureToken(ctx, nil)
	require.Error(t, err)
}
