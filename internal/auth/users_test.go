package auth

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slimtax/internal/models"
)

func TestSignUpWithoutConfirmation(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	svc := NewService(db, nil, time.Hour)
	ctx := context.Background()

	user, token, err := svc.SignUp(ctx, "  Alice@Example.com ", "secret1")
	require.NoError(t, err)
	assert.Empty(t, token)
	assert.Equal(t, "alice@example.com", user.Email)
	assert.True(t, user.Confirmed)
	assert.Equal(t, models.ProviderEmail, user.Provider)

	signedIn, err := svc.SignIn(ctx, "alice@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, user.ID, signedIn.ID)

	_, err = svc.SignIn(ctx, "alice@example.com", "wrong-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.SignIn(ctx, "nobody@example.com", "secret1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestSignUpValidation(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	svc := NewService(db, nil, time.Hour)
	ctx := context.Background()

	_, _, err := svc.SignUp(ctx, "not-an-email", "secret1")
	assert.ErrorIs(t, err, ErrInvalidEmail)
	_, _, err = svc.SignUp(ctx, "Bob <bob@example.com>", "secret1")
	assert.ErrorIs(t, err, ErrInvalidEmail)
	_, _, err = svc.SignUp(ctx, "bob@example.com", "12345")
	assert.ErrorIs(t, err, ErrWeakPassword)

	_, _, err = svc.SignUp(ctx, "bob@example.com", "secret1")
	require.NoError(t, err)
	_, _, err = svc.SignUp(ctx, "BOB@example.com", "secret2")
	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestSignUpWithConfirmation(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	svc := NewService(db, nil, time.Hour, WithEmailConfirmation(time.Hour))
	ctx := context.Background()
	require.True(t, svc.ConfirmationRequired())

	user, token, err := svc.SignUp(ctx, "carol@example.com", "secret1")
	require.NoError(t, err)
	require.NotEmpty(t, token)
	assert.False(t, user.Confirmed)

	_, err = svc.SignIn(ctx, "carol@example.com", "secret1")
	assert.ErrorIs(t, err, ErrEmailNotConfirmed)

	confirmed, err := svc.ConfirmEmail(ctx, token)
	require.NoError(t, err)
	assert.True(t, confirmed.Confirmed)
	assert.Equal(t, user.ID, confirmed.ID)

	_, err = svc.ConfirmEmail(ctx, token)
	assert.ErrorIs(t, err, ErrInvalidToken, "confirmation tokens are single use")

	_, err = svc.SignIn(ctx, "carol@example.com", "secret1")
	assert.NoError(t, err)
}

func TestConfirmEmailExpired(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	svc := NewService(db, nil, time.Hour, WithEmailConfirmation(time.Hour))
	clock := time.Now().UTC()
	svc.now = func() time.Time { return clock }
	ctx := context.Background()

	_, token, err := svc.SignUp(ctx, "dave@example.com", "secret1")
	require.NoError(t, err)

	clock = clock.Add(2 * time.Hour)
	_, err = svc.ConfirmEmail(ctx, token)
	assert.ErrorIs(t, err, ErrTokenExpired)

	var count int
	require.NoError(t, db.Get(&count, `SELECT COUNT(*) FROM confirmation_tokens WHERE token = ?`, token))
	assert.Zero(t, count)

	_, err = svc.ConfirmEmail(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestUpsertOAuthUser(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	svc := NewService(db, nil, time.Hour, WithEmailConfirmation(time.Hour))
	ctx := context.Background()

	created, err := svc.UpsertOAuthUser(ctx, "Erin@Example.com", models.ProviderGoogle)
	require.NoError(t, err)
	assert.True(t, created.Confirmed)
	assert.Equal(t, models.ProviderGoogle, created.Provider)

	again, err := svc.UpsertOAuthUser(ctx, "erin@example.com", models.ProviderGoogle)
	require.NoError(t, err)
	assert.Equal(t, created.ID, again.ID)

	// OAuth-only accounts have no password to sign in with
	_, err = svc.SignIn(ctx, "erin@example.com", "anything")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	pending, _, err := svc.SignUp(ctx, "frank@example.com", "secret1")
	require.NoError(t, err)
	require.False(t, pending.Confirmed)
	linked, err := svc.UpsertOAuthUser(ctx, "frank@example.com", models.ProviderGoogle)
	require.NoError(t, err)
	assert.Equal(t, pending.ID, linked.ID)
	assert.True(t, linked.Confirmed)
	assert.Empty(t, linked.PasswordHash)
}

func TestOAuthDiscardsPendingPassword(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	svc := NewService(db, nil, time.Hour, WithEmailConfirmation(time.Hour))
	ctx := context.Background()

	// someone registers an address they do not own and never confirms it
	squatter, confirmToken, err := svc.SignUp(ctx, "victim@example.com", "squatter-pw")
	require.NoError(t, err)
	staleSession, err := svc.IssueToken(ctx, squatter.ID)
	require.NoError(t, err)

	owner, err := svc.UpsertOAuthUser(ctx, "victim@example.com", models.ProviderGoogle)
	require.NoError(t, err)
	assert.Equal(t, squatter.ID, owner.ID)
	assert.True(t, owner.Confirmed)

	_, err = svc.SignIn(ctx, "victim@example.com", "squatter-pw")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.ValidateToken(ctx, staleSession)
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = svc.ConfirmEmail(ctx, confirmToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	var hash string
	require.NoError(t, db.Get(&hash, `SELECT password_hash FROM users WHERE id = ?`, owner.ID))
	assert.Empty(t, hash)
}

func TestSignUpAgainAfterConfirmationExpired(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	svc := NewService(db, nil, time.Hour, WithEmailConfirmation(time.Hour))
	clock := time.Now().UTC()
	svc.now = func() time.Time { return clock }
	ctx := context.Background()

	first, firstToken, err := svc.SignUp(ctx, "henry@example.com", "secret1")
	require.NoError(t, err)

	clock = clock.Add(2 * time.Hour)
	n, err := svc.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	again, token, err := svc.SignUp(ctx, "henry@example.com", "secret2")
	require.NoError(t, err)
	require.NotEmpty(t, token)
	assert.NotEqual(t, firstToken, token)
	assert.Equal(t, first.ID, again.ID)
	assert.False(t, again.Confirmed)

	_, err = svc.ConfirmEmail(ctx, token)
	require.NoError(t, err)
	_, err = svc.SignIn(ctx, "henry@example.com", "secret1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.SignIn(ctx, "henry@example.com", "secret2")
	assert.NoError(t, err)
}

func TestSignUpAgainVoidsEarlierConfirmation(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	svc := NewService(db, nil, time.Hour, WithEmailConfirmation(time.Hour))
	ctx := context.Background()

	_, oldToken, err := svc.SignUp(ctx, "ivy@example.com", "secret1")
	require.NoError(t, err)
	_, newToken, err := svc.SignUp(ctx, "ivy@example.com", "secret2")
	require.NoError(t, err)

	_, err = svc.ConfirmEmail(ctx, oldToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = svc.ConfirmEmail(ctx, newToken)
	assert.NoError(t, err)

	// confirmed and provider accounts are never taken over
	_, _, err = svc.SignUp(ctx, "ivy@example.com", "secret3")
	assert.ErrorIs(t, err, ErrEmailTaken)
	_, err = svc.UpsertOAuthUser(ctx, "jack@example.com", models.ProviderGoogle)
	require.NoError(t, err)
	_, _, err = svc.SignUp(ctx, "jack@example.com", "secret1")
	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestConcurrentSignUpSameEmail(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	svc := NewService(db, nil, time.Hour)
	ctx := context.Background()

	const attempts = 8
	errs := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := svc.SignUp(ctx, "race@example.com", "secret1")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var created, taken int
	for err := range errs {
		switch {
		case err == nil:
			created++
		case errors.Is(err, ErrEmailTaken):
			taken++
		default:
			t.Errorf("unexpected sign up error: %v", err)
		}
	}
	assert.Equal(t, 1, created)
	assert.Equal(t, attempts-1, taken)
}

func TestDeleteUser(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	svc := NewService(db, nil, time.Hour)
	ctx := context.Background()

	user, _, err := svc.SignUp(ctx, "gina@example.com", "secret1")
	require.NoError(t, err)
	token, err := svc.IssueToken(ctx, user.ID)
	require.NoError(t, err)

	require.NoError(t, svc.DeleteUser(ctx, user.ID))
	_, err = svc.ValidateToken(ctx, token)
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.ErrorIs(t, svc.DeleteUser(ctx, user.ID), sql.ErrNoRows)
}
