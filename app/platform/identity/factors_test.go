package identity

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"userdesk/app/database"
)

func enrollVerifiedFactor(t *testing.T, svc *Service, accountID uuid.UUID) *database.MFAFactor {
	t.Helper()

	result, err := svc.EnrollFactor(accountID, "factor-owner@example.com")
	require.NoError(t, err)

	// Mark verified directly; consuming a code here would burn the current
	// time step and trip the replay floor in the flow under test.
	require.NoError(t, svc.db.Model(&database.MFAFactor{}).
		Where("id = ?", result.Factor.ID).
		Update("status", database.FactorStatusVerified).Error)

	result.Factor.Status = database.FactorStatusVerified
	return &result.Factor
}

func TestEnrollFactorCleansUpPendingEnrollments(t *testing.T) {
	svc := newTestService(t)

	account, err := svc.CreateAccount("alice@example.com", "password123")
	require.NoError(t, err)

	first, err := svc.EnrollFactor(account.ID, account.Email)
	require.NoError(t, err)

	second, err := svc.EnrollFactor(account.ID, account.Email)
	require.NoError(t, err)
	assert.NotEqual(t, first.Factor.ID, second.Factor.ID)

	factors, err := svc.ListFactors(account.ID)
	require.NoError(t, err)
	require.Len(t, factors, 1)
	assert.Equal(t, second.Factor.ID, factors[0].ID)
	assert.Equal(t, database.FactorStatusUnverified, factors[0].Status)
}

func TestEnrollFactorKeepsVerifiedFactors(t *testing.T) {
	svc := newTestService(t)

	account, err := svc.CreateAccount("alice@example.com", "password123")
	require.NoError(t, err)

	verified := enrollVerifiedFactor(t, svc, account.ID)

	_, err = svc.EnrollFactor(account.ID, account.Email)
	require.NoError(t, err)

	factors, err := svc.ListFactors(account.ID)
	require.NoError(t, err)
	require.Len(t, factors, 2)

	has, err := svc.HasVerifiedTOTP(account.ID)
	require.NoError(t, err)
	assert.True(t, has)

	kept, err := svc.verifiedTOTPFactors(account.ID)
	require.NoError(t, err)
	require.Len(t, kept, 1)
	assert.Equal(t, verified.ID, kept[0].ID)
}

func TestVerifyChallengeMarksFactorVerified(t *testing.T) {
	svc := newTestService(t)

	account, err := svc.CreateAccount("alice@example.com", "password123")
	require.NoError(t, err)

	enrolled, err := svc.EnrollFactor(account.ID, account.Email)
	require.NoError(t, err)

	challenge, err := svc.CreateChallenge(account.ID, enrolled.Factor.ID)
	require.NoError(t, err)

	now := time.Now()
	code := totpCodeFor(t, enrolled.Secret, now)

	factor, err := svc.VerifyChallenge(account.ID, enrolled.Factor.ID, challenge.ID, code, now)
	require.NoError(t, err)
	assert.Equal(t, database.FactorStatusVerified, factor.Status)
	assert.Equal(t, now.Unix()/totpPeriod, factor.LastUsedCounter)

	// The challenge was consumed.
	_, err = svc.VerifyChallenge(account.ID, enrolled.Factor.ID, challenge.ID, code, now)
	assert.ErrorIs(t, err, ErrChallengeInvalid)
}

func TestVerifyChallengeWrongCodeLeavesChallengeOpen(t *testing.T) {
	svc := newTestService(t)

	account, err := svc.CreateAccount("alice@example.com", "password123")
	require.NoError(t, err)

	enrolled, err := svc.EnrollFactor(account.ID, account.Email)
	require.NoError(t, err)

	challenge, err := svc.CreateChallenge(account.ID, enrolled.Factor.ID)
	require.NoError(t, err)

	now := time.Now()

	_, err = svc.VerifyChallenge(account.ID, enrolled.Factor.ID, challenge.ID, wrongCodeFor(t, enrolled.Secret, now), now)
	assert.ErrorIs(t, err, ErrCodeInvalid)

	// Retry with the right code on the same challenge.
	_, err = svc.VerifyChallenge(account.ID, enrolled.Factor.ID, challenge.ID, totpCodeFor(t, enrolled.Secret, now), now)
	assert.NoError(t, err)
}

func TestVerifyChallengeReplayRejected(t *testing.T) {
	svc := newTestService(t)

	account, err := svc.CreateAccount("alice@example.com", "password123")
	require.NoError(t, err)

	enrolled, err := svc.EnrollFactor(account.ID, account.Email)
	require.NoError(t, err)

	now := time.Now()
	code := totpCodeFor(t, enrolled.Secret, now)

	challenge, err := svc.CreateChallenge(account.ID, enrolled.Factor.ID)
	require.NoError(t, err)
	_, err = svc.VerifyChallenge(account.ID, enrolled.Factor.ID, challenge.ID, code, now)
	require.NoError(t, err)

	// The same code through a fresh challenge hits the replay floor.
	challenge, err = svc.CreateChallenge(account.ID, enrolled.Factor.ID)
	require.NoError(t, err)
	_, err = svc.VerifyChallenge(account.ID, enrolled.Factor.ID, challenge.ID, code, now)
	assert.ErrorIs(t, err, ErrCodeReplayed)
}

func TestVerifyChallengeExpired(t *testing.T) {
	svc := newTestService(t)

	account, err := svc.CreateAccount("alice@example.com", "password123")
	require.NoError(t, err)

	enrolled, err := svc.EnrollFactor(account.ID, account.Email)
	require.NoError(t, err)

	challenge, err := svc.CreateChallenge(account.ID, enrolled.Factor.ID)
	require.NoError(t, err)

	late := time.Now().Add(challengeTTL + time.Minute)
	_, err = svc.VerifyChallenge(account.ID, enrolled.Factor.ID, challenge.ID, totpCodeFor(t, enrolled.Secret, late), late)
	assert.ErrorIs(t, err, ErrChallengeExpired)
}

func TestSignInWithMFA(t *testing.T) {
	svc := newTestService(t)

	account, err := svc.CreateAccount("alice@example.com", "password123")
	require.NoError(t, err)
	factor := enrollVerifiedFactor(t, svc, account.ID)

	result, err := svc.SignIn("alice@example.com", "password123")
	require.NoError(t, err)
	assert.True(t, result.MFARequired)
	assert.NotEmpty(t, result.Ticket)
	require.Len(t, result.Factors, 1)
	assert.Nil(t, result.Token)

	challenge, err := svc.CreateChallenge(account.ID, factor.ID)
	require.NoError(t, err)

	var secret string
	require.NoError(t, svc.db.Model(&database.MFAFactor{}).
		Where("id = ?", factor.ID).Pluck("secret", &secret).Error)

	confirmed, err := svc.ConfirmSignInMFA(result.Ticket, factor.ID, challenge.ID, totpCodeFor(t, secret, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, account.ID, confirmed.AccountID)
	require.NotNil(t, confirmed.Token)

	// The ticket is single-use.
	challenge, err = svc.CreateChallenge(account.ID, factor.ID)
	require.NoError(t, err)
	_, err = svc.ConfirmSignInMFA(result.Ticket, factor.ID, challenge.ID, totpCodeFor(t, secret, time.Now()))
	assert.ErrorIs(t, err, ErrTicketInvalid)
}

func TestConfirmSignInMFAAttemptBudget(t *testing.T) {
	svc := newTestService(t)

	account, err := svc.CreateAccount("alice@example.com", "password123")
	require.NoError(t, err)
	factor := enrollVerifiedFactor(t, svc, account.ID)

	result, err := svc.SignIn("alice@example.com", "password123")
	require.NoError(t, err)
	require.True(t, result.MFARequired)

	challenge, err := svc.CreateChallenge(account.ID, factor.ID)
	require.NoError(t, err)

	var secret string
	require.NoError(t, svc.db.Model(&database.MFAFactor{}).
		Where("id = ?", factor.ID).Pluck("secret", &secret).Error)

	wrong := wrongCodeFor(t, secret, time.Now())

	for i := 0; i < maxTicketAttempts-1; i++ {
		_, err = svc.ConfirmSignInMFA(result.Ticket, factor.ID, challenge.ID, wrong)
		assert.ErrorIs(t, err, ErrCodeInvalid)
	}

	_, err = svc.ConfirmSignInMFA(result.Ticket, factor.ID, challenge.ID, wrong)
	assert.ErrorIs(t, err, ErrMFAAttemptsExceeded)

	// The ticket is gone; even the right code cannot finish this sign-in.
	_, err = svc.ConfirmSignInMFA(result.Ticket, factor.ID, challenge.ID, totpCodeFor(t, secret, time.Now()))
	assert.ErrorIs(t, err, ErrTicketInvalid)
}

func TestConfirmSignInMFAForeignFactor(t *testing.T) {
	svc := newTestService(t)

	alice, err := svc.CreateAccount("alice@example.com", "password123")
	require.NoError(t, err)
	enrollVerifiedFactor(t, svc, alice.ID)

	mallory, err := svc.CreateAccount("mallory@example.com", "password123")
	require.NoError(t, err)
	malloryFactor := enrollVerifiedFactor(t, svc, mallory.ID)

	result, err := svc.SignIn("alice@example.com", "password123")
	require.NoError(t, err)
	require.True(t, result.MFARequired)

	challenge, err := svc.CreateChallenge(mallory.ID, malloryFactor.ID)
	require.NoError(t, err)

	var secret string
	require.NoError(t, svc.db.Model(&database.MFAFactor{}).
		Where("id = ?", malloryFactor.ID).Pluck("secret", &secret).Error)

	// A code for someone else's factor cannot finish Alice's sign-in, and
	// the foreign factor's replay floor never moves.
	_, err = svc.ConfirmSignInMFA(result.Ticket, malloryFactor.ID, challenge.ID, totpCodeFor(t, secret, time.Now()))
	assert.ErrorIs(t, err, ErrFactorNotFound)

	var untouched database.MFAFactor
	require.NoError(t, svc.db.First(&untouched, "id = ?", malloryFactor.ID).Error)
	assert.Equal(t, int64(-1), untouched.LastUsedCounter)
}

func TestChallengeScopedToAccount(t *testing.T) {
	svc := newTestService(t)

	alice, err := svc.CreateAccount("alice@example.com", "password123")
	require.NoError(t, err)

	bob, err := svc.CreateAccount("bob@example.com", "password123")
	require.NoError(t, err)

	enrolled, err := svc.EnrollFactor(bob.ID, bob.Email)
	require.NoError(t, err)

	// Alice cannot open a challenge against Bob's pending factor.
	_, err = svc.CreateChallenge(alice.ID, enrolled.Factor.ID)
	assert.ErrorIs(t, err, ErrFactorNotFound)

	// Nor verify it, even with the right code; the factor stays pending.
	challenge, err := svc.CreateChallenge(bob.ID, enrolled.Factor.ID)
	require.NoError(t, err)

	now := time.Now()
	_, err = svc.VerifyChallenge(alice.ID, enrolled.Factor.ID, challenge.ID, totpCodeFor(t, enrolled.Secret, now), now)
	assert.ErrorIs(t, err, ErrFactorNotFound)

	var factor database.MFAFactor
	require.NoError(t, svc.db.First(&factor, "id = ?", enrolled.Factor.ID).Error)
	assert.Equal(t, database.FactorStatusUnverified, factor.Status)
	assert.Equal(t, int64(-1), factor.LastUsedCounter)

	// Bob's own challenge is still open for him.
	_, err = svc.VerifyChallenge(bob.ID, enrolled.Factor.ID, challenge.ID, totpCodeFor(t, enrolled.Secret, now), now)
	assert.NoError(t, err)
}

func TestUnenrollFactor(t *testing.T) {
	svc := newTestService(t)

	account, err := svc.CreateAccount("alice@example.com", "password123")
	require.NoError(t, err)
	factor := enrollVerifiedFactor(t, svc, account.ID)

	other, err := svc.CreateAccount("bob@example.com", "password123")
	require.NoError(t, err)

	// Ownership is enforced.
	err = svc.UnenrollFactor(other.ID, factor.ID)
	assert.ErrorIs(t, err, ErrFactorNotFound)

	require.NoError(t, svc.UnenrollFactor(account.ID, factor.ID))

	has, err := svc.HasVerifiedTOTP(account.ID)
	require.NoError(t, err)
	assert.False(t, has)
}
