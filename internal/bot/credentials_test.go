package bot

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"assignbot/internal/erp"
	"assignbot/internal/service"
)

type fakeVerifier struct {
	verifyErr error
	resetErr  error

	verified [][2]string
	resets   []int64
}

func (f *fakeVerifier) VerifyAndActivate(_ context.Context, _ int64, key, secret string) error {
	if f.verifyErr != nil {
		return f.verifyErr
	}
	f.verified = append(f.verified, [2]string{key, secret})
	return nil
}

func (f *fakeVerifier) ResetCredentials(_ context.Context, userID int64) error {
	if f.resetErr != nil {
		return f.resetErr
	}
	f.resets = append(f.resets, userID)
	return nil
}

func newDialog(v Verifier) *CredentialDialog {
	d := NewCredentialDialog(v, time.Hour)
	d.Stop()
	return d
}

const (
	testKey    = "0123456789abcde"
	testSecret = "fedcba9876543210"
)

func TestCredentialDialogHappyPath(t *testing.T) {
	v := &fakeVerifier{}
	d := newDialog(v)
	ctx := context.Background()

	reply := d.Prompt(42)
	assert.Equal(t, textAskAPIKey, reply.Text)
	assert.True(t, d.InProgress(42))

	reply, outcome, handled, err := d.HandleText(ctx, 42, testKey)
	require.NoError(t, err)
	require.True(t, handled)
	assert.Equal(t, CredContinue, outcome)
	assert.Equal(t, textAskAPISecret, reply.Text)

	reply, outcome, handled, err = d.HandleText(ctx, 42, testSecret)
	require.NoError(t, err)
	require.True(t, handled)
	assert.Equal(t, CredVerified, outcome)
	assert.Equal(t, textCredsVerified, reply.Text)
	assert.False(t, d.InProgress(42))

	require.Len(t, v.verified, 1)
	assert.Equal(t, testKey, v.verified[0][0])
	assert.Equal(t, testSecret, v.verified[0][1])
}

func TestCredentialDialogValidatesShapes(t *testing.T) {
	v := &fakeVerifier{}
	d := newDialog(v)
	ctx := context.Background()
	d.Prompt(1)

	for _, bad := range []string{"", "short", "0123456789abcdeX", "0123456789abcdef0"} {
		reply, _, handled, err := d.HandleText(ctx, 1, bad)
		require.NoError(t, err)
		require.True(t, handled)
		assert.Equal(t, textBadAPIKey, reply.Text)
	}

	_, _, _, err := d.HandleText(ctx, 1, testKey)
	require.NoError(t, err)

	for _, bad := range []string{"", "zzzz", "0123456789abcdef01"} {
		reply, _, handled, err := d.HandleText(ctx, 1, bad)
		require.NoError(t, err)
		require.True(t, handled)
		assert.Equal(t, textBadAPISecret, reply.Text)
	}

	// 15-char secret is also acceptable.
	reply, _, _, err := d.HandleText(ctx, 1, "abcdefabcdefabc")
	require.NoError(t, err)
	assert.Equal(t, textCredsVerified, reply.Text)
}

func TestCredentialDialogRejectedEndsDialog(t *testing.T) {
	v := &fakeVerifier{verifyErr: service.ErrCredentialRejected}
	d := newDialog(v)
	ctx := context.Background()
	d.Prompt(2)

	_, _, _, err := d.HandleText(ctx, 2, testKey)
	require.NoError(t, err)
	reply, outcome, handled, err := d.HandleText(ctx, 2, testSecret)
	require.NoError(t, err)
	require.True(t, handled)
	assert.Equal(t, CredRejected, outcome)
	assert.Equal(t, textCredsRejected, reply.Text)
	assert.False(t, d.InProgress(2))
	assert.Empty(t, v.verified)
}

func TestCredentialDialogOutageKeepsDialog(t *testing.T) {
	v := &fakeVerifier{verifyErr: erp.ErrUnavailable}
	d := newDialog(v)
	ctx := context.Background()
	d.Prompt(3)

	_, _, _, err := d.HandleText(ctx, 3, testKey)
	require.NoError(t, err)
	reply, outcome, _, err := d.HandleText(ctx, 3, testSecret)
	require.NoError(t, err)
	assert.Equal(t, CredContinue, outcome)
	assert.Equal(t, textGatewayDown, reply.Text)

	// Once the gateway recovers, resending the secret completes the dialog.
	require.True(t, d.InProgress(3))
	v.verifyErr = nil
	reply, outcome, _, err = d.HandleText(ctx, 3, testSecret)
	require.NoError(t, err)
	assert.Equal(t, CredVerified, outcome)
	assert.Equal(t, textCredsVerified, reply.Text)
}

func TestCredentialDialogUnexpectedErrorPropagates(t *testing.T) {
	boom := errors.New("boom")
	v := &fakeVerifier{verifyErr: boom}
	d := newDialog(v)
	ctx := context.Background()
	d.Prompt(4)

	_, _, _, err := d.HandleText(ctx, 4, testKey)
	require.NoError(t, err)
	_, _, handled, err := d.HandleText(ctx, 4, testSecret)
	assert.True(t, handled)
	assert.ErrorIs(t, err, boom)
	assert.False(t, d.InProgress(4))
}

func TestCredentialDialogResetClearsAndRestarts(t *testing.T) {
	v := &fakeVerifier{}
	d := newDialog(v)
	ctx := context.Background()

	reply, err := d.Reset(ctx, 9)
	require.NoError(t, err)
	assert.Contains(t, reply.Text, textCredsReset)
	assert.Contains(t, reply.Text, textAskAPIKey)
	assert.Equal(t, []int64{9}, v.resets)
	assert.True(t, d.InProgress(9))
}

func TestCredentialDialogNoSessionIgnoresText(t *testing.T) {
	d := newDialog(&fakeVerifier{})
	_, _, handled, err := d.HandleText(context.Background(), 99, testKey)
	require.NoError(t, err)
	assert.False(t, handled)
}
