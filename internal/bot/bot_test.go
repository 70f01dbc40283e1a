package bot

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tele "gopkg.in/telebot.v4"

	"assignbot/internal/erp"
	"assignbot/internal/service"
	"assignbot/internal/store"
	"assignbot/internal/store/stubs"
)

func TestUserTextMapping(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{service.ErrNotAdmin, textNotAdmin},
		{service.ErrNotAuthorizedManager, textNotManager},
		{service.ErrCredentialsMissing, textNeedCredentials},
		{service.ErrCandidateNeverStarted, textCandidateGone},
		{service.ErrCredentialRejected, textCredsRejected},
		{erp.ErrUnavailable, textGatewayDown},
		{ErrNoActiveSession, textWizardNothing},
		{errors.New("db exploded"), textTryAgain},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, userText(tc.err))
	}

	// Wrapped errors still map.
	assert.Equal(t, textGatewayDown, userText(fmt.Errorf("report: %w", erp.ErrUnavailable)))

	verr := &erp.ValidationError{Detail: "UOM is mandatory"}
	assert.Contains(t, userText(verr), "UOM is mandatory")
}

func TestFormatReportRow(t *testing.T) {
	fields := []string{"name", "customer", "grand_total", "status"}

	row := map[string]any{
		"name":        "SAL-ORD-0001",
		"customer":    "Acme",
		"grand_total": 1250.5,
		"status":      "To Deliver",
	}
	assert.Equal(t, "SAL-ORD-0001 | Acme | 1250.5 | To Deliver", formatReportRow(row, fields))

	// Missing and empty columns are skipped, order follows configuration.
	row = map[string]any{"status": "Draft", "name": "SAL-ORD-0002", "customer": ""}
	assert.Equal(t, "SAL-ORD-0002 | Draft", formatReportRow(row, fields))

	assert.Equal(t, "—", formatReportRow(map[string]any{}, fields))
}

type fakeServiceGateway struct{}

func (fakeServiceGateway) VerifyIdentity(context.Context, erp.Credentials) error { return nil }
func (fakeServiceGateway) FindCustomer(context.Context, erp.Credentials, string) (string, error) {
	return "", nil
}
func (fakeServiceGateway) CreateCustomer(_ context.Context, _ erp.Credentials, name, _, _ string) (string, error) {
	return "CUST-" + name, nil
}
func (fakeServiceGateway) QueryReport(context.Context, erp.Credentials, string, []string, int) ([]map[string]any, error) {
	return nil, nil
}

func TestManagerGroupResolution(t *testing.T) {
	ctx := context.Background()
	svc := service.New(stubs.NewMemory(), fakeServiceGateway{}, service.Config{AdminIDs: []int64{1}})
	b := New(svc, defaultGateway(), Options{})
	defer b.Stop()

	require.NoError(t, svc.RegisterStart(ctx, store.User{ID: 7, FirstName: "Alice"}))

	// No assignment yet: nothing to notify.
	_, ok := b.managerGroup(ctx, 7)
	assert.False(t, ok)

	_, err := svc.RequestAssignment(ctx, 1, testGroupID, 7, false)
	require.NoError(t, err)

	gid, ok := b.managerGroup(ctx, 7)
	assert.True(t, ok)
	assert.Equal(t, testGroupID, gid)
}

func TestCredNoticeText(t *testing.T) {
	assert.Equal(t, fmt.Sprintf(textGroupCredsVerifiedFmt, "Alice"), credNoticeText(CredVerified, "Alice"))
	assert.Equal(t, fmt.Sprintf(textGroupCredsRejectedFmt, "Alice"), credNoticeText(CredRejected, "Alice"))
}

func TestWrongChatText(t *testing.T) {
	assert.Equal(t, textGroupOnly, wrongChatText(&tele.Chat{Type: tele.ChatPrivate}))
	assert.Equal(t, textGroupOnly, wrongChatText(nil))
	assert.Equal(t, textPrivateOnly, wrongChatText(&tele.Chat{Type: tele.ChatGroup}))
	assert.Equal(t, textPrivateOnly, wrongChatText(&tele.Chat{Type: tele.ChatSuperGroup}))
}

func TestOptionsDefaults(t *testing.T) {
	var o Options
	o.defaults()
	assert.Positive(t, o.WizardTTL)
	assert.Positive(t, o.DialogTTL)
	assert.Positive(t, o.CandidateLimit)

	o = Options{CandidateLimit: 5}
	o.defaults()
	assert.Equal(t, 5, o.CandidateLimit)
}
