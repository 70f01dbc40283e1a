package bot

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"assignbot/internal/erp"
	"assignbot/internal/service"
)

type fakeWizardGateway struct {
	mu      sync.Mutex
	groups  []string
	uoms    []string
	listErr error
	searchErr error
	createErr error
	created   []erp.ItemDraft

	// createGate, when set, blocks CreateItem until released. Used to race
	// a cancel against a submit in flight.
	createGate chan struct{}
}

func (f *fakeWizardGateway) ListChoices(_ context.Context, _ erp.Credentials, doctype string, start, pageLen int) ([]string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, false, f.listErr
	}
	src := f.groups
	if doctype == doctypeUOM {
		src = f.uoms
	}
	if start >= len(src) {
		return nil, false, nil
	}
	end := start + pageLen
	hasMore := end < len(src)
	if end > len(src) {
		end = len(src)
	}
	return append([]string(nil), src[start:end]...), hasMore, nil
}

func (f *fakeWizardGateway) SearchChoices(_ context.Context, _ erp.Credentials, doctype, query string, limit int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	src := f.groups
	if doctype == doctypeUOM {
		src = f.uoms
	}
	var out []string
	for _, name := range src {
		if strings.Contains(strings.ToLower(name), strings.ToLower(query)) {
			out = append(out, name)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (f *fakeWizardGateway) CreateItem(_ context.Context, _ erp.Credentials, draft erp.ItemDraft) error {
	if f.createGate != nil {
		<-f.createGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.created = append(f.created, draft)
	return nil
}

type fakeAuthorizer struct {
	creds erp.Credentials
	err   error
}

func (f *fakeAuthorizer) ManagerCredential(_ context.Context, _, _ int64) (erp.Credentials, error) {
	if f.err != nil {
		return erp.Credentials{}, f.err
	}
	return f.creds, nil
}

func newTestWizard(gw *fakeWizardGateway, auth *fakeAuthorizer) *Wizard {
	w := NewWizard(gw, auth, time.Hour)
	w.Stop()
	return w
}

func defaultGateway() *fakeWizardGateway {
	return &fakeWizardGateway{
		groups: []string{"All Item Groups", "Consumable", "Products", "Raw Material", "Services", "Sub Assemblies"},
		uoms:   []string{"Box", "Gram", "Hour", "Kg", "Litre", "Meter", "Nos", "Pair", "Set", "Unit"},
	}
}

const (
	testGroupID = int64(-100500)
	testUserID  = int64(77)
)

func TestWizardStartRequiresAuthorization(t *testing.T) {
	gw := defaultGateway()
	w := newTestWizard(gw, &fakeAuthorizer{err: service.ErrNotAuthorizedManager})

	_, err := w.Start(context.Background(), testGroupID, testUserID)
	assert.ErrorIs(t, err, service.ErrNotAuthorizedManager)
	assert.False(t, w.InProgress(testGroupID, testUserID))
}

func TestWizardFullFlow(t *testing.T) {
	gw := defaultGateway()
	w := newTestWizard(gw, &fakeAuthorizer{creds: erp.Credentials{Key: "k", Secret: "s"}})
	ctx := context.Background()

	reply, err := w.Start(ctx, testGroupID, testUserID)
	require.NoError(t, err)
	assert.Equal(t, textWizardCode, reply.Text)

	reply, handled, err := w.HandleText(ctx, testGroupID, testUserID, "ITM-1")
	require.NoError(t, err)
	require.True(t, handled)
	assert.Equal(t, textWizardName, reply.Text)

	reply, handled, err = w.HandleText(ctx, testGroupID, testUserID, "Widget")
	require.NoError(t, err)
	require.True(t, handled)
	assert.Equal(t, textWizardGroup, reply.Text)
	require.NotEmpty(t, reply.Keyboard)

	// "Raw Material" sits at index 3 of the first page.
	reply, err = w.HandlePick(ctx, testGroupID, testUserID, kindGroup, 3)
	require.NoError(t, err)
	assert.Equal(t, textWizardUOM, reply.Text)

	// Narrow the UOM list by search, then pick the only hit.
	reply, err = w.HandleSearch(testGroupID, testUserID)
	require.NoError(t, err)
	assert.Equal(t, textWizardSearch, reply.Text)

	reply, handled, err = w.HandleText(ctx, testGroupID, testUserID, "box")
	require.NoError(t, err)
	require.True(t, handled)
	assert.Equal(t, textWizardUOM, reply.Text)
	require.Len(t, reply.Keyboard[0], 1)
	assert.Equal(t, "Box", reply.Keyboard[0][0].Text)

	reply, err = w.HandlePick(ctx, testGroupID, testUserID, kindUOM, 0)
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "ITM-1")

	require.Len(t, gw.created, 1)
	assert.Equal(t, erp.ItemDraft{Code: "ITM-1", Name: "Widget", Group: "Raw Material", UOM: "Box"}, gw.created[0])

	// The session is gone: further text is no longer consumed.
	assert.False(t, w.InProgress(testGroupID, testUserID))
	_, handled, err = w.HandleText(ctx, testGroupID, testUserID, "anything")
	require.NoError(t, err)
	assert.False(t, handled)
}

func TestWizardRejectsEmptyCodeAndName(t *testing.T) {
	gw := defaultGateway()
	w := newTestWizard(gw, &fakeAuthorizer{})
	ctx := context.Background()

	_, err := w.Start(ctx, testGroupID, testUserID)
	require.NoError(t, err)

	reply, _, err := w.HandleText(ctx, testGroupID, testUserID, "")
	require.NoError(t, err)
	assert.Equal(t, textWizardEmptyCode, reply.Text)

	_, _, err = w.HandleText(ctx, testGroupID, testUserID, "ITM-2")
	require.NoError(t, err)

	reply, _, err = w.HandleText(ctx, testGroupID, testUserID, "")
	require.NoError(t, err)
	assert.Equal(t, textWizardEmptyName, reply.Text)
}

func TestWizardTextDuringChoiceStageRepromptsKeyboard(t *testing.T) {
	gw := defaultGateway()
	w := newTestWizard(gw, &fakeAuthorizer{})
	ctx := context.Background()

	_, err := w.Start(ctx, testGroupID, testUserID)
	require.NoError(t, err)
	_, _, _ = w.HandleText(ctx, testGroupID, testUserID, "ITM-1")
	_, _, _ = w.HandleText(ctx, testGroupID, testUserID, "Widget")

	reply, handled, err := w.HandleText(ctx, testGroupID, testUserID, "Raw Material")
	require.NoError(t, err)
	require.True(t, handled)
	assert.Equal(t, textWizardUseKB, reply.Text)
	assert.NotEmpty(t, reply.Keyboard)
}

func TestWizardRepromptRecoversAfterListFailure(t *testing.T) {
	gw := defaultGateway()
	gw.listErr = erp.ErrUnavailable
	w := newTestWizard(gw, &fakeAuthorizer{})
	ctx := context.Background()

	_, err := w.Start(ctx, testGroupID, testUserID)
	require.NoError(t, err)
	_, _, _ = w.HandleText(ctx, testGroupID, testUserID, "ITM-1")
	_, _, err = w.HandleText(ctx, testGroupID, testUserID, "Widget")
	assert.ErrorIs(t, err, erp.ErrUnavailable)

	gw.mu.Lock()
	gw.listErr = nil
	gw.mu.Unlock()

	// The keyboard was never rendered; a text re-prompt restores the first
	// page rather than offering navigation into a page that was never shown.
	reply, handled, err := w.HandleText(ctx, testGroupID, testUserID, "hello")
	require.NoError(t, err)
	require.True(t, handled)
	assert.Equal(t, textWizardUseKB, reply.Text)
	require.NotEmpty(t, reply.Keyboard)
	assert.Equal(t, "All Item Groups", reply.Keyboard[0][0].Text)

	// The restored page is live: picking from it advances the stage.
	reply, err = w.HandlePick(ctx, testGroupID, testUserID, kindGroup, 3)
	require.NoError(t, err)
	assert.Equal(t, textWizardUOM, reply.Text)
}

func TestWizardStaleKindRejected(t *testing.T) {
	gw := defaultGateway()
	w := newTestWizard(gw, &fakeAuthorizer{})
	ctx := context.Background()

	_, err := w.Start(ctx, testGroupID, testUserID)
	require.NoError(t, err)
	_, _, _ = w.HandleText(ctx, testGroupID, testUserID, "ITM-1")
	_, _, _ = w.HandleText(ctx, testGroupID, testUserID, "Widget")

	// A leftover UOM keyboard must not act while the group stage is current.
	reply, err := w.HandlePick(ctx, testGroupID, testUserID, kindUOM, 0)
	require.NoError(t, err)
	assert.Equal(t, textWizardStale, reply.Text)
	assert.Empty(t, gw.created)

	reply, err = w.HandlePick(ctx, testGroupID, testUserID, kindGroup, 99)
	require.NoError(t, err)
	assert.Equal(t, textWizardStale, reply.Text)
}

func TestWizardPagination(t *testing.T) {
	gw := defaultGateway()
	gw.groups = append(gw.groups, "Extra A", "Extra B")
	w := newTestWizard(gw, &fakeAuthorizer{})
	ctx := context.Background()

	_, err := w.Start(ctx, testGroupID, testUserID)
	require.NoError(t, err)
	_, _, _ = w.HandleText(ctx, testGroupID, testUserID, "ITM-1")
	reply, _, err := w.HandleText(ctx, testGroupID, testUserID, "Widget")
	require.NoError(t, err)

	// Six options in two columns, then a next-page arrow.
	assert.Len(t, reply.Keyboard, 5)
	assert.Equal(t, "»", reply.Keyboard[3][0].Text)

	reply, err = w.HandlePage(ctx, testGroupID, testUserID, kindGroup, 1)
	require.NoError(t, err)
	assert.Equal(t, "Extra A", reply.Keyboard[0][0].Text)
	assert.Equal(t, "«", reply.Keyboard[1][0].Text)

	// Picking from the freshly rendered page resolves against that page.
	reply, err = w.HandlePick(ctx, testGroupID, testUserID, kindGroup, 1)
	require.NoError(t, err)
	assert.Equal(t, textWizardUOM, reply.Text)
}

func TestWizardSearchNoMatchKeepsUOMStage(t *testing.T) {
	gw := defaultGateway()
	w := newTestWizard(gw, &fakeAuthorizer{})
	ctx := context.Background()

	_, err := w.Start(ctx, testGroupID, testUserID)
	require.NoError(t, err)
	_, _, _ = w.HandleText(ctx, testGroupID, testUserID, "ITM-1")
	_, _, _ = w.HandleText(ctx, testGroupID, testUserID, "Widget")
	_, err = w.HandlePick(ctx, testGroupID, testUserID, kindGroup, 0)
	require.NoError(t, err)
	_, err = w.HandleSearch(testGroupID, testUserID)
	require.NoError(t, err)

	reply, handled, err := w.HandleText(ctx, testGroupID, testUserID, "no-such-unit")
	require.NoError(t, err)
	require.True(t, handled)
	assert.Equal(t, textWizardNoMatch, reply.Text)
	assert.NotEmpty(t, reply.Keyboard)

	// Back at the choice stage: picks work again.
	reply, err = w.HandlePick(ctx, testGroupID, testUserID, kindUOM, 0)
	require.NoError(t, err)
	require.Len(t, gw.created, 1)
	assert.Equal(t, "Box", gw.created[0].UOM)
}

func TestWizardCancelFromAnyStage(t *testing.T) {
	gw := defaultGateway()
	w := newTestWizard(gw, &fakeAuthorizer{})
	ctx := context.Background()

	advance := map[string]func(){
		"code": func() {},
		"name": func() {
			_, _, _ = w.HandleText(ctx, testGroupID, testUserID, "ITM-1")
		},
		"group": func() {
			_, _, _ = w.HandleText(ctx, testGroupID, testUserID, "ITM-1")
			_, _, _ = w.HandleText(ctx, testGroupID, testUserID, "Widget")
		},
		"uom": func() {
			_, _, _ = w.HandleText(ctx, testGroupID, testUserID, "ITM-1")
			_, _, _ = w.HandleText(ctx, testGroupID, testUserID, "Widget")
			_, _ = w.HandlePick(ctx, testGroupID, testUserID, kindGroup, 0)
		},
		"search": func() {
			_, _, _ = w.HandleText(ctx, testGroupID, testUserID, "ITM-1")
			_, _, _ = w.HandleText(ctx, testGroupID, testUserID, "Widget")
			_, _ = w.HandlePick(ctx, testGroupID, testUserID, kindGroup, 0)
			_, _ = w.HandleSearch(testGroupID, testUserID)
		},
	}

	for name, setup := range advance {
		t.Run(name, func(t *testing.T) {
			_, err := w.Start(ctx, testGroupID, testUserID)
			require.NoError(t, err)
			setup()

			reply, err := w.Cancel(testGroupID, testUserID)
			require.NoError(t, err)
			assert.Equal(t, textWizardCancelled, reply.Text)
			assert.False(t, w.InProgress(testGroupID, testUserID))
		})
	}

	_, err := w.Cancel(testGroupID, testUserID)
	assert.ErrorIs(t, err, ErrNoActiveSession)
	assert.Empty(t, gw.created)
}

func TestWizardCancelDuringSubmitIsDeferred(t *testing.T) {
	gw := defaultGateway()
	gw.createGate = make(chan struct{})
	w := newTestWizard(gw, &fakeAuthorizer{})
	ctx := context.Background()

	_, err := w.Start(ctx, testGroupID, testUserID)
	require.NoError(t, err)
	_, _, _ = w.HandleText(ctx, testGroupID, testUserID, "ITM-1")
	_, _, _ = w.HandleText(ctx, testGroupID, testUserID, "Widget")
	_, err = w.HandlePick(ctx, testGroupID, testUserID, kindGroup, 0)
	require.NoError(t, err)

	done := make(chan Reply, 1)
	go func() {
		reply, _ := w.HandlePick(ctx, testGroupID, testUserID, kindUOM, 0)
		done <- reply
	}()

	// Wait for the submit to reach the gateway, then cancel mid-flight.
	require.Eventually(t, func() bool {
		sess, ok := w.sessions.Get(sessionKey{Group: testGroupID, User: testUserID})
		if !ok {
			return false
		}
		w.mu.Lock()
		defer w.mu.Unlock()
		return sess.stage == stageSubmitting
	}, 2*time.Second, 5*time.Millisecond)

	reply, err := w.Cancel(testGroupID, testUserID)
	require.NoError(t, err)
	assert.Equal(t, textWizardDeferred, reply.Text)

	close(gw.createGate)
	select {
	case reply = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("submit never finished")
	}

	// The single create call went through; the session ended right after.
	require.Len(t, gw.created, 1)
	assert.Contains(t, reply.Text, "ITM-1")
	assert.False(t, w.InProgress(testGroupID, testUserID))
}

func TestWizardSubmitValidationRejection(t *testing.T) {
	gw := defaultGateway()
	gw.createErr = &erp.ValidationError{Detail: "Item Code is mandatory"}
	w := newTestWizard(gw, &fakeAuthorizer{})
	ctx := context.Background()

	_, err := w.Start(ctx, testGroupID, testUserID)
	require.NoError(t, err)
	_, _, _ = w.HandleText(ctx, testGroupID, testUserID, "ITM-1")
	_, _, _ = w.HandleText(ctx, testGroupID, testUserID, "Widget")
	_, _ = w.HandlePick(ctx, testGroupID, testUserID, kindGroup, 0)

	reply, err := w.HandlePick(ctx, testGroupID, testUserID, kindUOM, 0)
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "Item Code is mandatory")
	assert.False(t, w.InProgress(testGroupID, testUserID))
	assert.Empty(t, gw.created)
}

func TestWizardSubmitOutageEndsSessionWithoutRetry(t *testing.T) {
	gw := defaultGateway()
	gw.createErr = erp.ErrUnavailable
	w := newTestWizard(gw, &fakeAuthorizer{})
	ctx := context.Background()

	_, err := w.Start(ctx, testGroupID, testUserID)
	require.NoError(t, err)
	_, _, _ = w.HandleText(ctx, testGroupID, testUserID, "ITM-1")
	_, _, _ = w.HandleText(ctx, testGroupID, testUserID, "Widget")
	_, _ = w.HandlePick(ctx, testGroupID, testUserID, kindGroup, 0)

	_, err = w.HandlePick(ctx, testGroupID, testUserID, kindUOM, 0)
	assert.ErrorIs(t, err, erp.ErrUnavailable)
	assert.False(t, w.InProgress(testGroupID, testUserID))
	assert.Empty(t, gw.created)
}

func TestWizardRestartDiscardsProgress(t *testing.T) {
	gw := defaultGateway()
	w := newTestWizard(gw, &fakeAuthorizer{})
	ctx := context.Background()

	_, err := w.Start(ctx, testGroupID, testUserID)
	require.NoError(t, err)
	_, _, _ = w.HandleText(ctx, testGroupID, testUserID, "ITM-OLD")
	_, _, _ = w.HandleText(ctx, testGroupID, testUserID, "Old Name")

	// A second /new starts over from the code prompt.
	reply, err := w.Start(ctx, testGroupID, testUserID)
	require.NoError(t, err)
	assert.Equal(t, textWizardCode, reply.Text)

	_, _, _ = w.HandleText(ctx, testGroupID, testUserID, "ITM-NEW")
	_, _, _ = w.HandleText(ctx, testGroupID, testUserID, "New Name")
	_, _ = w.HandlePick(ctx, testGroupID, testUserID, kindGroup, 0)
	_, err = w.HandlePick(ctx, testGroupID, testUserID, kindUOM, 0)
	require.NoError(t, err)

	require.Len(t, gw.created, 1)
	assert.Equal(t, "ITM-NEW", gw.created[0].Code)
}

func TestWizardCancelGroupDropsAllSessions(t *testing.T) {
	gw := defaultGateway()
	w := newTestWizard(gw, &fakeAuthorizer{})
	ctx := context.Background()

	_, err := w.Start(ctx, testGroupID, testUserID)
	require.NoError(t, err)
	_, err = w.Start(ctx, -200, 5)
	require.NoError(t, err)

	w.CancelGroup(testGroupID)
	assert.False(t, w.InProgress(testGroupID, testUserID))
	assert.True(t, w.InProgress(-200, 5))
}

func TestWizardListFailurePropagates(t *testing.T) {
	gw := defaultGateway()
	gw.listErr = erp.ErrUnavailable
	w := newTestWizard(gw, &fakeAuthorizer{})
	ctx := context.Background()

	_, err := w.Start(ctx, testGroupID, testUserID)
	require.NoError(t, err)
	_, _, _ = w.HandleText(ctx, testGroupID, testUserID, "ITM-1")

	_, handled, err := w.HandleText(ctx, testGroupID, testUserID, "Widget")
	assert.True(t, handled)
	assert.ErrorIs(t, err, erp.ErrUnavailable)

	// The session survives a transient listing failure; the name was taken
	// and paging re-attempts the fetch once the gateway recovers.
	assert.True(t, w.InProgress(testGroupID, testUserID))
	gw.mu.Lock()
	gw.listErr = nil
	gw.mu.Unlock()
	reply, err := w.HandlePage(ctx, testGroupID, testUserID, kindGroup, 0)
	require.NoError(t, err)
	assert.Equal(t, textWizardGroup, reply.Text)
	assert.NotEmpty(t, reply.Keyboard)
}
