package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"assignbot/internal/erp"
	"assignbot/internal/store"
	"assignbot/internal/store/stubs"
)

type fakeGateway struct {
	verifyErr    error
	verifyCalls  int
	customers    map[string]string
	createdNames []string
	reportRows   []map[string]any
	reportErr    error
}

func (g *fakeGateway) VerifyIdentity(context.Context, erp.Credentials) error {
	g.verifyCalls++
	return g.verifyErr
}

func (g *fakeGateway) FindCustomer(_ context.Context, _ erp.Credentials, name string) (string, error) {
	return g.customers[name], nil
}

func (g *fakeGateway) CreateCustomer(_ context.Context, _ erp.Credentials, name, _, _ string) (string, error) {
	g.createdNames = append(g.createdNames, name)
	docname := "CUST-" + name
	if g.customers == nil {
		g.customers = map[string]string{}
	}
	g.customers[name] = docname
	return docname, nil
}

func (g *fakeGateway) QueryReport(context.Context, erp.Credentials, string, []string, int) ([]map[string]any, error) {
	return g.reportRows, g.reportErr
}

const (
	adminID = int64(1)
	groupID = int64(100)
)

func newService(t *testing.T, gw *fakeGateway) (*Assignments, *stubs.Memory) {
	t.Helper()
	mem := stubs.NewMemory()
	svc := New(mem, gw, Config{
		AdminIDs: []int64{adminID},
		Report:   ReportConfig{Resource: "Sales Order", Fields: []string{"name"}, Limit: 5},
		Customer: CustomerConfig{Group: "Commercial", Type: "Company"},
	})
	return svc, mem
}

func startUser(t *testing.T, svc *Assignments, id int64, name string) {
	t.Helper()
	require.NoError(t, svc.RegisterStart(context.Background(), store.User{ID: id, FirstName: name}))
}

func TestRequestAssignment(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t, &fakeGateway{})
	startUser(t, svc, 7, "Alice")

	t.Run("not admin", func(t *testing.T) {
		_, err := svc.RequestAssignment(ctx, 999, groupID, 7, false)
		assert.ErrorIs(t, err, ErrNotAdmin)
	})

	t.Run("candidate never started", func(t *testing.T) {
		_, err := svc.RequestAssignment(ctx, adminID, groupID, 404, false)
		assert.ErrorIs(t, err, ErrCandidateNeverStarted)
	})

	t.Run("happy path", func(t *testing.T) {
		a, err := svc.RequestAssignment(ctx, adminID, groupID, 7, false)
		require.NoError(t, err)
		assert.Equal(t, int64(7), a.UserID)

		st, err := svc.Status(ctx, groupID)
		require.NoError(t, err)
		assert.True(t, st.Assigned)
		assert.Equal(t, int64(7), st.Manager.ID)
		assert.False(t, st.Verified)
	})

	t.Run("second candidate without override", func(t *testing.T) {
		startUser(t, svc, 8, "Bob")
		_, err := svc.RequestAssignment(ctx, adminID, groupID, 8, false)
		assert.ErrorIs(t, err, store.ErrAlreadyAssigned)

		st, err := svc.Status(ctx, groupID)
		require.NoError(t, err)
		assert.Equal(t, int64(7), st.Manager.ID)
	})

	t.Run("override replaces", func(t *testing.T) {
		_, err := svc.RequestAssignment(ctx, adminID, groupID, 8, true)
		require.NoError(t, err)

		st, err := svc.Status(ctx, groupID)
		require.NoError(t, err)
		assert.Equal(t, int64(8), st.Manager.ID)
	})
}

func TestVerifyAndActivate(t *testing.T) {
	ctx := context.Background()

	t.Run("success persists", func(t *testing.T) {
		gw := &fakeGateway{}
		svc, mem := newService(t, gw)
		startUser(t, svc, 7, "Alice")

		require.NoError(t, svc.VerifyAndActivate(ctx, 7, "aaaaaaaaaaaaaaa", "bbbbbbbbbbbbbbb"))
		cred, err := mem.GetCredential(ctx, 7)
		require.NoError(t, err)
		assert.Equal(t, "aaaaaaaaaaaaaaa", cred.APIKey)
		assert.Equal(t, 1, gw.verifyCalls)
	})

	t.Run("rejected never persists", func(t *testing.T) {
		gw := &fakeGateway{verifyErr: erp.ErrUnauthorized}
		svc, mem := newService(t, gw)
		startUser(t, svc, 7, "Alice")

		err := svc.VerifyAndActivate(ctx, 7, "aaaaaaaaaaaaaaa", "bbbbbbbbbbbbbbb")
		assert.ErrorIs(t, err, ErrCredentialRejected)

		_, err = mem.GetCredential(ctx, 7)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("unavailable mutates nothing", func(t *testing.T) {
		gw := &fakeGateway{verifyErr: erp.ErrUnavailable}
		svc, mem := newService(t, gw)
		startUser(t, svc, 7, "Alice")

		err := svc.VerifyAndActivate(ctx, 7, "aaaaaaaaaaaaaaa", "bbbbbbbbbbbbbbb")
		assert.ErrorIs(t, err, erp.ErrUnavailable)

		_, err = mem.GetCredential(ctx, 7)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}

func TestManagerCredential(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t, &fakeGateway{})
	startUser(t, svc, 7, "Alice")
	startUser(t, svc, 8, "Bob")

	_, err := svc.RequestAssignment(ctx, adminID, groupID, 7, false)
	require.NoError(t, err)

	t.Run("not the manager", func(t *testing.T) {
		_, err := svc.ManagerCredential(ctx, groupID, 8)
		assert.ErrorIs(t, err, ErrNotAuthorizedManager)
	})

	t.Run("unassigned group", func(t *testing.T) {
		_, err := svc.ManagerCredential(ctx, 555, 7)
		assert.ErrorIs(t, err, ErrNotAuthorizedManager)
	})

	t.Run("manager without credentials", func(t *testing.T) {
		_, err := svc.ManagerCredential(ctx, groupID, 7)
		assert.ErrorIs(t, err, ErrCredentialsMissing)
	})

	t.Run("verified manager", func(t *testing.T) {
		require.NoError(t, svc.VerifyAndActivate(ctx, 7, "aaaaaaaaaaaaaaa", "bbbbbbbbbbbbbbb"))
		creds, err := svc.ManagerCredential(ctx, groupID, 7)
		require.NoError(t, err)
		assert.Equal(t, "aaaaaaaaaaaaaaa", creds.Key)
	})
}

func TestClearGroup(t *testing.T) {
	ctx := context.Background()
	svc, mem := newService(t, &fakeGateway{})
	startUser(t, svc, 7, "Alice")

	assert.ErrorIs(t, svc.ClearGroup(ctx, 999, groupID), ErrNotAdmin)

	// Clearing an unassigned group is fine.
	require.NoError(t, svc.ClearGroup(ctx, adminID, groupID))

	_, err := svc.RequestAssignment(ctx, adminID, groupID, 7, false)
	require.NoError(t, err)
	require.NoError(t, svc.VerifyAndActivate(ctx, 7, "aaaaaaaaaaaaaaa", "bbbbbbbbbbbbbbb"))

	require.NoError(t, svc.ClearGroup(ctx, adminID, groupID))
	st, err := svc.Status(ctx, groupID)
	require.NoError(t, err)
	assert.False(t, st.Assigned)

	// The manager's credential went with the assignment.
	_, err = mem.GetCredential(ctx, 7)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestEnsureCustomer(t *testing.T) {
	ctx := context.Background()
	gw := &fakeGateway{}
	svc, _ := newService(t, gw)
	startUser(t, svc, 7, "Alice")
	require.NoError(t, svc.TouchGroup(ctx, store.Group{ID: groupID, Title: "Acme Sales"}))

	_, err := svc.RequestAssignment(ctx, adminID, groupID, 7, false)
	require.NoError(t, err)
	require.NoError(t, svc.VerifyAndActivate(ctx, 7, "aaaaaaaaaaaaaaa", "bbbbbbbbbbbbbbb"))

	docname, created, err := svc.EnsureCustomer(ctx, groupID, 7)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "CUST-Acme Sales", docname)
	assert.Equal(t, []string{"Acme Sales"}, gw.createdNames)

	// Second call reuses the recorded linkage without another create.
	again, created, err := svc.EnsureCustomer(ctx, groupID, 7)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, docname, again)
	assert.Len(t, gw.createdNames, 1)
}

func TestEnsureCustomerFindsExisting(t *testing.T) {
	ctx := context.Background()
	gw := &fakeGateway{customers: map[string]string{"Acme Sales": "CUST-0007"}}
	svc, _ := newService(t, gw)
	startUser(t, svc, 7, "Alice")
	require.NoError(t, svc.TouchGroup(ctx, store.Group{ID: groupID, Title: "Acme Sales"}))

	_, err := svc.RequestAssignment(ctx, adminID, groupID, 7, false)
	require.NoError(t, err)
	require.NoError(t, svc.VerifyAndActivate(ctx, 7, "aaaaaaaaaaaaaaa", "bbbbbbbbbbbbbbb"))

	// A customer already present in the ERP is linked, not duplicated.
	docname, created, err := svc.EnsureCustomer(ctx, groupID, 7)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "CUST-0007", docname)
	assert.Empty(t, gw.createdNames)
}

func TestReport(t *testing.T) {
	ctx := context.Background()
	gw := &fakeGateway{reportRows: []map[string]any{{"name": "SO-1"}}}
	svc, _ := newService(t, gw)
	startUser(t, svc, 7, "Alice")

	_, err := svc.Report(ctx, groupID, 7)
	assert.ErrorIs(t, err, ErrNotAuthorizedManager)

	_, err = svc.RequestAssignment(ctx, adminID, groupID, 7, false)
	require.NoError(t, err)

	_, err = svc.Report(ctx, groupID, 7)
	assert.ErrorIs(t, err, ErrCredentialsMissing)

	require.NoError(t, svc.VerifyAndActivate(ctx, 7, "aaaaaaaaaaaaaaa", "bbbbbbbbbbbbbbb"))
	rows, err := svc.Report(ctx, groupID, 7)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "SO-1", rows[0]["name"])
}

func TestStatusForUser(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t, &fakeGateway{})
	startUser(t, svc, 7, "Alice")
	require.NoError(t, svc.TouchGroup(ctx, store.Group{ID: groupID, Title: "Acme Sales"}))

	st, err := svc.StatusForUser(ctx, 7)
	require.NoError(t, err)
	assert.False(t, st.Manages)

	_, err = svc.RequestAssignment(ctx, adminID, groupID, 7, false)
	require.NoError(t, err)

	st, err = svc.StatusForUser(ctx, 7)
	require.NoError(t, err)
	assert.True(t, st.Manages)
	assert.Equal(t, groupID, st.GroupID)
	assert.Equal(t, "Acme Sales", st.GroupTitle)
	assert.False(t, st.Verified)
}
