package erp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testCreds = Credentials{Key: "aaaaaaaaaaaaaaa", Secret: "bbbbbbbbbbbbbbb"}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL, TimeoutSeconds: 2})
}

func TestVerifyIdentity(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"ok", http.StatusOK, nil},
		{"unauthorized", http.StatusUnauthorized, ErrUnauthorized},
		{"forbidden", http.StatusForbidden, ErrUnauthorized},
		{"server error", http.StatusInternalServerError, ErrUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotAuth string
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				gotAuth = r.Header.Get("Authorization")
				assert.Equal(t, verifyPath, r.URL.Path)
				w.WriteHeader(tt.status)
			})

			err := client.VerifyIdentity(context.Background(), testCreds)
			if tt.want == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.want)
			}
			assert.Equal(t, "token aaaaaaaaaaaaaaa:bbbbbbbbbbbbbbb", gotAuth)
		})
	}
}

func TestVerifyIdentityUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()
	client := New(Config{BaseURL: srv.URL, TimeoutSeconds: 1})

	err := client.VerifyIdentity(context.Background(), testCreds)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestListChoicesPagination(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/resource/UOM", r.URL.Path)
		assert.Equal(t, "0", r.URL.Query().Get("limit_start"))
		// One extra row requested to detect the next page.
		assert.Equal(t, "7", r.URL.Query().Get("limit_page_length"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]string{
				{"name": "Unit"}, {"name": "Box"}, {"name": "Kg"},
				{"name": "Litre"}, {"name": "Metre"}, {"name": "Pair"},
				{"name": "Set"},
			},
		})
	})

	names, hasMore, err := client.ListChoices(context.Background(), testCreds, "UOM", 0, 6)
	require.NoError(t, err)
	assert.Len(t, names, 6)
	assert.True(t, hasMore)
	assert.Equal(t, "Unit", names[0])
}

func TestListChoicesLastPage(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]string{{"name": "Unit"}, {"name": "Box"}},
		})
	})

	names, hasMore, err := client.ListChoices(context.Background(), testCreds, "UOM", 6, 6)
	require.NoError(t, err)
	assert.Equal(t, []string{"Unit", "Box"}, names)
	assert.False(t, hasMore)
}

func TestSearchChoices(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var filters [][]string
		require.NoError(t, json.Unmarshal([]byte(r.URL.Query().Get("filters")), &filters))
		require.Len(t, filters, 1)
		assert.Equal(t, []string{"name", "like", "%box%"}, filters[0])
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]string{{"name": "Box"}},
		})
	})

	names, err := client.SearchChoices(context.Background(), testCreds, "UOM", "box", 20)
	require.NoError(t, err)
	assert.Equal(t, []string{"Box"}, names)
}

func TestCreateItemOutcomes(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		var body map[string]string
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/api/resource/Item", r.URL.Path)
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]string{"name": "ITM-1"}})
		})

		err := client.CreateItem(context.Background(), testCreds, ItemDraft{
			Code: "ITM-1", Name: "Widget", Group: "Raw Material", UOM: "Box",
		})
		require.NoError(t, err)
		assert.Equal(t, "ITM-1", body["item_code"])
		assert.Equal(t, "Widget", body["item_name"])
		assert.Equal(t, "Raw Material", body["item_group"])
		assert.Equal(t, "Box", body["stock_uom"])
	})

	t.Run("validation error carries server detail", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusConflict)
			_ = json.NewEncoder(w).Encode(map[string]string{"message": "Duplicate entry Item ITM-1"})
		})

		err := client.CreateItem(context.Background(), testCreds, ItemDraft{Code: "ITM-1"})
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "Duplicate entry Item ITM-1", verr.Detail)
	})

	t.Run("server error is unavailable", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		})

		err := client.CreateItem(context.Background(), testCreds, ItemDraft{Code: "ITM-1"})
		assert.ErrorIs(t, err, ErrUnavailable)
	})

	t.Run("unauthorized", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		})

		err := client.CreateItem(context.Background(), testCreds, ItemDraft{Code: "ITM-1"})
		assert.ErrorIs(t, err, ErrUnauthorized)
	})
}

func TestFindCustomer(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"data": []map[string]string{{"name": "CUST-0007"}},
			})
		})
		name, err := client.FindCustomer(context.Background(), testCreds, "Acme Group")
		require.NoError(t, err)
		assert.Equal(t, "CUST-0007", name)
	})

	t.Run("absent", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]any{"data": []map[string]string{}})
		})
		name, err := client.FindCustomer(context.Background(), testCreds, "Acme Group")
		require.NoError(t, err)
		assert.Empty(t, name)
	})
}

func TestCreateCustomer(t *testing.T) {
	var body map[string]string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/resource/Customer", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]string{"name": "CUST-0042"}})
	})

	name, err := client.CreateCustomer(context.Background(), testCreds, "Acme Group", "Commercial", "Company")
	require.NoError(t, err)
	assert.Equal(t, "CUST-0042", name)
	assert.Equal(t, "Acme Group", body["customer_name"])
	assert.Equal(t, "Commercial", body["customer_group"])
	assert.Equal(t, "Company", body["customer_type"])
}

func TestQueryReport(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/resource/Sales Order", r.URL.Path)
		assert.Equal(t, "5", r.URL.Query().Get("limit_page_length"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"name": "SO-1", "grand_total": 100.5},
				{"name": "SO-2", "grand_total": 42.0},
			},
		})
	})

	rows, err := client.QueryReport(context.Background(), testCreds, "Sales Order", []string{"name", "grand_total"}, 5)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "SO-1", rows[0]["name"])
}

func TestServerDetailFallbacks(t *testing.T) {
	assert.Equal(t, "plain text", serverDetail([]byte("plain text")))
	assert.Equal(t, "DuplicateEntryError", serverDetail([]byte(`{"exc_type":"DuplicateEntryError"}`)))

	serverMessages := `{"_server_messages":"[\"{\\\"message\\\": \\\"Item Code required\\\"}\"]"}`
	assert.Equal(t, "Item Code required", serverDetail([]byte(serverMessages)))
}
