package handlers_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opsmith/cloudbase/internal/api/dto"
	"github.com/opsmith/cloudbase/internal/api/handlers"
	"github.com/opsmith/cloudbase/internal/database/models"
	"github.com/opsmith/cloudbase/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupHistoryTestRouter(t *testing.T) (*chi.Mux, *testutil.TestSetup) {
	ts := testutil.NewTestSetup(t)

	r := chi.NewRouter()
	handler := handlers.NewHistoryHandler(ts.Ledger)
	r.Get("/api/v1/history/{entityType}/{id}", handler.List)

	return r, ts
}

func TestHistoryHandler_List(t *testing.T) {
	router, ts := setupHistoryTestRouter(t)
	ctx := testutil.TestContext(t)

	org := &models.Organisation{Name: "Historied", Slug: "historied-org"}
	v1, err := ts.Registry.Create(ctx, org)
	require.NoError(t, err)
	v2, err := ts.Registry.Update(ctx, models.EntityTypeOrganisation, org.ID, map[string]any{"name": "Renamed"}, v1)
	require.NoError(t, err)

	t.Run("full history newest first", func(t *testing.T) {
		req := testutil.JSONRequest(t, "GET", fmt.Sprintf("/api/v1/history/organisation/%s", org.ID), nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code, "Body: %s", rr.Body.String())

		var resp struct {
			Data       []models.EntityVersion `json:"data"`
			NextCursor uint                   `json:"next_cursor"`
		}
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		require.Len(t, resp.Data, 2)
		assert.Zero(t, resp.NextCursor)

		assert.Equal(t, v2, resp.Data[0].Version)
		assert.Equal(t, models.OperationUpdate, resp.Data[0].Operation)
		require.NotNil(t, resp.Data[0].FromVersion)
		assert.Equal(t, v1, *resp.Data[0].FromVersion)

		assert.Equal(t, v1, resp.Data[1].Version)
		assert.Equal(t, models.OperationCreate, resp.Data[1].Operation)
	})

	t.Run("cursor pagination", func(t *testing.T) {
		req := testutil.JSONRequest(t, "GET", fmt.Sprintf("/api/v1/history/organisation/%s?limit=1", org.ID), nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)

		var first struct {
			Data       []models.EntityVersion `json:"data"`
			NextCursor uint                   `json:"next_cursor"`
		}
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &first))
		require.Len(t, first.Data, 1)
		require.NotZero(t, first.NextCursor)

		req = testutil.JSONRequest(t, "GET",
			fmt.Sprintf("/api/v1/history/organisation/%s?limit=1&cursor=%d", org.ID, first.NextCursor), nil)
		rr = httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		var second struct {
			Data       []models.EntityVersion `json:"data"`
			NextCursor uint                   `json:"next_cursor"`
		}
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &second))
		require.Len(t, second.Data, 1)
		assert.Equal(t, v1, second.Data[0].Version)
	})

	t.Run("unknown entity type", func(t *testing.T) {
		req := testutil.JSONRequest(t, "GET", "/api/v1/history/widget/"+uuid.New().String(), nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("invalid entity id", func(t *testing.T) {
		req := testutil.JSONRequest(t, "GET", "/api/v1/history/organisation/not-a-uuid", nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("entity with no history is empty", func(t *testing.T) {
		req := testutil.JSONRequest(t, "GET", "/api/v1/history/organisation/"+uuid.New().String(), nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)

		var resp dto.CursorResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Empty(t, resp.Data)
	})
}
