package modification

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recipe-modifier/internal/api/middleware"
	"recipe-modifier/internal/core/modification"
	"recipe-modifier/internal/infrastructure/store/memory"
	"recipe-modifier/internal/pkg/common"
)

const recipeBody = `{
  "title": "Pancakes",
  "ingredients": [
    {"quantity": {"metric": {"amount": 200, "unit": "g"}, "imperial": {"amount": 7, "unit": "oz"}}, "unit": "g", "item": "flour"},
    {"quantity": 300, "unit": "ml", "item": "milk"},
    {"quantity": 2, "item": "egg"}
  ],
  "instructions": ["Mix dry ingredients", "Add milk and eggs", "Cook on a hot pan"],
  "unitSystem": "metric"
}`

const veganResponse = `{"textResponse": "Made it vegan.", "changes": {
  "title": "Vegan Pancakes",
  "ingredients": {"mode": "replace", "items": [{"item": "flour"}, {"item": "oat milk"}, {"item": "flax egg"}]}
}}`

type modifierFunc func(ctx context.Context, req modification.ModifyRequest) (string, error)

func (f modifierFunc) Modify(ctx context.Context, req modification.ModifyRequest) (string, error) {
	return f(ctx, req)
}

func respond(raw string) modifierFunc {
	return func(context.Context, modification.ModifyRequest) (string, error) { return raw, nil }
}

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(mod modification.Modifier, keys []string) *gin.Engine {
	reg := modification.NewRegistry(memory.New(), mod, modification.Options{Timeout: time.Second})
	h := NewHandler(reg, Options{DefaultImmediate: true, WaitTimeout: 2 * time.Second})

	r := gin.New()
	r.Use(middleware.APIKeyAuth(keys))
	h.Register(r.Group("/api/v1"))
	return r
}

func call(t *testing.T, r http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func createRecipe(t *testing.T, r http.Handler) string {
	t.Helper()
	w := call(t, r, http.MethodPost, "/api/v1/recipes", recipeBody)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	view := decode[modification.View](t, w)
	require.NotEmpty(t, view.Key)
	return view.Key
}

func TestCreateAndGetRecipe(t *testing.T) {
	r := newTestRouter(respond(veganResponse), nil)
	id := createRecipe(t, r)

	w := call(t, r, http.MethodGet, "/api/v1/recipes/"+id, "")
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `"title":"Pancakes"`)
	assert.Contains(t, body, `"versionNumber":1`)

	w = call(t, r, http.MethodGet, "/api/v1/recipes/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "RECIPE_NOT_FOUND", decode[common.ErrorResponse](t, w).Code)
}

func TestCreateRecipeValidation(t *testing.T) {
	r := newTestRouter(respond(veganResponse), nil)

	w := call(t, r, http.MethodPost, "/api/v1/recipes", `{"title": ""}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = call(t, r, http.MethodPost, "/api/v1/recipes", `{"title": `)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSubmitAndWait(t *testing.T) {
	r := newTestRouter(respond(veganResponse), nil)
	id := createRecipe(t, r)

	w := call(t, r, http.MethodPost, "/api/v1/recipes/"+id+"/modifications?wait=true", `{"request": "make it vegan"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decode[SubmitResponse](t, w)
	assert.True(t, resp.Settled)
	assert.NotEmpty(t, resp.AttemptID)
	assert.Equal(t, modification.StatusIdle, resp.View.Status)
	assert.Equal(t, "Vegan Pancakes", resp.View.Recipe.Title)
	require.Len(t, resp.View.History, 1)
	assert.True(t, resp.View.History[0].Applied)

	w = call(t, r, http.MethodGet, "/api/v1/recipes/"+id+"/versions", "")
	require.Equal(t, http.StatusOK, w.Code)
	versions := decode[VersionsResponse](t, w)
	require.Len(t, versions.Versions, 2)
	assert.Equal(t, 2, versions.Versions[0].VersionNumber)
}

func TestSubmitManualConfirmAndCancel(t *testing.T) {
	r := newTestRouter(respond(veganResponse), nil)
	id := createRecipe(t, r)
	base := "/api/v1/recipes/" + id + "/modifications"

	w := call(t, r, http.MethodPost, base+"/confirm", "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "NOTHING_PENDING", decode[common.ErrorResponse](t, w).Code)

	w = call(t, r, http.MethodPost, base+"?wait=true", `{"request": "make it vegan", "immediate": false}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[SubmitResponse](t, w)
	require.NotNil(t, resp.View.Pending)
	assert.Equal(t, 1, resp.View.Recipe.VersionNumber)

	w = call(t, r, http.MethodPost, base+"/confirm", `{"allowDuplicates": false}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	confirmed := decode[ConfirmResponse](t, w)
	assert.Equal(t, 2, confirmed.Recipe.VersionNumber)
	assert.Nil(t, confirmed.View.Pending)

	w = call(t, r, http.MethodPost, base+"?wait=true", `{"request": "again", "immediate": false}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = call(t, r, http.MethodPost, base+"/cancel", "")
	require.Equal(t, http.StatusOK, w.Code)
	canceled := decode[CancelResponse](t, w)
	assert.True(t, canceled.Canceled)
	assert.Equal(t, modification.StatusCanceled, canceled.View.Status)
	assert.Equal(t, 2, canceled.View.Recipe.VersionNumber)

	w = call(t, r, http.MethodGet, base, "")
	require.Equal(t, http.StatusOK, w.Code)
	view := decode[modification.View](t, w)
	require.Len(t, view.History, 2)
	assert.Equal(t, modification.OutcomeCanceled, view.History[1].Outcome)
}

func TestSubmitWithoutWaitReturnsAccepted(t *testing.T) {
	release := make(chan struct{})
	mod := modifierFunc(func(ctx context.Context, _ modification.ModifyRequest) (string, error) {
		select {
		case <-release:
			return veganResponse, nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	})
	r := newTestRouter(mod, nil)
	id := createRecipe(t, r)
	base := "/api/v1/recipes/" + id + "/modifications"

	w := call(t, r, http.MethodPost, base, `{"request": "make it vegan"}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	resp := decode[SubmitResponse](t, w)
	assert.False(t, resp.Settled)
	assert.Equal(t, modification.StatusLoading, resp.View.Status)

	w = call(t, r, http.MethodPost, base, `{"request": "and spicy"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "MODIFICATION_BUSY", decode[common.ErrorResponse](t, w).Code)

	close(release)
}

func TestSubmitValidation(t *testing.T) {
	r := newTestRouter(respond(veganResponse), nil)
	id := createRecipe(t, r)

	w := call(t, r, http.MethodPost, "/api/v1/recipes/"+id+"/modifications", `{"request": ""}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = call(t, r, http.MethodPost, "/api/v1/recipes/missing/modifications", `{"request": "vegan"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAuthorizationRequired(t *testing.T) {
	r := newTestRouter(respond(veganResponse), []string{"secret"})

	w := call(t, r, http.MethodPost, "/api/v1/recipes", recipeBody)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = call(t, r, http.MethodPost, "/api/v1/recipes", recipeBody, middleware.APIKeyHeader, "secret")
	require.Equal(t, http.StatusCreated, w.Code)
	id := decode[modification.View](t, w).Key

	w = call(t, r, http.MethodPost, "/api/v1/recipes/"+id+"/modifications", `{"request": "make it vegan"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "UNAUTHORIZED", decode[common.ErrorResponse](t, w).Code)

	// 讀取不需授權
	w = call(t, r, http.MethodGet, "/api/v1/recipes/"+id+"/modifications", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[modification.View](t, w).History)
}
