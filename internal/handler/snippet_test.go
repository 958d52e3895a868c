package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/snippet-vault/internal/apperror"
	"github.com/sakif/snippet-vault/internal/auth"
	"github.com/sakif/snippet-vault/internal/cache"
	"github.com/sakif/snippet-vault/internal/handler"
	"github.com/sakif/snippet-vault/internal/model"
	"github.com/sakif/snippet-vault/internal/repository"
	"github.com/sakif/snippet-vault/internal/repository/memory"
	"github.com/sakif/snippet-vault/internal/service"
)

const testOwner = "owner-1"

var discard = slog.New(slog.DiscardHandler)

// asOwner stands in for RequireAuth: every request is signed in as owner.
func asOwner(owner string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(auth.WithOwner(r.Context(), owner)))
		})
	}
}

func newSnippetRouter(t *testing.T, store repository.SnippetStore, owner string) http.Handler {
	t.Helper()
	svc := service.NewSnippetService(store, cache.New(store), discard)
	h := handler.NewSnippetHandler(svc, discard)

	r := chi.NewRouter()
	r.Get("/api/languages", handler.HandleLanguages)
	r.Route("/api/snippets", func(r chi.Router) {
		if owner != "" {
			r.Use(asOwner(owner))
		}
		h.Routes(r)
	})
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&v), "body: %s", rr.Body.String())
	return v
}

func createSnippet(t *testing.T, h http.Handler, body string) model.Snippet {
	t.Helper()
	rr := do(t, h, http.MethodPost, "/api/snippets", body)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	return decode[model.Snippet](t, rr)
}

type listBody struct {
	Snippets     []model.Snippet `json:"snippets"`
	Count        int             `json:"count"`
	Total        int             `json:"total"`
	RefreshError string          `json:"refreshError"`
}

func TestSnippetHandler_CreateThenList(t *testing.T) {
	h := newSnippetRouter(t, memory.New(nil), testOwner)

	created := createSnippet(t, h, `{"title":"  Hello ","code":"print('hi')","language":"Python","tags":["Demo","demo"]}`)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "Hello", created.Title)
	assert.Equal(t, model.LanguagePython, created.Language)
	assert.Equal(t, []string{"demo"}, created.Tags)
	assert.Equal(t, testOwner, created.Owner)

	createSnippet(t, h, `{"title":"useFetch","code":"const x = 1","language":"javascript"}`)

	rr := do(t, h, http.MethodGet, "/api/snippets?q=hello", "")
	require.Equal(t, http.StatusOK, rr.Code)
	body := decode[listBody](t, rr)
	assert.Equal(t, 1, body.Count)
	assert.Equal(t, 2, body.Total)
	require.Len(t, body.Snippets, 1)
	assert.Equal(t, created.ID, body.Snippets[0].ID)
	assert.Empty(t, body.RefreshError)

	rr = do(t, h, http.MethodGet, "/api/snippets?language=javascript", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 1, decode[listBody](t, rr).Count)
}

func TestSnippetHandler_CreateValidation(t *testing.T) {
	h := newSnippetRouter(t, memory.New(nil), testOwner)

	tests := []struct {
		name      string
		body      string
		wantField string
	}{
		{name: "empty title", body: `{"title":"  ","code":"x"}`, wantField: "title"},
		{name: "empty code", body: `{"title":"t","code":""}`, wantField: "code"},
		{name: "unknown field", body: `{"title":"t","code":"x","owner":"someone-else"}`, wantField: "body"},
		{name: "malformed", body: `{"title":`, wantField: "body"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, h, http.MethodPost, "/api/snippets", tt.body)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
			resp := decode[handler.ErrorResponse](t, rr)
			assert.Equal(t, "validation_error", resp.Error)
			assert.Equal(t, tt.wantField, resp.Field)
		})
	}
}

func TestSnippetHandler_GetMissing(t *testing.T) {
	h := newSnippetRouter(t, memory.New(nil), testOwner)

	rr := do(t, h, http.MethodGet, "/api/snippets/does-not-exist", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "not_found", decode[handler.ErrorResponse](t, rr).Error)
}

func TestSnippetHandler_OtherOwnersSnippetIsNotFound(t *testing.T) {
	store := memory.New(nil)
	theirs, err := store.Insert(context.Background(), "owner-2", model.Draft{Title: "secret", Code: "x"})
	require.NoError(t, err)

	h := newSnippetRouter(t, store, testOwner)

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/api/snippets/"+theirs.ID, "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodPatch, "/api/snippets/"+theirs.ID, `{"title":"mine now"}`).Code)
}

func TestSnippetHandler_Update(t *testing.T) {
	h := newSnippetRouter(t, memory.New(nil), testOwner)
	created := createSnippet(t, h, `{"title":"Old","description":"keep me","code":"x"}`)

	rr := do(t, h, http.MethodPatch, "/api/snippets/"+created.ID, `{"title":"New"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	updated := decode[model.Snippet](t, rr)
	assert.Equal(t, "New", updated.Title)
	assert.Equal(t, "keep me", updated.Description)
	assert.True(t, updated.UpdatedAt.After(created.UpdatedAt))

	rr = do(t, h, http.MethodPatch, "/api/snippets/"+created.ID, `{}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSnippetHandler_Favorite(t *testing.T) {
	h := newSnippetRouter(t, memory.New(nil), testOwner)
	a := createSnippet(t, h, `{"title":"a","code":"x"}`)
	createSnippet(t, h, `{"title":"b","code":"y"}`)

	rr := do(t, h, http.MethodPut, "/api/snippets/"+a.ID+"/favorite", `{"isFavorite":true}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.True(t, decode[model.Snippet](t, rr).IsFavorite)

	rr = do(t, h, http.MethodGet, "/api/snippets?favorites=true", "")
	body := decode[listBody](t, rr)
	require.Len(t, body.Snippets, 1)
	assert.Equal(t, a.ID, body.Snippets[0].ID)

	rr = do(t, h, http.MethodPut, "/api/snippets/"+a.ID+"/favorite", `{}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSnippetHandler_Tags(t *testing.T) {
	h := newSnippetRouter(t, memory.New(nil), testOwner)
	created := createSnippet(t, h, `{"title":"hook","code":"x","tags":["go"]}`)

	rr := do(t, h, http.MethodPost, "/api/snippets/"+created.ID+"/tags", `{"tag":"React"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, []string{"go", "react"}, decode[model.Snippet](t, rr).Tags)

	rr = do(t, h, http.MethodPost, "/api/snippets/"+created.ID+"/tags", `{"tag":"react"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []string{"go", "react"}, decode[model.Snippet](t, rr).Tags)

	rr = do(t, h, http.MethodDelete, "/api/snippets/"+created.ID+"/tags/React", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []string{"go"}, decode[model.Snippet](t, rr).Tags)

	rr = do(t, h, http.MethodPost, "/api/snippets/"+created.ID+"/tags", `{"tag":"   "}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSnippetHandler_Delete(t *testing.T) {
	h := newSnippetRouter(t, memory.New(nil), testOwner)
	created := createSnippet(t, h, `{"title":"gone soon","code":"x"}`)

	assert.Equal(t, http.StatusNoContent, do(t, h, http.MethodDelete, "/api/snippets/"+created.ID, "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/api/snippets/"+created.ID, "").Code)

	// A retried delete whose first response was lost still succeeds.
	assert.Equal(t, http.StatusNoContent, do(t, h, http.MethodDelete, "/api/snippets/"+created.ID, "").Code)
}

func TestSnippetHandler_FacetsAndExport(t *testing.T) {
	h := newSnippetRouter(t, memory.New(nil), testOwner)
	createSnippet(t, h, `{"title":"a","code":"x","language":"go"}`)
	createSnippet(t, h, `{"title":"b","code":"<b>y</b>","language":"go"}`)

	rr := do(t, h, http.MethodGet, "/api/snippets/facets", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var facets struct {
		Total     int `json:"total"`
		Favorites int `json:"favorites"`
		Languages []struct {
			Language string `json:"language"`
			Count    int    `json:"count"`
		} `json:"languages"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&facets))
	assert.Equal(t, 2, facets.Total)
	assert.Equal(t, 0, facets.Favorites)
	require.Len(t, facets.Languages, 1)
	assert.Equal(t, "go", facets.Languages[0].Language)
	assert.Equal(t, 2, facets.Languages[0].Count)

	rr = do(t, h, http.MethodGet, "/api/snippets/export", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Disposition"), service.ExportFileName)
	assert.Contains(t, rr.Body.String(), "<b>y</b>", "export must not HTML-escape code")
	exported := decode[[]model.Snippet](t, rr)
	assert.Len(t, exported, 2)
}

func TestSnippetHandler_NoSession(t *testing.T) {
	h := newSnippetRouter(t, memory.New(nil), "")

	rr := do(t, h, http.MethodGet, "/api/snippets", "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "unauthorized", decode[handler.ErrorResponse](t, rr).Error)
}

// unavailableStore fails every write as if the backend were down.
type unavailableStore struct {
	*memory.Store
}

func (unavailableStore) Insert(context.Context, string, model.Draft) (*model.Snippet, error) {
	return nil, apperror.Unavailable("inserting snippet", errors.New("connection refused"))
}

func TestSnippetHandler_StoreUnavailable(t *testing.T) {
	h := newSnippetRouter(t, unavailableStore{memory.New(nil)}, testOwner)

	rr := do(t, h, http.MethodPost, "/api/snippets", `{"title":"t","code":"x"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, "1", rr.Header().Get("Retry-After"))

	resp := decode[handler.ErrorResponse](t, rr)
	assert.Equal(t, "unavailable", resp.Error)
	assert.NotContains(t, resp.Message, "connection refused", "causes must not leak to clients")
}

func TestHandleLanguages(t *testing.T) {
	h := newSnippetRouter(t, memory.New(nil), "")

	rr := do(t, h, http.MethodGet, "/api/languages", "")
	require.Equal(t, http.StatusOK, rr.Code)
	langs := decode[[]model.LanguageInfo](t, rr)
	require.NotEmpty(t, langs)
	assert.Equal(t, model.LanguageOther, langs[len(langs)-1].Value)
}
