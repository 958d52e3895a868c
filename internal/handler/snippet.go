package handler

import (
	"bytes"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/snippet-vault/internal/apperror"
	"github.com/sakif/snippet-vault/internal/auth"
	"github.com/sakif/snippet-vault/internal/model"
	"github.com/sakif/snippet-vault/internal/query"
	"github.com/sakif/snippet-vault/internal/service"
)

// SnippetHandler exposes the snippet service over HTTP.
//
// THIN HANDLERS:
// Each method reads the owner from the request context (RequireAuth put it
// there), decodes input, calls exactly one service method and writes the
// result. Validation, caching and the mutation lifecycle all live in the
// service; nothing here talks to a store.
//
// ROUTES (all behind RequireAuth):
//
//	GET    /api/snippets                  filtered view (?q=&language=&favorites=)
//	GET    /api/snippets/facets           totals and per-language counts
//	GET    /api/snippets/export           JSON download of the whole collection
//	POST   /api/snippets                  create
//	GET    /api/snippets/{id}             one snippet
//	PATCH  /api/snippets/{id}             partial update
//	DELETE /api/snippets/{id}             remove
//	PUT    /api/snippets/{id}/favorite    set the favorite flag
//	POST   /api/snippets/{id}/tags        add a tag
//	DELETE /api/snippets/{id}/tags/{tag}  remove a tag
type SnippetHandler struct {
	snippets *service.SnippetService
	logger   *slog.Logger
}

// NewSnippetHandler creates a SnippetHandler.
func NewSnippetHandler(snippets *service.SnippetService, logger *slog.Logger) *SnippetHandler {
	return &SnippetHandler{snippets: snippets, logger: logger}
}

// Routes mounts the snippet endpoints on r. The caller applies auth.
func (h *SnippetHandler) Routes(r chi.Router) {
	r.Get("/", h.HandleList)
	r.Post("/", h.HandleCreate)
	r.Get("/facets", h.HandleFacets)
	r.Get("/export", h.HandleExport)

	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.HandleGet)
		r.Patch("/", h.HandleUpdate)
		r.Delete("/", h.HandleDelete)
		r.Put("/favorite", h.HandleSetFavorite)
		r.Post("/tags", h.HandleAddTag)
		r.Delete("/tags/{tag}", h.HandleRemoveTag)
	})
}

// listResponse is a View plus the last refresh failure, if any. The
// snippets are still served when a background refresh failed; the client
// decides whether to show a warning.
type listResponse struct {
	*service.View
	RefreshError string `json:"refreshError,omitempty"`
}

// HandleList returns the owner's snippets matching the query string.
//
// HTTP: GET /api/snippets?q=hook&language=javascript&favorites=true
//
// All three parameters are optional and combine with AND. An unparseable
// favorites value means "don't filter on favorites".
func (h *SnippetHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	owner := ownerOf(r)
	q := r.URL.Query()
	p := query.ParsePredicate(q.Get("q"), q.Get("language"), q.Get("favorites"))

	view, err := h.snippets.View(r.Context(), owner, p)
	if err != nil {
		h.fail(w, r, "listing snippets", err)
		return
	}

	resp := listResponse{View: view}
	if view.Err != nil {
		resp.RefreshError = "snippets may be out of date"
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleFacets returns the counts a sidebar needs.
//
// HTTP: GET /api/snippets/facets
func (h *SnippetHandler) HandleFacets(w http.ResponseWriter, r *http.Request) {
	facets, err := h.snippets.Facets(r.Context(), ownerOf(r))
	if err != nil {
		h.fail(w, r, "summarising snippets", err)
		return
	}
	writeJSON(w, http.StatusOK, facets)
}

// HandleExport sends the whole collection as a file download.
//
// HTTP: GET /api/snippets/export
//
// The export is rendered into a buffer first. If the refresh before it
// fails, the client gets a normal JSON error instead of a truncated file.
func (h *SnippetHandler) HandleExport(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := h.snippets.Export(r.Context(), ownerOf(r), &buf); err != nil {
		h.fail(w, r, "exporting snippets", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="`+service.ExportFileName+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		h.logger.Warn("export: client went away", slog.String("error", err.Error()))
	}
}

// HandleGet returns a single snippet.
//
// HTTP: GET /api/snippets/{id}
func (h *SnippetHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	snippet, err := h.snippets.Get(r.Context(), ownerOf(r), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "getting snippet", err)
		return
	}
	writeJSON(w, http.StatusOK, snippet)
}

// HandleCreate saves a new snippet.
//
// HTTP: POST /api/snippets
// REQUEST BODY: {"title": "Hello", "code": "print('hi')", "language": "python", "tags": ["demo"]}
// RESPONSE: 201 Created with the stored snippet (ID and timestamps filled in)
func (h *SnippetHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var draft model.Draft
	if err := decodeJSON(w, r, &draft); err != nil {
		writeError(w, err)
		return
	}

	snippet, err := h.snippets.Create(r.Context(), ownerOf(r), draft)
	if err != nil {
		h.fail(w, r, "creating snippet", err)
		return
	}
	writeJSON(w, http.StatusCreated, snippet)
}

// HandleUpdate applies a partial update.
//
// HTTP: PATCH /api/snippets/{id}
// REQUEST BODY: any subset of {"title","description","code","language","tags","isFavorite"}
//
// An absent field is left unchanged; a field set to "" is cleared (and then
// rejected by validation for title and code).
func (h *SnippetHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	var patch model.Patch
	if err := decodeJSON(w, r, &patch); err != nil {
		writeError(w, err)
		return
	}

	snippet, err := h.snippets.Update(r.Context(), ownerOf(r), chi.URLParam(r, "id"), patch)
	if err != nil {
		h.fail(w, r, "updating snippet", err)
		return
	}
	writeJSON(w, http.StatusOK, snippet)
}

// HandleDelete removes a snippet.
//
// HTTP: DELETE /api/snippets/{id}
// RESPONSE: 204 No Content, also when the snippet was already gone.
func (h *SnippetHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.snippets.Remove(r.Context(), ownerOf(r), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, "removing snippet", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type favoriteRequest struct {
	IsFavorite *bool `json:"isFavorite"`
}

// HandleSetFavorite sets the favorite flag.
//
// HTTP: PUT /api/snippets/{id}/favorite
// REQUEST BODY: {"isFavorite": true}
//
// The client sends the value it wants rather than "toggle", so a retried
// request can't flip the flag back.
func (h *SnippetHandler) HandleSetFavorite(w http.ResponseWriter, r *http.Request) {
	var req favoriteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.IsFavorite == nil {
		writeError(w, apperror.ValidationFailed("isFavorite", "isFavorite is required"))
		return
	}

	snippet, err := h.snippets.ToggleFavorite(r.Context(), ownerOf(r), chi.URLParam(r, "id"), *req.IsFavorite)
	if err != nil {
		h.fail(w, r, "setting favorite", err)
		return
	}
	writeJSON(w, http.StatusOK, snippet)
}

type tagRequest struct {
	Tag string `json:"tag"`
}

// HandleAddTag adds one tag.
//
// HTTP: POST /api/snippets/{id}/tags
// REQUEST BODY: {"tag": "React"}
func (h *SnippetHandler) HandleAddTag(w http.ResponseWriter, r *http.Request) {
	var req tagRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	snippet, err := h.snippets.AddTag(r.Context(), ownerOf(r), chi.URLParam(r, "id"), req.Tag)
	if err != nil {
		h.fail(w, r, "adding tag", err)
		return
	}
	writeJSON(w, http.StatusOK, snippet)
}

// HandleRemoveTag removes one tag. The tag is matched after normalisation,
// so DELETE .../tags/React removes "react".
//
// HTTP: DELETE /api/snippets/{id}/tags/{tag}
func (h *SnippetHandler) HandleRemoveTag(w http.ResponseWriter, r *http.Request) {
	snippet, err := h.snippets.RemoveTag(r.Context(), ownerOf(r), chi.URLParam(r, "id"), chi.URLParam(r, "tag"))
	if err != nil {
		h.fail(w, r, "removing tag", err)
		return
	}
	writeJSON(w, http.StatusOK, snippet)
}

// HandleLanguages lists the language registry for pickers. It needs no
// session.
//
// HTTP: GET /api/languages
func HandleLanguages(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, model.Languages())
}

// fail logs err and writes it. Client errors are logged at Debug; they are
// the caller's problem and would drown the log otherwise.
func (h *SnippetHandler) fail(w http.ResponseWriter, r *http.Request, action string, err error) {
	level := slog.LevelDebug
	if status, _ := statusOf(err); status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	h.logger.Log(r.Context(), level, action+" failed",
		slog.String("owner", ownerOf(r)),
		slog.String("error", err.Error()),
	)
	writeError(w, err)
}

// ownerOf returns the session owner. Behind RequireAuth it is never empty;
// elsewhere the empty owner makes the service answer ErrUnauthorized.
func ownerOf(r *http.Request) string {
	owner, _ := auth.OwnerFromContext(r.Context())
	return owner
}
