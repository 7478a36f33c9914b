package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/juehai/sitebase/internal/node"
	"github.com/juehai/sitebase/internal/schema"
)

// Handler serves the HTTP API on top of the node engine.
type Handler struct {
	engine *node.Engine
	schema *schema.Registry
	logger *zap.Logger
}

// NewHandler builds the API handler.
func NewHandler(engine *node.Engine, registry *schema.Registry, logger *zap.Logger) *Handler {
	return &Handler{engine: engine, schema: registry, logger: logger}
}

// flexID accepts a node id either as a JSON number or as a string-encoded
// integer.
type flexID int64

func (f *flexID) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid node id %s", string(data))
	}
	*f = flexID(id)
	return nil
}

// nodeRequest is the body of single-node writes.
type nodeRequest struct {
	ID       flexID         `json:"id"`
	Manifest string         `json:"manifest"`
	Value    map[string]any `json:"value"`
}

// batchRequest is the body of batch writes and compares.
type batchRequest struct {
	Nodes  []nodeRequest `json:"nodes"`
	Create bool          `json:"create"`
	Check  bool          `json:"check"`
}

func decodeBody(r *http.Request, dst any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(dst)
}

func badRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, envelope{
		"success": false,
		"error":   "BadRequest",
		"message": message,
	})
}

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func boolParam(r *http.Request, name string) bool {
	switch r.URL.Query().Get(name) {
	case "1", "true", "yes":
		return true
	}
	return false
}

func (h *Handler) createNode(w http.ResponseWriter, r *http.Request) {
	var req nodeRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "malformed request body")
		return
	}

	if boolParam(r, "check_only") {
		item := node.WriteItem{ID: int64(req.ID), Manifest: req.Manifest, Value: req.Value}
		result, err := h.engine.Upsert(r.Context(), []node.WriteItem{item}, true, true)
		if err != nil {
			writeError(w, err)
			return
		}
		writeResult(w, http.StatusOK, result)
		return
	}

	result, err := h.engine.Create(r.Context(), int64(req.ID), req.Manifest, req.Value)
	if err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, http.StatusCreated, result)
}

func (h *Handler) getNode(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		badRequest(w, "invalid node id")
		return
	}

	result, err := h.engine.Select(r.Context(), id, boolParam(r, "cascade"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, http.StatusOK, result)
}

func (h *Handler) updateNode(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		badRequest(w, "invalid node id")
		return
	}

	var req nodeRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "malformed request body")
		return
	}

	result, err := h.engine.Update(r.Context(), id, req.Manifest, req.Value)
	if err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, http.StatusOK, result)
}

func (h *Handler) deleteNode(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		badRequest(w, "invalid node id")
		return
	}

	result, err := h.engine.Delete(r.Context(), id, boolParam(r, "cascade"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, http.StatusOK, result)
}

func (h *Handler) upsertNodes(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "malformed request body")
		return
	}

	items := make([]node.WriteItem, len(req.Nodes))
	for i, n := range req.Nodes {
		items[i] = node.WriteItem{ID: int64(n.ID), Manifest: n.Manifest, Value: n.Value}
	}

	forceCreate := req.Create || boolParam(r, "force_create")
	checkOnly := req.Check || boolParam(r, "check_only")

	result, err := h.engine.Upsert(r.Context(), items, forceCreate, checkOnly)
	if err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, http.StatusOK, result)
}

func (h *Handler) compareNodes(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "malformed request body")
		return
	}

	items := make([]node.WriteItem, len(req.Nodes))
	for i, n := range req.Nodes {
		items[i] = node.WriteItem{ID: int64(n.ID), Manifest: n.Manifest, Value: n.Value}
	}

	result, err := h.engine.Compare(r.Context(), items, req.Create || boolParam(r, "force_create"))
	if err != nil {
		writeError(w, err)
		return
	}

	body := envelope{
		"differences": result.Differences,
		"origins":     result.Origins,
	}
	if result.Errors != nil {
		body["errors"] = result.Errors.Payload()
	}
	writeResult(w, http.StatusOK, body)
}

func (h *Handler) getCache(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		badRequest(w, "invalid node id")
		return
	}

	result, err := h.engine.GetCache(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, http.StatusOK, result)
}

func (h *Handler) rebuildCache(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		badRequest(w, "invalid node id")
		return
	}

	result, err := h.engine.BuildCache(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, http.StatusOK, result)
}

// defaultSearchNum caps a search page when the caller does not ask for a
// size; an explicit num=0 lifts the cap.
const defaultSearchNum = 20

func (h *Handler) search(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		badRequest(w, "malformed search parameters")
		return
	}

	q := r.Form.Get("q")
	if q == "" {
		badRequest(w, "missing search query")
		return
	}

	orderBy := r.Form.Get("order_by")
	if orderBy == "" {
		orderBy = r.Form.Get("orderby")
	}
	opts := node.SearchOptions{
		Num:     defaultSearchNum,
		OrderBy: orderBy,
		Order:   r.Form.Get("order"),
	}
	if v := r.Form.Get("start"); v != "" {
		start, err := strconv.ParseInt(v, 10, 64)
		if err != nil || start < 0 {
			badRequest(w, "invalid start offset")
			return
		}
		opts.Start = start
	}
	if v := r.Form.Get("num"); v != "" {
		num, err := strconv.ParseInt(v, 10, 64)
		if err != nil || num < 0 {
			badRequest(w, "invalid result count")
			return
		}
		opts.Num = num
	}
	switch r.Form.Get("total") {
	case "1", "true", "yes":
		opts.Total = true
	}

	result, err := h.engine.Search(r.Context(), q, opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, http.StatusOK, result)
}

func (h *Handler) checkSyntax(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		badRequest(w, "missing search query")
		return
	}

	if err := h.engine.CheckSyntax(q); err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, http.StatusOK, "ok")
}

// getSetting exposes the loaded declarations: field, manifest or cache.
func (h *Handler) getSetting(w http.ResponseWriter, r *http.Request) {
	switch chi.URLParam(r, "category") {
	case "field":
		out := make(map[string]any, len(h.schema.Fields()))
		for name, fd := range h.schema.Fields() {
			view := map[string]any{
				"not_null": fd.NotNull,
				"unique":   fd.Unique,
			}
			if fd.Regex != nil {
				view["regex"] = fd.Regex.String()
			}
			if len(fd.Reference) > 0 {
				view["reference"] = fd.Reference
			}
			if len(fd.Decorators) > 0 {
				view["decorator"] = fd.Decorators
			}
			out[name] = view
		}
		writeResult(w, http.StatusOK, out)
	case "manifest":
		out := make(map[string]any, len(h.schema.Manifests()))
		for name, m := range h.schema.Manifests() {
			out[name] = map[string]any{
				"cn":    m.CNTemplate,
				"field": m.Fields,
			}
		}
		writeResult(w, http.StatusOK, out)
	case "cache":
		writeResult(w, http.StatusOK, h.schema.Cache())
	default:
		badRequest(w, "unknown setting category")
	}
}
