package http

import (
	"io"
	"net/http"
	"strconv"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/kenaz/engine"
	"github.com/aukilabs/kenaz/geometry"
	"github.com/aukilabs/kenaz/models"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/segmentio/encoding/json"
)

const maxBodySize = 1 << 20

// Entity is the JSON representation of an entity.
type Entity struct {
	ID   uint32     `json:"id"`
	Name string     `json:"name,omitempty"`
	Min  mgl32.Vec3 `json:"min"`
	Max  mgl32.Vec3 `json:"max"`
}

func EntityFromModel(e *models.Entity) Entity {
	b := e.Bounds()
	return Entity{
		ID:   e.ID,
		Name: e.Name,
		Min:  b.Min,
		Max:  b.Max,
	}
}

func entitiesFromModels(entities []*models.Entity) []Entity {
	res := make([]Entity, len(entities))
	for i, e := range entities {
		res[i] = EntityFromModel(e)
	}
	return res
}

type BoundsRequest struct {
	Min mgl32.Vec3 `json:"min"`
	Max mgl32.Vec3 `json:"max"`
}

type SphereRequest struct {
	Center mgl32.Vec3 `json:"center"`
	Radius float32    `json:"radius"`
}

// QueryRequest selects entities by bounds or by sphere.
type QueryRequest struct {
	Bounds *BoundsRequest `json:"bounds,omitempty"`
	Sphere *SphereRequest `json:"sphere,omitempty"`
	Ignore []uint32       `json:"ignore,omitempty"`
}

type QueryResponse struct {
	Entities []Entity `json:"entities"`
}

type RaycastRequest struct {
	From   mgl32.Vec3 `json:"from"`
	To     mgl32.Vec3 `json:"to"`
	Ignore []uint32   `json:"ignore,omitempty"`
}

type RaycastResponse struct {
	Entity   *Entity `json:"entity"`
	Distance float32 `json:"distance"`
}

type EntityRequest struct {
	Name string     `json:"name"`
	Min  mgl32.Vec3 `json:"min"`
	Max  mgl32.Vec3 `json:"max"`
}

// API exposes the engine queries and the scene entities over HTTP. Engine
// access goes through Engine.Do.
type API struct {
	Engine *engine.Engine

	// The token required by mutating routes. Empty disables the check.
	Token string
}

// Register adds the API routes to the mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.Handle("POST /query", HandleWithCORS(http.HandlerFunc(a.HandleQuery)))
	mux.Handle("POST /raycast", HandleWithCORS(http.HandlerFunc(a.HandleRaycast)))
	mux.Handle("POST /entities", HandleWithCORS(http.HandlerFunc(VerifyAuthTokenHandler(a.Token, a.HandleEntityAdd))))
	mux.Handle("PUT /entities/{id}", HandleWithCORS(http.HandlerFunc(VerifyAuthTokenHandler(a.Token, a.HandleEntityUpdate))))
	mux.Handle("DELETE /entities/{id}", HandleWithCORS(http.HandlerFunc(VerifyAuthTokenHandler(a.Token, a.HandleEntityDelete))))
	mux.Handle("GET /debug/index", HandleWithCORS(http.HandlerFunc(a.HandleDebugIndex)))
}

func (a *API) HandleQuery(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, err)
		return
	}

	if (req.Bounds == nil) == (req.Sphere == nil) {
		WriteError(w, errors.New("either bounds or sphere must be set").
			WithType(engine.ErrTypeBadRequest))
		return
	}

	var res QueryResponse
	err := a.Engine.Do(r.Context(), func(e *engine.Engine) {
		var entities []*models.Entity
		if req.Bounds != nil {
			entities = e.QueryBounds(geometry.Bounds{Min: req.Bounds.Min, Max: req.Bounds.Max}, req.Ignore...)
		} else {
			entities = e.QuerySphere(req.Sphere.Center, req.Sphere.Radius, req.Ignore...)
		}
		res.Entities = entitiesFromModels(entities)
	})
	if err != nil {
		WriteError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, res)
}

func (a *API) HandleRaycast(w http.ResponseWriter, r *http.Request) {
	var req RaycastRequest
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, err)
		return
	}

	res := RaycastResponse{Distance: -1}
	err := a.Engine.Do(r.Context(), func(e *engine.Engine) {
		entity, d := e.Raycast(geometry.Ray{From: req.From, To: req.To}, req.Ignore...)
		if entity != nil {
			v := EntityFromModel(entity)
			res.Entity = &v
			res.Distance = d
		}
	})
	if err != nil {
		WriteError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, res)
}

func (a *API) HandleEntityAdd(w http.ResponseWriter, r *http.Request) {
	var req EntityRequest
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, err)
		return
	}

	b := geometry.NewBounds(req.Min, req.Max)
	if !b.Valid() {
		WriteError(w, errors.New("invalid entity bounds").
			WithType(engine.ErrTypeBadRequest))
		return
	}

	scene := a.Engine.Scene()
	entity := models.NewEntity(scene.NewEntityID(), req.Name, b)
	scene.AddEntity(entity)

	err := a.Engine.Do(r.Context(), func(e *engine.Engine) {
		e.AddToIndex(entity)
	})
	if err != nil {
		WriteError(w, err)
		return
	}

	logs.WithTag("entity_id", entity.ID).
		WithTag("entity_name", entity.Name).
		Debug("entity added")

	WriteJSON(w, http.StatusCreated, EntityFromModel(entity))
}

func (a *API) HandleEntityUpdate(w http.ResponseWriter, r *http.Request) {
	entity, err := a.entityFromPath(r)
	if err != nil {
		WriteError(w, err)
		return
	}

	var req EntityRequest
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, err)
		return
	}

	b := geometry.NewBounds(req.Min, req.Max)
	if !b.Valid() {
		WriteError(w, errors.New("invalid entity bounds").
			WithType(engine.ErrTypeBadRequest).
			WithTag("entity_id", entity.ID))
		return
	}

	entity.SetBounds(b)
	WriteJSON(w, http.StatusOK, EntityFromModel(entity))
}

func (a *API) HandleEntityDelete(w http.ResponseWriter, r *http.Request) {
	entity, err := a.entityFromPath(r)
	if err != nil {
		WriteError(w, err)
		return
	}

	entity.Destroy()
	a.Engine.Scene().RemoveEntity(entity)

	logs.WithTag("entity_id", entity.ID).Debug("entity deleted")
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) HandleDebugIndex(w http.ResponseWriter, r *http.Request) {
	var info engine.DebugInfo
	err := a.Engine.Do(r.Context(), func(e *engine.Engine) {
		info = e.DebugInfo()
	})
	if err != nil {
		WriteError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, info)
}

func (a *API) entityFromPath(r *http.Request) (*models.Entity, error) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 32)
	if err != nil {
		return nil, errors.New("invalid entity id").
			WithType(engine.ErrTypeBadRequest).
			WithTag("id", r.PathValue("id")).
			Wrap(err)
	}

	entity, ok := a.Engine.Scene().EntityByID(uint32(id))
	if !ok {
		return nil, errors.New("entity not found").
			WithType(engine.ErrTypeEntityNotFound).
			WithTag("id", id)
	}
	return entity, nil
}

func decodeBody(r *http.Request, v any) error {
	b, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return errors.New("reading body failed").Wrap(err)
	}

	if err := json.Unmarshal(b, v); err != nil {
		return errors.New("invalid request body").
			WithType(engine.ErrTypeBadRequest).
			Wrap(err)
	}
	return nil
}

// WriteJSON writes v as the JSON response body.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		logs.Error(errors.New("encoding response failed").Wrap(err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(b)
}

type errorResponse struct {
	Error string `json:"error"`
	Type  string `json:"type,omitempty"`
}

// WriteError writes err with the status matching its type.
func WriteError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	switch {
	case errors.IsType(err, engine.ErrTypeBadRequest):
		status = http.StatusBadRequest

	case errors.IsType(err, engine.ErrTypeEntityNotFound),
		errors.IsType(err, engine.ErrTypeProbeNotFound):
		status = http.StatusNotFound

	case errors.IsType(err, engine.ErrTypeEngineStopped):
		status = http.StatusServiceUnavailable
	}

	if status == http.StatusInternalServerError {
		logs.Error(err)
	} else {
		logs.Debug(err)
	}

	WriteJSON(w, status, errorResponse{
		Error: err.Error(),
		Type:  errors.Type(err),
	})
}
