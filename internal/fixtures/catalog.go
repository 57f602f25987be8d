package fixtures

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/turbolytics/pimsync/pkg/inriver"
)

/*
Catalog is an in-memory stand-in for the inriver REST API. It serves the
channel entity list, entities:fetchdata and single entity endpoints, and can
be told to fail the next N requests to exercise retry paths.
*/
type Catalog struct {
	APIKey    string
	ChannelID string

	mu        sync.Mutex
	byType    map[string][]int64
	summaries map[int64]inriver.EntitySummary
	entities  map[int64]inriver.Entity
	failures  []failure
	requests  []string
}

type failure struct {
	status int
	body   string
}

func NewCatalog(apiKey, channelID string) *Catalog {
	return &Catalog{
		APIKey:    apiKey,
		ChannelID: channelID,
		byType:    make(map[string][]int64),
		summaries: make(map[int64]inriver.EntitySummary),
		entities:  make(map[int64]inriver.Entity),
	}
}

// Generate adds n entities of a type with sequential ids starting at firstID.
func (c *Catalog) Generate(entityType string, n int, firstID int64) []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	modified := time.Date(2023, 6, 28, 10, 0, 0, 0, time.UTC)
	ids := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		id := firstID + int64(i)
		completeness := 50 + i%51
		c.summaries[id] = inriver.EntitySummary{
			ID:                 id,
			DisplayName:        fmt.Sprintf("%s %d", entityType, id),
			DisplayDescription: fmt.Sprintf("Description of %s %d", entityType, id),
			Version:            "1",
			CreatedBy:          "fixtures@pimsync.dev",
			CreatedDate:        modified.Add(-time.Hour).Format("2006-01-02T15:04:05.0000000"),
			ModifiedBy:         "fixtures@pimsync.dev",
			ModifiedDate:       modified.Format("2006-01-02T15:04:05.0000000"),
			EntityTypeID:       entityType,
			Completeness:       &completeness,
		}
		c.entities[id] = inriver.Entity{
			ID:           id,
			EntityTypeID: entityType,
			FieldValues: []inriver.FieldValue{
				{FieldTypeID: "ProductNumber", Value: inriver.StringValue(fmt.Sprintf("SKU-%d", id))},
				{FieldTypeID: "ProductName", Value: inriver.StringValue(fmt.Sprintf("%s %d", entityType, id))},
				{FieldTypeID: "Price", Value: inriver.NumberValue(float64(id%1000) + 0.99)},
			},
			Completeness: &completeness,
		}
		ids = append(ids, id)
	}
	c.byType[entityType] = append(c.byType[entityType], ids...)
	return ids
}

// AddEntity registers a full entity record.
func (c *Catalog) AddEntity(e inriver.Entity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entities[e.ID] = e
}

// FailNext makes the next n requests answer with status and body.
func (c *Catalog) FailNext(n int, status int, body string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := 0; i < n; i++ {
		c.failures = append(c.failures, failure{status: status, body: body})
	}
}

// Requests returns the "METHOD path" of every request served so far.
func (c *Catalog) Requests() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.requests...)
}

// Types returns the generated entity types, sorted.
func (c *Catalog) Types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	types := make([]string, 0, len(c.byType))
	for t := range c.byType {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

func (c *Catalog) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(c.record)
	r.Use(c.authenticate)
	r.Use(c.injectFailures)

	r.Route("/api", func(r chi.Router) {
		r.Get("/v1.0.0/channels/{channelID}", c.getChannel)
		r.Get("/v1.0.0/channels/{channelID}/entitylist", c.entityList)
		r.Post("/v1.0.1/entities:fetchdata", c.fetchData)
		r.Get("/v1.0.0/entities/{id}", c.getEntity)
		r.Get("/v1.0.0/entities/{id}/links", c.getLinks)
		r.Get("/v1.0.0/entities/{id}/resourceurl", c.getResourceURL)
	})
	return r
}

func (c *Catalog) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.mu.Lock()
		c.requests = append(c.requests, r.Method+" "+r.URL.Path)
		c.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (c *Catalog) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(inriver.APIKeyHeader) != c.APIKey {
			http.Error(w, "invalid api key", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (c *Catalog) injectFailures(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.mu.Lock()
		var f *failure
		if len(c.failures) > 0 {
			f = &c.failures[0]
			c.failures = c.failures[1:]
		}
		c.mu.Unlock()

		if f != nil {
			http.Error(w, f.body, f.status)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (c *Catalog) getChannel(w http.ResponseWriter, r *http.Request) {
	if chi.URLParam(r, "channelID") != c.ChannelID {
		http.Error(w, "channel not found", http.StatusNotFound)
		return
	}
	id, _ := strconv.ParseInt(c.ChannelID, 10, 64)
	writeJSON(w, inriver.Channel{
		ID:            id,
		DisplayName:   "Fixture channel",
		EntityTypeIDs: c.Types(),
	})
}

func (c *Catalog) entityList(w http.ResponseWriter, r *http.Request) {
	if chi.URLParam(r, "channelID") != c.ChannelID {
		http.Error(w, "channel not found", http.StatusNotFound)
		return
	}

	c.mu.Lock()
	ids := append([]int64{}, c.byType[r.URL.Query().Get("entityTypeId")]...)
	c.mu.Unlock()

	writeJSON(w, inriver.EntityListResponse{
		Count:     len(ids),
		EntityIDs: ids,
	})
}

func (c *Catalog) fetchData(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EntityIDs []int64 `json:"entityIds"`
		Objects   string  `json:"objects"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Objects != "EntitySummary" {
		http.Error(w, "unsupported objects "+req.Objects, http.StatusBadRequest)
		return
	}

	c.mu.Lock()
	data := make([]inriver.EntityData, 0, len(req.EntityIDs))
	for _, id := range req.EntityIDs {
		if s, ok := c.summaries[id]; ok {
			data = append(data, inriver.EntityData{EntityID: id, Summary: s})
		}
	}
	c.mu.Unlock()

	writeJSON(w, data)
}

func (c *Catalog) getEntity(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	c.mu.Lock()
	e, ok := c.entities[id]
	c.mu.Unlock()
	if !ok {
		http.Error(w, "entity not found", http.StatusNotFound)
		return
	}
	writeJSON(w, e)
}

func (c *Catalog) getLinks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, []inriver.Link{})
}

func (c *Catalog) getResourceURL(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, "https://media.fixtures.pimsync.dev/resources/"+chi.URLParam(r, "id")+".jpg")
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
