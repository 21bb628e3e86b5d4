package mock

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/rutlab/routertest/pkg/scenario"
	"github.com/rutlab/routertest/pkg/uci"
)

const (
	brokerEndpoint     = "mqtt/broker/config"
	collectionEndpoint = "data_to_server/collections/config"
	dataEndpoint       = "data_to_server/data/config"
	serverEndpoint     = "data_to_server/servers/config"
)

// APIServer is a fake router REST API over a Router's state.
type APIServer struct {
	// Router holds the configuration the API reads and writes.
	Router *Router

	// Username and Password are accepted by /login.
	Username string
	Password string

	// Handlers are callbacks for API operations.
	Handlers APIHandlers

	server   *httptest.Server
	mux      *http.ServeMux
	token    string
	requests []string
	mu       sync.Mutex
}

// APIHandlers holds optional hooks.
type APIHandlers struct {
	// OnRequest may answer a request first. Returning false falls through.
	OnRequest func(w http.ResponseWriter, r *http.Request) bool
}

// NewAPIServer starts a TLS server. Close it when done.
func NewAPIServer(router *Router, username, password string) *APIServer {
	s := &APIServer{
		Router:   router,
		Username: username,
		Password: password,
		token:    "mock-token",
		mux:      http.NewServeMux(),
	}
	s.mux.HandleFunc("POST /api/login", s.login)
	s.mux.HandleFunc("POST /api/logout", s.authed(s.logout))
	s.mux.HandleFunc("POST /api/bulk", s.authed(s.bulk))
	s.mux.HandleFunc("POST /api/services/{name}/restart", s.authed(s.restart))
	s.mux.HandleFunc("GET /api/"+brokerEndpoint, s.authed(s.getBroker))
	s.mux.HandleFunc("PUT /api/"+brokerEndpoint, s.authed(s.putBroker))
	s.mux.HandleFunc("PUT /api/"+brokerEndpoint+"/{id}", s.authed(s.putBrokerSection))
	s.mux.HandleFunc("GET /api/"+collectionEndpoint, s.authed(s.listType(uci.TypeCollection)))
	s.mux.HandleFunc("POST /api/"+collectionEndpoint, s.authed(s.createCollection))
	s.mux.HandleFunc("DELETE /api/"+collectionEndpoint, s.authed(s.deleteCollections))
	s.mux.HandleFunc("GET /api/"+collectionEndpoint+"/{id}", s.authed(s.getCollection))
	s.mux.HandleFunc("PUT /api/"+collectionEndpoint+"/{id}", s.authed(s.putSection(uci.TypeCollection, "")))
	s.mux.HandleFunc("PUT /api/"+collectionEndpoint+"/{id}/data/{sub}", s.authed(s.putSection(uci.TypeInput, uci.TypeInput)))
	s.mux.HandleFunc("PUT /api/"+collectionEndpoint+"/{id}/servers/{sub}", s.authed(s.putSection(uci.TypeOutput, uci.TypeOutput)))
	s.mux.HandleFunc("GET /api/"+dataEndpoint, s.authed(s.listType(uci.TypeInput)))
	s.mux.HandleFunc("GET /api/"+serverEndpoint, s.authed(s.listType(uci.TypeOutput)))
	s.server = httptest.NewTLSServer(http.HandlerFunc(s.serve))
	return s
}

// URL returns the API root, e.g. https://127.0.0.1:4567/api.
func (s *APIServer) URL() string {
	return s.server.URL + "/api"
}

// Close stops the server.
func (s *APIServer) Close() {
	s.server.Close()
}

// Requests returns "METHOD path" for every request received.
func (s *APIServer) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

func (s *APIServer) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.requests = append(s.requests, r.Method+" "+r.URL.Path)
	s.mu.Unlock()
	if s.Handlers.OnRequest != nil && s.Handlers.OnRequest(w, r) {
		return
	}
	s.mux.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func ok(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": data})
}

func fail(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{
		"success": false,
		"errors":  []map[string]any{{"code": code, "error": msg}},
	})
}

func (s *APIServer) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+s.token {
			fail(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

func decodeBody(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

func (s *APIServer) login(w http.ResponseWriter, r *http.Request) {
	var creds struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &creds); err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}
	if creds.Username != s.Username || creds.Password != s.Password {
		fail(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	ok(w, map[string]any{"username": creds.Username, "token": s.token, "expires": 299})
}

func (s *APIServer) logout(w http.ResponseWriter, _ *http.Request) {
	ok(w, map[string]any{"response": "logged out"})
}

func (s *APIServer) restart(w http.ResponseWriter, r *http.Request) {
	s.Router.Restart(r.PathValue("name"))
	ok(w, map[string]any{"response": "restarted"})
}

// bulk replays each call against the mux and collects the envelopes.
func (s *APIServer) bulk(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Data []struct {
			Method   string          `json:"method"`
			Endpoint string          `json:"endpoint"`
			Data     json.RawMessage `json:"data"`
		} `json:"data"`
	}
	if err := decodeBody(r, &req); err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}
	results := make([]json.RawMessage, 0, len(req.Data))
	for _, call := range req.Data {
		var body bytes.Buffer
		if len(call.Data) > 0 {
			body.WriteString(`{"data":`)
			body.Write(call.Data)
			body.WriteString(`}`)
		}
		sub := httptest.NewRequest(strings.ToUpper(call.Method), call.Endpoint, &body)
		sub.Header.Set("Authorization", r.Header.Get("Authorization"))
		rec := httptest.NewRecorder()
		s.mux.ServeHTTP(rec, sub)
		results = append(results, json.RawMessage(bytes.TrimSpace(rec.Body.Bytes())))
	}
	ok(w, results)
}

// sectionObject renders a section the way the API returns it.
func sectionObject(sec *uci.Section) map[string]any {
	obj := map[string]any{"id": sec.ID, ".type": sec.Type}
	for _, key := range sec.Order {
		v := sec.Options[key]
		if v.IsList() {
			obj[key] = v.List()
		} else {
			obj[key] = v.String()
		}
	}
	return obj
}

// applyObject writes API fields into sec. Empty strings delete the option.
func applyObject(sec *uci.Section, obj map[string]any) {
	for key, raw := range obj {
		if key == "id" || key == ".type" {
			continue
		}
		switch v := raw.(type) {
		case []any:
			items := make([]string, 0, len(v))
			for _, item := range v {
				items = append(items, scenario.Stringify(item))
			}
			sec.Set(key, uci.List(items...))
		default:
			text := scenario.Stringify(v)
			if text == "" {
				sec.Delete(key)
				continue
			}
			sec.Set(key, uci.Scalar(text))
		}
	}
}

func (s *APIServer) getBroker(w http.ResponseWriter, _ *http.Request) {
	var items []map[string]any
	tbl := s.Router.Table("mosquitto")
	for _, sec := range tbl.SectionsOfType("mosquitto") {
		items = append(items, sectionObject(sec))
	}
	if items == nil {
		items = []map[string]any{}
	}
	ok(w, items)
}

func (s *APIServer) putBroker(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Data []map[string]any `json:"data"`
	}
	if err := decodeBody(r, &req); err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}
	var out []map[string]any
	s.Router.Update("mosquitto", func(t *uci.Table) {
		for _, obj := range req.Data {
			id, _ := obj["id"].(string)
			if id == "" {
				continue
			}
			sec := t.Ensure(id, "mosquitto")
			applyObject(sec, obj)
			out = append(out, sectionObject(sec))
		}
	})
	ok(w, out)
}

func (s *APIServer) putBrokerSection(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Data map[string]any `json:"data"`
	}
	if err := decodeBody(r, &req); err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}
	var out map[string]any
	s.Router.Update("mosquitto", func(t *uci.Table) {
		sec := t.Ensure(r.PathValue("id"), "mosquitto")
		applyObject(sec, req.Data)
		out = sectionObject(sec)
	})
	ok(w, out)
}

func (s *APIServer) listType(typ string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		items := []map[string]any{}
		for _, sec := range s.Router.Table("data_sender").SectionsOfType(typ) {
			items = append(items, sectionObject(sec))
		}
		ok(w, items)
	}
}

// nextID allocates collection ids as 3k+1, leaving the two following ids
// for the collection's server and data sections.
func nextID(t *uci.Table) string {
	highest := 0
	for _, id := range t.IDs() {
		if n, err := strconv.Atoi(id); err == nil && n > highest {
			highest = n
		}
	}
	n := highest + 1
	for (n-1)%3 != 0 {
		n++
	}
	return strconv.Itoa(n)
}

func (s *APIServer) createCollection(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Data map[string]any `json:"data"`
	}
	if err := decodeBody(r, &req); err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}
	var out map[string]any
	s.Router.Update("data_sender", func(t *uci.Table) {
		sec := t.Ensure(nextID(t), uci.TypeCollection)
		applyObject(sec, req.Data)
		out = sectionObject(sec)
	})
	ok(w, out)
}

func (s *APIServer) getCollection(w http.ResponseWriter, r *http.Request) {
	sec, found := s.Router.Table("data_sender").Section(r.PathValue("id"))
	if !found || sec.Type != uci.TypeCollection {
		fail(w, http.StatusNotFound, "collection not found")
		return
	}
	ok(w, sectionObject(sec))
}

// putSection writes {sub} (or {id} when link is empty) as a section of typ.
// For input and output sections the owning collection is linked to it.
func (s *APIServer) putSection(typ, link string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Data map[string]any `json:"data"`
		}
		if err := decodeBody(r, &req); err != nil {
			fail(w, http.StatusBadRequest, err.Error())
			return
		}
		collection := r.PathValue("id")
		target := collection
		if link != "" {
			target = r.PathValue("sub")
		}
		var out map[string]any
		var missing bool
		s.Router.Update("data_sender", func(t *uci.Table) {
			coll, found := t.Section(collection)
			if !found {
				missing = true
				return
			}
			sec := t.Ensure(target, typ)
			applyObject(sec, req.Data)
			if link != "" {
				coll.Set(link, uci.Scalar(target))
			}
			out = sectionObject(sec)
		})
		if missing {
			fail(w, http.StatusNotFound, "collection not found")
			return
		}
		ok(w, out)
	}
}

func (s *APIServer) deleteCollections(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Data []string `json:"data"`
	}
	if err := decodeBody(r, &req); err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}
	var deleted []string
	s.Router.Update("data_sender", func(t *uci.Table) {
		for _, id := range req.Data {
			sec, found := t.Section(id)
			if !found {
				continue
			}
			for _, key := range []string{uci.TypeInput, uci.TypeOutput} {
				if v, ok := sec.Get(key); ok {
					for _, ref := range v.List() {
						if t.Remove(ref) {
							deleted = append(deleted, ref)
						}
					}
				}
			}
			if t.Remove(id) {
				deleted = append(deleted, id)
			}
		}
	})
	sort.Strings(deleted)
	ok(w, map[string]any{"deleted": deleted})
}
