/*
Package hubsim simulates the hub's message-ingestion endpoint for unit
tests. It installs the device-to-cloud events route on a mux router,
verifies the shared access signature in the Authorization header and
records every message it accepts. Tests wire the router straight into a
device client, so the full request path runs in process without
sockets.
*/
package hubsim

import (
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/devicehub/sas"
)

// Message is one telemetry frame as received on the wire.
type Message struct {
	Body          json.RawMessage   `json:"body"`
	Base64Encoded bool              `json:"base64Encoded"`
	Properties    map[string]string `json:"properties"`
}

// Hub is a simulated message-ingestion endpoint.
type Hub struct {
	// Router serves the events route. Hand it to device.Config.Router.
	Router *mux.Router

	hostName string
	key      string

	mutex      sync.Mutex
	forced     int
	singles    []Message
	batches    [][]Message
	lastToken  string
	lastDevice string
}

// New creates a simulated hub that accepts tokens signed with key for
// hostName and installs the events route on a fresh router.
func New(hostName, key string) *Hub {
	h := &Hub{
		Router:   mux.NewRouter(),
		hostName: hostName,
		key:      key,
	}
	h.Router.HandleFunc("/devices/{device}/messages/events", h.receive).
		Methods(http.MethodPost).
		Queries("api-version", "2018-06-30")
	return h
}

// ForceStatus makes subsequent receives answer with the given status
// instead of 204. Zero restores normal behavior.
func (h *Hub) ForceStatus(status int) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.forced = status
}

// Singles returns the single messages accepted so far.
func (h *Hub) Singles() []Message {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return append([]Message{}, h.singles...)
}

// Batches returns the batches accepted so far.
func (h *Hub) Batches() [][]Message {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return append([][]Message{}, h.batches...)
}

// LastToken returns the Authorization header of the last accepted
// request.
func (h *Hub) LastToken() string {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return h.lastToken
}

// LastDevice returns the device identity of the last accepted request.
func (h *Hub) LastDevice() string {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return h.lastDevice
}

func (h *Hub) receive(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get("Authorization")
	resourceURI, err := sas.Verify(token, h.key, time.Now())
	if err != nil || resourceURI != h.hostName {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	h.mutex.Lock()
	forced := h.forced
	h.mutex.Unlock()
	if forced != 0 {
		w.WriteHeader(forced)
		return
	}

	switch r.Header.Get("Content-Type") {
	case "application/vnd.microsoft.iothub.json":
		var batch []Message
		if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.mutex.Lock()
		h.batches = append(h.batches, batch)
		h.lastToken = token
		h.lastDevice = mux.Vars(r)["device"]
		h.mutex.Unlock()
	case "application/json":
		var message Message
		if err := json.NewDecoder(r.Body).Decode(&message); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.mutex.Lock()
		h.singles = append(h.singles, message)
		h.lastToken = token
		h.lastDevice = mux.Vars(r)["device"]
		h.mutex.Unlock()
	default:
		http.Error(w, "unsupported content type", http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
