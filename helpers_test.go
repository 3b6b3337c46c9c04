package chatkit

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"chatkit/internal/wire"
)

// okActionHandler answers every action and upload with success and
// every history request with an empty page.
func okActionHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/l/v/m/action", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":"ok"}`))
	})
	mux.HandleFunc("/l/v/m/upload", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":"ok"}`))
	})
	mux.HandleFunc("/l/v/m/history", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"hasMore":false,"messages":[]}}`))
	})
	return mux
}

// newTestSession builds a paused session against the given handler. The
// session is not resumed; tests drive the stream directly.
func newTestSession(t *testing.T, handler http.Handler) *Session {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	session, err := NewSession(Config{
		BaseURL:   server.URL,
		Location:  "test",
		StorePath: filepath.Join(t.TempDir(), "history.db"),
	})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	t.Cleanup(func() { session.Destroy() })
	return session
}

func applyDeltas(s *Session, items ...wire.DeltaItem) {
	s.queue.Call(func() { s.stream.applyDeltaList(items) })
}

func applyFull(s *Session, fu *wire.FullUpdate) {
	s.queue.Call(func() { s.stream.applyFullUpdate(fu) })
}

func delta(entityType, event, id, data string) wire.DeltaItem {
	return wire.DeltaItem{
		ID:       id,
		RawEvent: event,
		RawType:  entityType,
		Data:     json.RawMessage(data),
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func waitCompletion(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("completion handler not called")
		return nil
	}
}

// --- recorders ---

type chatStateRecorder struct {
	transitions [][2]ChatState
}

func (r *chatStateRecorder) ChatStateChanged(previous, current ChatState) {
	r.transitions = append(r.transitions, [2]ChatState{previous, current})
}

type addedEvent struct {
	message  Message
	previous *Message
}

type messageRecorder struct {
	added      []addedEvent
	changed    [][2]Message
	removed    []Message
	removedAll int
}

func (r *messageRecorder) Added(message Message, previous *Message) {
	r.added = append(r.added, addedEvent{message: message, previous: previous})
}

func (r *messageRecorder) Changed(old, new Message) {
	r.changed = append(r.changed, [2]Message{old, new})
}

func (r *messageRecorder) Removed(message Message) {
	r.removed = append(r.removed, message)
}

func (r *messageRecorder) RemovedAll() {
	r.removedAll++
}

type errorRecorder struct {
	fatal       []*FatalError
	notFatal    []*NotFatalError
	connections []bool
}

func (r *errorRecorder) OnFatalError(err *FatalError)       { r.fatal = append(r.fatal, err) }
func (r *errorRecorder) OnNotFatalError(err *NotFatalError) { r.notFatal = append(r.notFatal, err) }
func (r *errorRecorder) ConnectionStateChanged(connected bool) {
	r.connections = append(r.connections, connected)
}
