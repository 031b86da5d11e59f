package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mbakker/convel-go/internal/kb"
	"github.com/mbakker/convel-go/internal/metrics"
	"github.com/mbakker/convel-go/internal/models"
)

// echoAnnotator links every USER utterance containing "Dallas" and fails on
// utterances containing "boom".
type echoAnnotator struct {
	calls int
}

func (a *echoAnnotator) Annotate(_ context.Context, conv []models.Turn) ([]models.AnnotatedTurn, error) {
	if err := models.ValidateConversation(conv); err != nil {
		return nil, err
	}
	a.calls++
	out := make([]models.AnnotatedTurn, 0, len(conv))
	for _, turn := range conv {
		at := models.AnnotatedTurn{Speaker: turn.Speaker, Utterance: turn.Utterance}
		if turn.Speaker == models.SpeakerUser {
			if strings.Contains(turn.Utterance, "boom") {
				return nil, errors.New("inference exploded")
			}
			at.Annotations = []models.Annotation{}
			if i := strings.Index(turn.Utterance, "Dallas"); i >= 0 {
				at.Annotations = append(at.Annotations, models.Annotation{
					Start: i, Length: 6, Mention: "Dallas", Entity: "Dallas",
				})
			}
		}
		out = append(out, at)
	}
	return out, nil
}

type fakeStats struct {
	stats kb.Stats
	err   error
}

func (f *fakeStats) KBStats(context.Context) (kb.Stats, error) {
	return f.stats, f.err
}

func newTestServer(t *testing.T) (*httptest.Server, *echoAnnotator) {
	t.Helper()
	annotator := &echoAnnotator{}
	srv := New(annotator, &fakeStats{stats: kb.Stats{Entities: 42, Mentions: 7}}, metrics.NewCollector(), nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, annotator
}

func TestAnnotateEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	body := `[{"speaker":"USER","utterance":"I flew to Dallas"},{"speaker":"SYSTEM","utterance":"Nice."}]`
	resp, err := http.Post(ts.URL+"/annotate", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var got annotateResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if len(got.Conversation) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(got.Conversation))
	}
	if len(got.Conversation[0].Annotations) != 1 {
		t.Errorf("expected one annotation on the user turn, got %v", got.Conversation[0].Annotations)
	}
	if got.Conversation[1].Annotations != nil {
		t.Errorf("system turn should carry no annotations")
	}
}

func TestAnnotateEndpointRejectsMalformedJSON(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Post(ts.URL+"/annotate", "application/json", strings.NewReader(`{"not":"a conversation"}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestAnnotateEndpointBodyTooLarge(t *testing.T) {
	annotator := &echoAnnotator{}
	srv := New(annotator, nil, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/annotate", strings.NewReader(strings.Repeat("x", 1<<20+1)))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
	if annotator.calls != 0 {
		t.Error("annotator should not run for an oversized body")
	}
}

// failingBody simulates a client that drops mid-request.
type failingBody struct{}

func (failingBody) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestAnnotateEndpointBodyReadError(t *testing.T) {
	srv := New(&echoAnnotator{}, nil, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/annotate", failingBody{})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestAnnotateEndpointRejectsBadSpeaker(t *testing.T) {
	ts, _ := newTestServer(t)

	body := `[{"speaker":"NARRATOR","utterance":"hello"}]`
	resp, err := http.Post(ts.URL+"/annotate", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid speaker, got %d", resp.StatusCode)
	}

	var got errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.Error == "" {
		t.Error("expected error detail in response")
	}
}

func TestAnnotateEndpointInternalError(t *testing.T) {
	ts, _ := newTestServer(t)

	body := `[{"speaker":"USER","utterance":"boom"}]`
	resp, err := http.Post(ts.URL+"/annotate", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}
}

func TestHealthz(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestStats(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/stats")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var got statsResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.KnowledgeBase == nil || got.KnowledgeBase.Entities != 42 {
		t.Errorf("expected knowledge-base stats in response, got %+v", got.KnowledgeBase)
	}
}

func TestStatsWithoutKBStillResponds(t *testing.T) {
	srv := New(&echoAnnotator{}, nil, metrics.NewCollector(), nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/stats")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var got statsResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.KnowledgeBase != nil {
		t.Error("knowledge_base should be omitted when no source is wired")
	}
}

func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/conversations/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readWS(t *testing.T, conn *websocket.Conn) wsResponse {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var resp wsResponse
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("read websocket response: %v", err)
	}
	return resp
}

func TestConversationSession(t *testing.T) {
	ts, annotator := newTestServer(t)
	conn := dialWS(t, ts)

	if err := conn.WriteJSON(wsTurnMessage{Speaker: "USER", Utterance: "I flew to Dallas"}); err != nil {
		t.Fatal(err)
	}
	first := readWS(t, conn)
	if first.Session == "" {
		t.Error("expected a session id")
	}
	if len(first.Conversation) != 1 {
		t.Fatalf("expected 1 turn after first message, got %d", len(first.Conversation))
	}
	if len(first.Conversation[0].Annotations) != 1 {
		t.Errorf("expected Dallas annotation, got %v", first.Conversation[0].Annotations)
	}

	if err := conn.WriteJSON(wsTurnMessage{Speaker: "SYSTEM", Utterance: "Enjoy your trip."}); err != nil {
		t.Fatal(err)
	}
	second := readWS(t, conn)
	if second.Session != first.Session {
		t.Error("session id should be stable across turns")
	}
	if len(second.Conversation) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(second.Conversation))
	}
	if annotator.calls != 2 {
		t.Errorf("expected the whole conversation re-annotated per turn, got %d calls", annotator.calls)
	}
}

func TestConversationSessionDropsBadTurn(t *testing.T) {
	ts, _ := newTestServer(t)
	conn := dialWS(t, ts)

	if err := conn.WriteJSON(wsTurnMessage{Speaker: "NARRATOR", Utterance: "meanwhile"}); err != nil {
		t.Fatal(err)
	}
	resp := readWS(t, conn)
	if resp.Error == "" {
		t.Fatal("expected a validation error on the socket")
	}

	// The bad turn must not poison the session
	if err := conn.WriteJSON(wsTurnMessage{Speaker: "USER", Utterance: "I flew to Dallas"}); err != nil {
		t.Fatal(err)
	}
	resp = readWS(t, conn)
	if resp.Error != "" {
		t.Fatalf("expected recovery after bad turn, got error %q", resp.Error)
	}
	if len(resp.Conversation) != 1 {
		t.Errorf("expected 1 turn, got %d", len(resp.Conversation))
	}
}
