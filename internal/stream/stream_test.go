package stream

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lifeline-edge/triage/internal/hazard"
	"github.com/lifeline-edge/triage/internal/offline"
)

const treeDoc = `{
  "root": {"text": "Atmet die Person normal?", "options": [
    {"label": "Ja", "nextId": "side"}, {"label": "Nein", "nextId": "no-breathing"}]},
  "side": {"text": "Stabile Seitenlage herstellen.", "options": [{"label": "Atmung setzt aus", "nextId": "no-breathing"}]},
  "no-breathing": {"text": "Herzdruckmassage fünf Zentimeter tief beginnen.", "options": [
    {"label": "AED da", "nextId": "aed"}, {"label": "Weiter", "nextId": "no-breathing"}]},
  "aed": {"text": "AED einschalten.", "options": [{"label": "Weiter", "nextId": "cpr-2"}]},
  "cpr-2": {"text": "Weiter drücken.", "options": [{"label": "Weiter", "nextId": "cpr-3"}]},
  "cpr-3": {"text": "Nicht aufhören.", "options": []}
}`

func testTree(t *testing.T) hazard.Tree {
	t.Helper()
	tree, err := hazard.ParseTree([]byte(treeDoc))
	require.NoError(t, err)
	return tree
}

type fakeTrees struct {
	tree hazard.Tree
	err  error
}

func (f fakeTrees) Tree(context.Context, string, string) (hazard.Tree, offline.Origin, error) {
	return f.tree, offline.FromStatic, f.err
}

// upstream serves the stream endpoint from a canned body and counts
// fallback requests.
type upstream struct {
	streamStatus int
	streamBody   io.Reader
	contentType  string
	answerStatus int
	answerBody   string
	answers      atomic.Int32
}

func (u *upstream) RoundTrip(req *http.Request) (*http.Response, error) {
	switch req.URL.Path {
	case "/answer-stream":
		ct := u.contentType
		if ct == "" {
			ct = "text/event-stream"
		}
		return &http.Response{
			StatusCode: u.streamStatus,
			Header:     http.Header{"Content-Type": {ct}},
			Body:       io.NopCloser(u.streamBody),
			Request:    req,
		}, nil
	case "/answer":
		u.answers.Add(1)
		return &http.Response{
			StatusCode: u.answerStatus,
			Header:     http.Header{"Content-Type": {"application/json"}},
			Body:       io.NopCloser(strings.NewReader(u.answerBody)),
			Request:    req,
		}, nil
	}
	return nil, errors.New("unexpected request " + req.URL.Path)
}

func newTestClient(u *upstream) *Client {
	httpClient := &http.Client{Transport: u}
	return NewClient(Options{
		HTTP: httpClient,
		Fetcher: offline.New(offline.Options{
			Store:    offline.NewMemoryStore(),
			Client:   httpClient,
			Versions: offline.Versions{Static: "1", Dynamic: "1"},
			Rules:    offline.DefaultRules(),
		}),
		StreamURL: "http://llm.test/answer-stream",
		AnswerURL: "http://llm.test/answer",
	})
}

type brokenReader struct{}

func (brokenReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

func collect(chunks *[]Chunk) Emit {
	return func(ch Chunk) error {
		*chunks = append(*chunks, ch)
		return nil
	}
}

var question = Question{Hazard: "cardiac-arrest", Question: "Wie tief drücken?", Locale: "de"}

func TestStreamRelaysEvents(t *testing.T) {
	u := &upstream{
		streamStatus: 200,
		streamBody: strings.NewReader(": ping\n\n" +
			"data: Drück\n\n" +
			"data: fest\ndata: und schnell\n\n" +
			"event: meta\ndata: {\"used_nodes\":[\"root\",\"no-breathing\"]}\n\n"),
	}
	var got []Chunk
	meta, err := newTestClient(u).Answer(context.Background(), question, collect(&got))
	require.NoError(t, err)
	assert.Equal(t, []Chunk{{Text: "Drück"}, {Text: "fest\nund schnell"}}, got)
	assert.Equal(t, []string{"root", "no-breathing"}, meta.UsedNodes)
	assert.Equal(t, SourceStream, meta.Source)
	assert.Zero(t, u.answers.Load())
}

func TestStreamDoneSentinel(t *testing.T) {
	u := &upstream{streamStatus: 200, streamBody: strings.NewReader("data: A\n\ndata: [DONE]\n\n")}
	var got []Chunk
	meta, err := newTestClient(u).Answer(context.Background(), question, collect(&got))
	require.NoError(t, err)
	assert.Equal(t, []Chunk{{Text: "A"}}, got)
	assert.Equal(t, SourceStream, meta.Source)
}

func TestFallbackReplacesPartialTranscript(t *testing.T) {
	tests := []struct {
		name   string
		up     *upstream
		before []Chunk
	}{
		{
			name: "broken mid-stream",
			up: &upstream{
				streamStatus: 200,
				streamBody:   io.MultiReader(strings.NewReader("data: Drück\n\n"), brokenReader{}),
			},
			before: []Chunk{{Text: "Drück"}},
		},
		{
			name: "error event",
			up: &upstream{
				streamStatus: 200,
				streamBody:   strings.NewReader("data: Drück\n\nevent: error\ndata: {\"error\":\"quota\"}\n\n"),
			},
			before: []Chunk{{Text: "Drück"}},
		},
		{
			name:   "ended early",
			up:     &upstream{streamStatus: 200, streamBody: strings.NewReader("data: Drück\n\n")},
			before: []Chunk{{Text: "Drück"}},
		},
		{
			name: "stream unavailable",
			up:   &upstream{streamStatus: 404, streamBody: strings.NewReader("")},
		},
		{
			name: "not an event stream",
			up:   &upstream{streamStatus: 200, contentType: "application/json", streamBody: strings.NewReader("{}")},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.up.answerStatus = 200
			tt.up.answerBody = `{"answer":"Fünf bis sechs Zentimeter.","used_nodes":["no-breathing"]}`

			var got []Chunk
			meta, err := newTestClient(tt.up).Answer(context.Background(), question, collect(&got))
			require.NoError(t, err)
			want := append(tt.before, Chunk{Text: "Fünf bis sechs Zentimeter.", Replace: true})
			assert.Equal(t, want, got)
			assert.Equal(t, SourceFallback, meta.Source)
			assert.Equal(t, []string{"no-breathing"}, meta.UsedNodes)
			assert.Equal(t, int32(1), tt.up.answers.Load(), "exactly one fallback request")
		})
	}
}

func TestFallbackFailure(t *testing.T) {
	u := &upstream{streamStatus: 503, streamBody: strings.NewReader(""), answerStatus: 200, answerBody: `{"answer":"  "}`}
	_, err := newTestClient(u).Answer(context.Background(), question, collect(new([]Chunk)))
	assert.ErrorIs(t, err, ErrEmptyAnswer)

	u = &upstream{streamStatus: 503, streamBody: strings.NewReader(""), answerStatus: 500, answerBody: `{}`}
	_, err = newTestClient(u).Answer(context.Background(), question, collect(new([]Chunk)))
	assert.ErrorIs(t, err, ErrUpstream)
}

func TestEmitErrorStopsAnswer(t *testing.T) {
	u := &upstream{streamStatus: 200, streamBody: strings.NewReader("data: A\n\ndata: B\n\n")}
	stop := errors.New("client gone")
	calls := 0
	_, err := newTestClient(u).Answer(context.Background(), question, func(Chunk) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
	assert.Zero(t, u.answers.Load())
}

func TestGrounding(t *testing.T) {
	tree := testTree(t)
	assert.Equal(t, []string{"root", "side", "no-breathing", "aed", "cpr-2"}, Grounding(tree, 5))
	assert.Equal(t, []string{"root"}, Grounding(tree, 1))
	assert.Nil(t, Grounding(hazard.Tree{}, 5))
}

func TestLocal(t *testing.T) {
	tree := testTree(t)

	chunks, meta := Local(tree, "Wie tief muss ich drücken?", "de", "de")
	assert.Equal(t, SourceLocal, meta.Source)
	assert.Equal(t, []string{"root", "side", "no-breathing", "aed", "cpr-2"}, meta.UsedNodes)
	require.Len(t, chunks, 7)
	assert.Equal(t, "Laut Schema:\n", chunks[0].Text)
	assert.Equal(t, "- Atmet die Person normal?\n", chunks[1].Text)
	assert.Equal(t, "Nicht im Schema – 112 rufen.", chunks[6].Text)

	chunks, _ = Local(tree, "Where is the nearest parking?", "en", "de")
	assert.Equal(t, []Chunk{{Text: "Not in the scheme – call 112."}}, chunks)

	chunks, meta = Local(hazard.Tree{}, "Herzdruckmassage?", "fr", "de")
	assert.Equal(t, []Chunk{{Text: "Nicht im Schema – 112 rufen."}}, chunks)
	assert.Equal(t, []string{}, meta.UsedNodes)
}

func TestAnswererLocalOnly(t *testing.T) {
	a := NewAnswerer(nil, fakeTrees{tree: testTree(t)}, "de", slog.Default())

	var got []Chunk
	meta, err := a.Answer(context.Background(), Question{Hazard: "cardiac-arrest", Question: "Herzdruckmassage wie?"}, collect(&got))
	require.NoError(t, err)
	assert.Equal(t, SourceLocal, meta.Source)
	assert.False(t, got[0].Replace)
	assert.Equal(t, "Laut Schema:\n", got[0].Text)
}

func TestAnswererReplacesAfterUpstreamFailure(t *testing.T) {
	u := &upstream{
		streamStatus: 200,
		streamBody:   io.MultiReader(strings.NewReader("data: Drück\n\n"), brokenReader{}),
		answerStatus: 502,
		answerBody:   `{}`,
	}
	a := NewAnswerer(newTestClient(u), fakeTrees{tree: testTree(t)}, "de", slog.Default())

	var got []Chunk
	meta, err := a.Answer(context.Background(), question, collect(&got))
	require.NoError(t, err)
	assert.Equal(t, SourceLocal, meta.Source)
	assert.Equal(t, Chunk{Text: "Drück"}, got[0])
	assert.True(t, got[1].Replace)
	assert.Equal(t, "Laut Schema:\n", got[1].Text)
	for _, ch := range got[2:] {
		assert.False(t, ch.Replace)
	}
}

func TestAnswererWithoutTree(t *testing.T) {
	a := NewAnswerer(nil, fakeTrees{err: errors.New("no content")}, "de", slog.Default())
	_, err := a.Answer(context.Background(), question, collect(new([]Chunk)))
	assert.Error(t, err)
}
