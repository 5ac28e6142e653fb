package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chatsync/internal/domain"
	"chatsync/internal/usecase"
)

// fakeGetter serves the token parameter from memory.
// errs are returned by successive calls before falling back to err.
type fakeGetter struct {
	val   string
	err   error
	errs  []error
	calls int
	names []string
}

func (g *fakeGetter) GetJSON(_ context.Context, name string, v any) error {
	g.calls++
	g.names = append(g.names, name)
	if len(g.errs) > 0 {
		err := g.errs[0]
		g.errs = g.errs[1:]
		return err
	}
	if g.err != nil {
		return g.err
	}
	return json.Unmarshal([]byte(g.val), v)
}

func newTestClient(t *testing.T, srv *httptest.Server, g *fakeGetter) *Client {
	t.Helper()
	if g == nil {
		g = &fakeGetter{val: `{"token":"tok"}`}
	}
	c, err := NewClient(g, "/chatsync/", srv.URL+"/", WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	return c
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(nil, "/p", "http://x")
	require.ErrorContains(t, err, "nil")
	_, err = NewClient(&fakeGetter{}, " ", "http://x")
	require.ErrorContains(t, err, "prefix")
	_, err = NewClient(&fakeGetter{}, "/p", "")
	require.ErrorContains(t, err, "base URL")
}

func TestFetchHistory_HappyPath(t *testing.T) {
	var gotAuth, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.EscapedPath()
		require.Equal(t, http.MethodGet, r.Method)
		_, _ = w.Write([]byte(`[
			{"role":"user","content":"hi","created_at":"2024-05-01T12:00:00Z"},
			{"role":"Assistant","content":"hello"}
		]`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, nil)
	recs, err := c.FetchHistory(context.Background(), "conv 1")
	require.NoError(t, err)
	require.Equal(t, "Bearer tok", gotAuth)
	require.Equal(t, "/conversations/conv%201/messages", gotPath)
	require.Equal(t, []domain.HistoryRecord{
		{Role: domain.RoleUser, Content: "hi", CreatedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)},
		{Role: domain.RoleAssistant, Content: "hello"},
	}, recs)
}

func TestFetchHistory_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, nil)
	_, err := c.FetchHistory(context.Background(), "c1")
	var se *HTTPStatusError
	require.ErrorAs(t, err, &se)
	require.Equal(t, http.StatusBadGateway, se.HTTPStatusCode())
	require.Contains(t, se.Body, "nope")
}

func TestFetchHistory_DecodeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"not":"a list"}`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv, nil).FetchHistory(context.Background(), "c1")
	require.ErrorContains(t, err, "decode history")
}

func TestSubmitMessage_PostsPayload(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/chat", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	err := newTestClient(t, srv, nil).SubmitMessage(context.Background(), usecase.SubmitRequest{
		Content:        "make it blue",
		ConversationID: "c1",
		ImageBase64:    "aGVsbG8=",
	})
	require.NoError(t, err)
	require.Equal(t, chatRequest{Content: "make it blue", ConversationID: "c1", ImageBase64: "aGVsbG8="}, got)
}

func TestSubmitMessage_OmitsEmptyImage(t *testing.T) {
	var raw map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
	}))
	defer srv.Close()

	require.NoError(t, newTestClient(t, srv, nil).SubmitMessage(context.Background(), usecase.SubmitRequest{Content: "x", ConversationID: "c1"}))
	_, has := raw["imageBase64"]
	require.False(t, has)
}

func TestResolveToken_FetchedOnce(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	g := &fakeGetter{val: `{"token":"tok"}`}
	c := newTestClient(t, srv, g)
	for range 3 {
		_, err := c.FetchHistory(context.Background(), "c1")
		require.NoError(t, err)
	}
	require.Equal(t, 1, g.calls)
	require.Equal(t, []string{"/chatsync/backend-token"}, g.names)
}

func TestResolveToken_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("request must not be sent without a token")
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv, &fakeGetter{err: errors.New("ssm down")}).FetchHistory(context.Background(), "c1")
	require.ErrorContains(t, err, "ssm down")

	err = newTestClient(t, srv, &fakeGetter{val: `{"token":""}`}).SubmitMessage(context.Background(), usecase.SubmitRequest{})
	require.ErrorContains(t, err, "empty")
}

func TestResolveToken_RetriesAfterFailure(t *testing.T) {
	var auth []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = append(auth, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	g := &fakeGetter{val: `{"token":"tok"}`, errs: []error{errors.New("throttled")}}
	c := newTestClient(t, srv, g)

	_, err := c.FetchHistory(context.Background(), "c1")
	require.ErrorContains(t, err, "throttled")
	require.Empty(t, auth)

	for range 2 {
		_, err = c.FetchHistory(context.Background(), "c1")
		require.NoError(t, err)
	}
	require.Equal(t, 2, g.calls)
	require.Equal(t, []string{"Bearer tok", "Bearer tok"}, auth)
}
