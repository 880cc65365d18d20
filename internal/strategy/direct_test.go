package strategy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emp3thy/unsubscriber/internal/extract"
)

func TestDirectLink_CanHandle(t *testing.T) {
	d := NewDirectLink()
	assert.True(t, d.CanHandle(extract.Signals{BodyLinks: []string{"https://x.example/u"}}))
	assert.False(t, d.CanHandle(extract.Signals{HeaderLinks: []string{"https://x.example/u"}}))
}

func TestDirectLink_FirstLinkSucceeds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	out := NewDirectLink().Execute(context.Background(), extract.Signals{
		BodyLinks: []string{srv.URL + "/unsub"},
	})

	assert.True(t, out.Success)
	assert.Equal(t, NameDirectLink, out.Strategy)
}

func TestDirectLink_RetriesWithPostOn405(t *testing.T) {
	var methods []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		methods = append(methods, r.Method)
		if r.Method == http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	out := NewDirectLink().Execute(context.Background(), extract.Signals{
		BodyLinks: []string{srv.URL + "/unsub"},
	})

	assert.True(t, out.Success)
	assert.Equal(t, []string{http.MethodGet, http.MethodPost}, methods)
}

func TestDirectLink_FallsThroughLinks(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer bad.Close()
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer good.Close()

	out := NewDirectLink().Execute(context.Background(), extract.Signals{
		BodyLinks: []string{bad.URL, good.URL},
	})

	assert.True(t, out.Success)
}

func TestDirectLink_AllLinksFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	out := NewDirectLink().Execute(context.Background(), extract.Signals{
		BodyLinks: []string{srv.URL + "/a", srv.URL + "/b"},
	})

	require.False(t, out.Success)
	assert.Contains(t, out.Message, "2 body link(s)")
}

func TestDirectLink_TriesAtMostThreeLinks(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	out := NewDirectLink().Execute(context.Background(), extract.Signals{
		BodyLinks: []string{srv.URL + "/1", srv.URL + "/2", srv.URL + "/3", srv.URL + "/4"},
	})

	assert.False(t, out.Success)
	assert.Equal(t, 3, hits)
}

func TestDirectLink_SessionCookiePersistsAcrossRedirect(t *testing.T) {
	// The provider sets a session cookie on a redirect hop and only
	// accepts the unsubscribe once the cookie comes back.
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "abc"})
		http.Redirect(w, r, "/confirm", http.StatusFound)
	})
	mux.HandleFunc("/confirm", func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("session"); err != nil || c.Value != "abc" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	out := NewDirectLink().Execute(context.Background(), extract.Signals{
		BodyLinks: []string{srv.URL + "/start"},
	})

	assert.True(t, out.Success)
}

func TestDirectLink_Throttled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	out := NewDirectLink().Execute(context.Background(), extract.Signals{
		BodyLinks: []string{srv.URL},
	})

	assert.False(t, out.Success)
	assert.True(t, out.Throttled)
	assert.Equal(t, time.Duration(0), out.RetryAfter)
}
