package request

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.xela.dev/mffilter/internal/testutil"
)

type roundTripFunc func(r *http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func testClient(mux *http.ServeMux) *http.Client {
	return &http.Client{
		Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, r)
			return w.Result(), nil
		}),
	}
}

func TestMake(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("GET example.com/ok", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"hello": "world"}`))
	})

	res, err := Make[map[string]string](context.Background(), Params{
		Method:     http.MethodGet,
		URL:        "https://example.com/ok",
		HTTPClient: testClient(mux),
	})
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, res, map[string]string{"hello": "world"})
}

func TestMakeAcceptsNoContent(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("PUT example.com/entries", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	_, err := Make[IgnoreResponse](context.Background(), Params{
		Method:     http.MethodPut,
		URL:        "https://example.com/entries",
		Body:       map[string]string{"status": "read"},
		HTTPClient: testClient(mux),
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestMakeStatusError(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("GET example.com/secret", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "access denied", http.StatusUnauthorized)
	})

	_, err := Make[IgnoreResponse](context.Background(), Params{
		Method:     http.MethodGet,
		URL:        "https://example.com/secret",
		HTTPClient: testClient(mux),
	})

	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("want StatusError, got %v", err)
	}
	testutil.AssertEqual(t, se.StatusCode, http.StatusUnauthorized)
	if !strings.Contains(string(se.Body), "access denied") {
		t.Fatalf("remote body not carried in error: %q", se.Body)
	}
}

func TestMakeScrubsErrors(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("GET example.com/fail", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "token s3cret rejected", http.StatusForbidden)
	})

	_, err := Make[IgnoreResponse](context.Background(), Params{
		Method:     http.MethodGet,
		URL:        "https://example.com/fail",
		HTTPClient: testClient(mux),
		Scrubber:   strings.NewReplacer("s3cret", "[EXPUNGED]"),
	})
	if err == nil {
		t.Fatal("want error")
	}
	if strings.Contains(err.Error(), "s3cret") {
		t.Fatalf("error message leaks the token: %v", err)
	}
	if !strings.Contains(err.Error(), "[EXPUNGED]") {
		t.Fatalf("error message is not scrubbed: %v", err)
	}
}
