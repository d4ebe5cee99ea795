package synth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"tts-batch/internal/domain"
)

func TestListModelsSortsGroupsAndModels(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tts/models" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"name":"XTTS","language":["en","de"],"models":["v2","v1"]},
			{"name":"F5","language":null,"models":["small","base"]}
		]`))
	}))
	defer server.Close()

	groups, err := NewClient(server.URL, nil, 0).ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels() error = %v", err)
	}

	want := []domain.ModelGroup{
		{Name: "F5", Language: []string{}, Models: []string{"base", "small"}},
		{Name: "XTTS", Language: []string{"en", "de"}, Models: []string{"v1", "v2"}},
	}
	if !reflect.DeepEqual(groups, want) {
		t.Fatalf("groups = %+v, want %+v", groups, want)
	}
}

func TestListModelsRejectsInvalidPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"language":["en"]}]`))
	}))
	defer server.Close()

	_, err := NewClient(server.URL, nil, 0).ListModels(context.Background())
	var protoErr *ProtocolError
	if !errors.As(err, &protoErr) {
		t.Fatalf("error = %v, want ProtocolError", err)
	}
}

func TestListModelsHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"warming up"}`))
	}))
	defer server.Close()

	_, err := NewClient(server.URL, nil, 0).ListModels(context.Background())
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.Message != "warming up" {
		t.Fatalf("error = %v, want HTTPError with message", err)
	}
}

func TestCommonLanguages(t *testing.T) {
	groups := []domain.ModelGroup{
		{Name: "F5", Language: []string{"en", "zh", "de"}},
		{Name: "XTTS", Language: []string{"de", "en", "fr"}},
		{Name: "Bark", Language: []string{"fr"}},
	}

	got := CommonLanguages(groups, []domain.Selection{
		{GroupName: "F5", ModelName: "base"},
		{GroupName: "XTTS", ModelName: "v2"},
		{GroupName: "F5", ModelName: "small"},
	})
	if !reflect.DeepEqual(got, []string{"en", "de"}) {
		t.Fatalf("CommonLanguages() = %v, want [en de]", got)
	}

	got = CommonLanguages(groups, []domain.Selection{
		{GroupName: "F5", ModelName: "base"},
		{GroupName: "Bark", ModelName: "large"},
	})
	if len(got) != 0 {
		t.Fatalf("CommonLanguages() = %v, want empty", got)
	}

	if got := CommonLanguages(groups, nil); len(got) != 0 {
		t.Fatalf("CommonLanguages(nil) = %v, want empty", got)
	}
}
