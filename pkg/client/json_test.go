package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/queryflow/queryflow/internal/testutil"
)

type testUser struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

func TestGetJSON(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()

	mock.SetResponse("/users/1", testutil.NewJSONResponse(`{"id": 1, "name": "alice"}`))

	producer := GetJSON[testUser](nil, mock.URL()+"/users/1")
	user, err := producer(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user.ID != 1 || user.Name != "alice" {
		t.Errorf("got %+v, want {1 alice}", user)
	}
	if mock.RequestCount("/users/1") != 1 {
		t.Errorf("request count = %d, want 1", mock.RequestCount("/users/1"))
	}
}

func TestGetJSON_NotFound(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()

	mock.SetResponse("/users/999", testutil.NewNotFoundResponse())

	producer := GetJSON[testUser](nil, mock.URL()+"/users/999")
	_, err := producer(context.Background())
	if err == nil {
		t.Fatal("expected error for 404")
	}

	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected *HTTPError, got %T", err)
	}
	if httpErr.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", httpErr.StatusCode)
	}
	if !strings.Contains(httpErr.Body, "not found") {
		t.Errorf("error body %q should carry the response body", httpErr.Body)
	}
}

func TestGetJSON_DecodeFailure(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()

	mock.SetResponse("/broken", testutil.NewJSONResponse(`{not json`))

	producer := GetJSON[testUser](nil, mock.URL()+"/broken")
	_, err := producer(context.Background())
	if err == nil {
		t.Fatal("expected decode error")
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		t.Errorf("decode failure must stay a plain error, got HTTPError %v", httpErr)
	}
}

func TestGetJSON_NetworkError(t *testing.T) {
	producer := GetJSON[testUser](nil, "http://127.0.0.1:1/unreachable")
	_, err := producer(context.Background())
	if err == nil {
		t.Fatal("expected network error")
	}
	if got := Classify(err); got != ErrorClassNetwork {
		t.Errorf("Classify = %q, want %q", got, ErrorClassNetwork)
	}
}

func TestPostJSON(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()

	mock.SetHandler("/users", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), `"name":"carol"`) {
			t.Errorf("request body %q missing variables", body)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id": 3, "name": "carol"}`))
	})

	executor := PostJSON[testUser, testUser](nil, mock.URL()+"/users")
	created, err := executor(context.Background(), testUser{Name: "carol"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created.ID != 3 {
		t.Errorf("created.ID = %d, want 3", created.ID)
	}
	if mock.LastMethod() != http.MethodPost {
		t.Errorf("method = %q, want POST", mock.LastMethod())
	}
}

func TestDeleteJSON_NoContent(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()

	mock.SetResponse("/users/3", testutil.MockResponse{StatusCode: http.StatusNoContent})

	executor := DeleteJSON[struct{}, struct{}](nil, mock.URL()+"/users/3")
	_, err := executor(context.Background(), struct{}{})
	if err != nil {
		t.Fatalf("204 should not error: %v", err)
	}
	if mock.LastMethod() != http.MethodDelete {
		t.Errorf("method = %q, want DELETE", mock.LastMethod())
	}
}

func TestSendJSON_EmptySuccessBody(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()

	mock.SetResponse("/ack", testutil.MockResponse{StatusCode: http.StatusOK})

	executor := PutJSON[testUser, struct{}](nil, mock.URL()+"/ack")
	out, err := executor(context.Background(), struct{}{})
	if err != nil {
		t.Fatalf("empty 2xx body should not error: %v", err)
	}
	if out != (testUser{}) {
		t.Errorf("got %+v, want zero value", out)
	}
}

func TestSendJSON_ServerError(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()

	mock.SetResponse("/users", testutil.NewServerErrorResponse())

	executor := PostJSON[testUser, testUser](nil, mock.URL()+"/users")
	_, err := executor(context.Background(), testUser{Name: "dave"})

	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected *HTTPError, got %v", err)
	}
	if httpErr.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", httpErr.StatusCode)
	}
}
