package cluckosdk

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientRoutesAndAuth(t *testing.T) {
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Method+" "+r.URL.RequestURI())
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v0/auth/code":
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			json.NewEncoder(w).Encode(Session{Status: "code_requested", Step: "code_requested", Email: body["email"], CodeLength: 6})
		case "/v0/missions":
			json.NewEncoder(w).Encode(Missions{Items: []Mission{{ID: "1", Name: "Bridge", RewardAmount: "10"}}})
		case "/v0/missions/fee":
			w.Write([]byte(`{"fee":"5"}`))
		case "/v0/events":
			json.NewEncoder(w).Encode(PaginatedEvents{Items: []Event{{ID: 3, Type: "transaction.confirmed"}}, NextCursor: "3"})
		case "/v0/events/3":
			w.Write([]byte(`{"id":3,"type":"transaction.confirmed","entity_kind":"transaction","entity_id":"0xabc","payload":{}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := New(srv.URL + "/")
	c.AccessToken = "tok"
	ctx := context.Background()

	s, err := c.RequestCode(ctx, "a@b.com")
	if err != nil || s.Email != "a@b.com" || s.CodeLength != 6 {
		t.Fatalf("request code: %+v %v", s, err)
	}
	list, err := c.Missions(ctx, true)
	if err != nil || len(list.Items) != 1 || list.Items[0].Name != "Bridge" {
		t.Fatalf("missions: %+v %v", list, err)
	}
	fee, err := c.MissionFee(ctx)
	if err != nil || fee != "5" {
		t.Fatalf("fee: %q %v", fee, err)
	}
	page, err := c.EventsPage(ctx, EventQuery{Type: "transaction.*", Limit: 1})
	if err != nil || page.NextCursor != "3" || len(page.Items) != 1 {
		t.Fatalf("events: %+v %v", page, err)
	}
	evt, err := c.Event(ctx, 3)
	if err != nil || evt.EntityID != "0xabc" || evt.EntityKind != "transaction" {
		t.Fatalf("event: %+v %v", evt, err)
	}

	want := []string{
		"POST /v0/auth/code",
		"GET /v0/missions?refresh=true",
		"GET /v0/missions/fee",
		"GET /v0/events?limit=1&type=transaction.%2A",
		"GET /v0/events/3",
	}
	if len(seen) != len(want) {
		t.Fatalf("expected %v, got %v", want, seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("request %d: expected %q, got %q", i, want[i], seen[i])
		}
	}
}

func TestClientDecodesErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"code":"validation_failed","message":"target_contract: invalid address","details":{"field":"target_contract"}}}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL).CreateMission(context.Background(), CreateMissionRequest{Name: "x"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest || apiErr.Code != "validation_failed" || apiErr.Field() != "target_contract" {
		t.Fatalf("unexpected error: %+v", apiErr)
	}
	if err.Error() != "target_contract: invalid address" {
		t.Fatalf("unexpected message: %q", err.Error())
	}
}

func TestClientPlainErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("bad gateway"))
	}))
	defer srv.Close()

	err := New(srv.URL).Health(context.Background())
	if err == nil || err.Error() != "api error: status=502 body=bad gateway" {
		t.Fatalf("unexpected error: %v", err)
	}
}
