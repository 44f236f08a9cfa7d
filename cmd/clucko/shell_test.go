package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	cluckosdk "clucko/sdk/go"
)

// fakeGateway implements just enough of the gateway for the shell.
type fakeGateway struct {
	mu       sync.Mutex
	session  cluckosdk.Session
	missions []cluckosdk.Mission
	created  []cluckosdk.CreateMissionRequest
}

func (g *fakeGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	defer g.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	var body map[string]string
	if r.Method == http.MethodPost && r.URL.Path != "/v0/missions" {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	switch r.Method + " " + r.URL.Path {
	case "GET /v0/health":
		w.Write([]byte(`{"status":"ok"}`))
	case "GET /v0/session":
		json.NewEncoder(w).Encode(g.session)
	case "POST /v0/auth/code":
		g.session = cluckosdk.Session{Status: "code_requested", Step: "code_requested", Email: body["email"], CodeLength: 6}
		json.NewEncoder(w).Encode(g.session)
	case "POST /v0/auth/verify":
		if body["code"] != "123456" {
			g.session.Status = "error"
			g.session.ErrorMessage = "invalid code"
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":{"code":"identity_rejected","message":"invalid code"}}`))
			return
		}
		g.session = cluckosdk.Session{Status: "authenticated", Step: "authenticated", Email: g.session.Email, Authenticated: true, Subject: "user-1", CodeLength: 6}
		json.NewEncoder(w).Encode(g.session)
	case "POST /v0/auth/logout":
		g.session = cluckosdk.Session{Status: "anonymous", Step: "anonymous", CodeLength: 6}
		json.NewEncoder(w).Encode(g.session)
	case "GET /v0/missions":
		json.NewEncoder(w).Encode(cluckosdk.Missions{Items: g.missions})
	case "GET /v0/missions/fee":
		w.Write([]byte(`{"fee":"5"}`))
	case "POST /v0/missions":
		var req cluckosdk.CreateMissionRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.TargetContract == "bad" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":{"code":"validation_failed","message":"target_contract: invalid address","details":{"field":"target_contract"}}}`))
			return
		}
		g.created = append(g.created, req)
		g.missions = append(g.missions, cluckosdk.Mission{ID: "2", Name: req.Name, TargetContract: req.TargetContract, RewardAmount: req.RewardAmount, IsActive: true})
		json.NewEncoder(w).Encode(cluckosdk.Transaction{Status: "confirmed", Hash: "0xabc", Settled: true})
	case "GET /v0/events/7":
		w.Write([]byte(`{"id":7,"ts":"2024-01-01T00:00:00Z","type":"transaction.submitted","entity_kind":"transaction","entity_id":"0xabc","payload":{"fee":"5"}}`))
	case "GET /v0/transaction":
		w.Write([]byte(`{"status":"pending","hash":"0xdef","settled":false}`))
	default:
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":{"code":"not_found","message":"not found"}}`))
	}
}

func runShell(t *testing.T, g *fakeGateway, script string) string {
	t.Helper()
	srv := httptest.NewServer(g)
	defer srv.Close()
	var out bytes.Buffer
	sh := newShell(cluckosdk.New(srv.URL), strings.NewReader(script), &out)
	if err := sh.Run(context.Background()); err != nil {
		t.Fatalf("shell: %v", err)
	}
	return out.String()
}

func TestShellLoginFlow(t *testing.T) {
	g := &fakeGateway{session: cluckosdk.Session{Status: "anonymous", Step: "anonymous", CodeLength: 6}}
	out := runShell(t, g, strings.Join([]string{
		"session",
		"login a@b.com",
		"code 000000",
		"code 123456",
		"logout",
		"quit",
		"session",
	}, "\n"))

	for _, want := range []string{
		"Signed out",
		"Code sent to a@b.com. Enter it with: code <6 characters>",
		"error: invalid code",
		"Signed in as a@b.com (user-1)",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
	if strings.Count(out, "Signed out") != 2 {
		t.Fatalf("expected quit to stop before the trailing session command:\n%s", out)
	}
}

func TestShellCreateMission(t *testing.T) {
	g := &fakeGateway{session: cluckosdk.Session{Status: "anonymous", Step: "anonymous"}}
	out := runShell(t, g, strings.Join([]string{
		"create",
		"Swap",
		"Swap on the DEX",
		"bad",
		"25",
		"",
		"create",
		"Swap",
		"Swap on the DEX",
		"0x5300000000000000000000000000000000000004",
		"25",
		"",
		"tx",
	}, "\n"))

	if !strings.Contains(out, "error: target_contract: invalid address") {
		t.Fatalf("expected validation error in output:\n%s", out)
	}
	if !strings.Contains(out, "Submitting createMission with fee 5 wei") {
		t.Fatalf("expected fee notice in output:\n%s", out)
	}
	if !strings.Contains(out, "Transaction confirmed: 0xabc") {
		t.Fatalf("expected confirmation in output:\n%s", out)
	}
	if strings.Count(out, "Waiting for confirmation") != 1 || !strings.Contains(out, "Transaction pending: 0xdef") {
		t.Fatalf("expected only the pending tx to wait:\n%s", out)
	}
	if !strings.Contains(out, "0x5300000000000000000000000000000000000004") {
		t.Fatalf("expected refreshed mission table in output:\n%s", out)
	}
	if len(g.created) != 1 || g.created[0].RewardToken != "" || g.created[0].RewardAmount != "25" {
		t.Fatalf("unexpected create requests: %+v", g.created)
	}
}

func TestShellUnknownCommand(t *testing.T) {
	g := &fakeGateway{}
	out := runShell(t, g, "frobnicate\nevents x\nevent 7\nevent 8\n")
	if !strings.Contains(out, `error: unknown command "frobnicate"; type help`) {
		t.Fatalf("unexpected output:\n%s", out)
	}
	if !strings.Contains(out, "error: usage: events [n]") {
		t.Fatalf("expected events usage error:\n%s", out)
	}
	if !strings.Contains(out, "#7 2024-01-01T00:00:00Z transaction.submitted transaction:0xabc") || !strings.Contains(out, "  fee: 5") {
		t.Fatalf("expected event detail:\n%s", out)
	}
	if !strings.Contains(out, "error: not found") {
		t.Fatalf("expected not found error:\n%s", out)
	}
}
