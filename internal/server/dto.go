package server

import (
	"encoding/json"
	"time"

	"clucko/internal/domain"
	"clucko/internal/ledger"
)

// Request payloads

type RequestCodeRequest struct {
	Email string `json:"email" example:"a@b.com"`
}

type VerifyCodeRequest struct {
	Code string `json:"code" example:"123456"`
}

type CreateMissionRequest struct {
	Name           string `json:"name"`
	Description    string `json:"description"`
	TargetContract string `json:"target_contract" example:"0x5300000000000000000000000000000000000004"`
	RewardAmount   string `json:"reward_amount" example:"1000000000000000000" doc:"Base-10 integer in the token's smallest unit"`
	RewardToken    string `json:"reward_token,omitempty" doc:"Defaults to the configured feeds token"`
}

type DevInitRequest struct {
	Email string `json:"email"`
}

type DevAuthenticateRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

// Response payloads

type SessionResponse struct {
	Status        string `json:"status" enum:"anonymous,code_requested,authenticated,error"`
	Step          string `json:"step" enum:"anonymous,code_requested,authenticated"`
	Email         string `json:"email,omitempty"`
	ErrorMessage  string `json:"error_message,omitempty"`
	Authenticated bool   `json:"authenticated"`
	Subject       string `json:"subject,omitempty"`
	ExpiresAt     string `json:"expires_at,omitempty" format:"date-time"`
	CodeLength    int    `json:"code_length"`
}

type MissionResponse struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Description    string `json:"description"`
	TargetContract string `json:"target_contract"`
	RewardAmount   string `json:"reward_amount"`
	RewardToken    string `json:"reward_token"`
	IsActive       bool   `json:"is_active"`
}

type MissionsResponse struct {
	Items   []MissionResponse `json:"items"`
	Loading bool              `json:"loading"`
	Error   string            `json:"error,omitempty"`
}

type FeeResponse struct {
	Fee string `json:"fee" doc:"Wei paid with createMission"`
}

type TransactionResponse struct {
	Status    string `json:"status" enum:"idle,pending,confirmed,failed"`
	Hash      string `json:"hash,omitempty"`
	Error     string `json:"error,omitempty"`
	Settled   bool   `json:"settled" doc:"True once the write is confirmed or failed"`
	UpdatedAt string `json:"updated_at,omitempty" format:"date-time"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	Payload    map[string]any `json:"payload"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type DevAuthenticateResponse struct {
	Token     string `json:"token"`
	Subject   string `json:"subject"`
	ExpiresAt string `json:"expires_at" format:"date-time"`
}

func sessionResponse(s domain.Session, codeLength int) SessionResponse {
	res := SessionResponse{
		Status:        string(s.Status),
		Step:          string(s.Step),
		Email:         s.Email,
		ErrorMessage:  s.ErrorMessage,
		Authenticated: s.Authenticated(),
		CodeLength:    codeLength,
	}
	if s.Token != nil {
		res.Subject = s.Token.Subject
		if !s.Token.ExpiresAt.IsZero() {
			res.ExpiresAt = s.Token.ExpiresAt.UTC().Format(time.RFC3339)
		}
	}
	return res
}

func missionResponse(m domain.Mission) MissionResponse {
	res := MissionResponse{
		ID:             m.ID,
		Name:           m.Name,
		Description:    m.Description,
		TargetContract: m.TargetContract.Hex(),
		RewardToken:    m.RewardToken.Hex(),
		IsActive:       m.IsActive,
		RewardAmount:   "0",
	}
	if m.RewardAmount != nil {
		res.RewardAmount = m.RewardAmount.String()
	}
	return res
}

func missionsResponse(r ledger.FetchResult) MissionsResponse {
	res := MissionsResponse{Items: make([]MissionResponse, 0, len(r.Missions)), Loading: r.Loading, Error: r.Error}
	for _, m := range r.Missions {
		res.Items = append(res.Items, missionResponse(m))
	}
	return res
}

func transactionResponse(tx domain.TransactionRecord) TransactionResponse {
	res := TransactionResponse{Status: string(tx.Status), Hash: tx.Hash, Error: tx.Error, Settled: tx.Terminal()}
	if !tx.UpdatedAt.IsZero() {
		res.UpdatedAt = tx.UpdatedAt.UTC().Format(time.RFC3339)
	}
	return res
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return map[string]any{}
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil || out == nil {
		return map[string]any{"raw": raw}
	}
	return out
}
