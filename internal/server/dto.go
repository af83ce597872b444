package server

import (
	"encoding/json"

	"portside/internal/domain"
	"portside/internal/flow"
)

type SessionResponse struct {
	ID        string `json:"id"`
	Status    string `json:"status" enum:"active,finished"`
	State     string `json:"state"`
	Platform  string `json:"platform,omitempty"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// StartSessionResponse carries the fresh session, its bearer token and the
// opening commands, ending in the first page to render.
type StartSessionResponse struct {
	Session  SessionResponse `json:"session"`
	Token    string          `json:"token,omitempty"`
	Commands []flow.Command  `json:"commands"`
}

type AdvanceRequest struct {
	Kind    string          `json:"kind" enum:"file,confirm,consent,none"`
	Value   string          `json:"value,omitempty"`
	Consent json.RawMessage `json:"consent,omitempty"`
}

type AdvanceResponse struct {
	Session  SessionResponse `json:"session"`
	Commands []flow.Command  `json:"commands"`
}

type DonationResponse struct {
	ID        string          `json:"id"`
	SessionID string          `json:"session_id"`
	Key       string          `json:"key"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt string          `json:"created_at"`
}

type EventResponse struct {
	ID        int64           `json:"id"`
	TS        string          `json:"ts"`
	Type      string          `json:"type"`
	SessionID string          `json:"session_id,omitempty"`
	Platform  string          `json:"platform,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

func sessionResponse(s domain.Session) SessionResponse {
	return SessionResponse{
		ID:        s.ID,
		Status:    s.Status,
		State:     s.State,
		Platform:  s.Platform,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

func mapSessions(items []domain.Session) []SessionResponse {
	res := make([]SessionResponse, 0, len(items))
	for _, s := range items {
		res = append(res, sessionResponse(s))
	}
	return res
}

func mapDonations(items []domain.Donation) []DonationResponse {
	res := make([]DonationResponse, 0, len(items))
	for _, d := range items {
		res = append(res, DonationResponse{
			ID:        d.ID,
			SessionID: d.SessionID,
			Key:       d.Key,
			Payload:   rawOrString(d.Payload),
			CreatedAt: d.CreatedAt,
		})
	}
	return res
}

func mapEvents(items []domain.Event) []EventResponse {
	res := make([]EventResponse, 0, len(items))
	for _, e := range items {
		res = append(res, EventResponse{
			ID:        e.ID,
			TS:        e.TS,
			Type:      e.Type,
			SessionID: e.SessionID,
			Platform:  e.Platform,
			Payload:   rawOrString(e.Payload),
		})
	}
	return res
}

// rawOrString passes stored JSON through untouched and re-encodes anything
// else as a JSON string.
func rawOrString(payload string) json.RawMessage {
	if payload == "" {
		return json.RawMessage(`null`)
	}
	if json.Valid([]byte(payload)) {
		return json.RawMessage(payload)
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return json.RawMessage(`null`)
	}
	return b
}
