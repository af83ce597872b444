package domain

// Session is one participant's run through the donation flow.
type Session struct {
	ID        string `json:"id"`
	Status    string `json:"status" enum:"active,finished"`
	State     string `json:"state"`
	Platform  string `json:"platform,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

// Donation is one persisted donate command payload.
type Donation struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`
	Key       string `json:"key"`
	Payload   string `json:"payload_json"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Event is one row of the append-only status/log event stream.
type Event struct {
	ID        int64  `json:"id"`
	TS        string `json:"ts" format:"date-time"`
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Platform  string `json:"platform,omitempty"`
	Payload   string `json:"payload_json"`
}
