// Package types defines the wire types of the sidecar's HTTP API.
package types

type HealthResponse struct {
	Status    string   `json:"status"`
	Version   string   `json:"version"`
	Timestamp string   `json:"timestamp"`
	Providers []string `json:"providers"`
}

type SessionRequest struct {
	Provider     string `path:"provider"`
	ForceRefresh bool   `json:"forceRefresh" form:"force_refresh"`
}

type SessionResponse struct {
	Provider  string            `json:"provider"`
	Token     string            `json:"token,omitempty"`
	CSRFToken string            `json:"csrfToken,omitempty"`
	UserID    string            `json:"userId,omitempty"`
	Cookies   map[string]string `json:"cookies,omitempty"`
	FromCache bool              `json:"fromCache"`
	CreatedAt string            `json:"createdAt"`
	ExpiresAt string            `json:"expiresAt"`
}

type SMSRequest struct {
	PhoneNumber string `json:"phoneNumber"`
	Message     string `json:"message"`
}

type SMSAttempt struct {
	ID       string `json:"id"`
	Strategy string `json:"strategy"`
	Outcome  string `json:"outcome"`
	Evidence string `json:"evidence,omitempty"`
}

type SMSResponse struct {
	Confirmed bool         `json:"confirmed"`
	Strategy  string       `json:"strategy"`
	Detail    string       `json:"detail,omitempty"`
	Attempts  []SMSAttempt `json:"attempts"`
}

type ChatRequest struct {
	Message string `json:"message"`
}

type ChatResponse struct {
	Reply string `json:"reply"`
}

type ChatStatusResponse struct {
	Phase     string `json:"phase"`
	LastError string `json:"lastError,omitempty"`
}

type ClearCacheResponse struct {
	Cleared []string `json:"cleared"`
}
