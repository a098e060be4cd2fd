package api

import "time"

type sendRequest struct {
	Destination string `json:"destination"`
}

type verifyRequest struct {
	Destination string `json:"destination"`
	Code        string `json:"code"`
}

type statusResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

type challengeResponse struct {
	ID          string     `json:"id"`
	Destination string     `json:"destination"`
	Code        string     `json:"code"`
	IssuedAt    time.Time  `json:"issued_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	Verified    bool       `json:"verified"`
	VerifiedAt  *time.Time `json:"verified_at,omitempty"`
	Issuer      string     `json:"issuer"`
}

type logsResponse struct {
	Success bool                `json:"success"`
	Data    []challengeResponse `json:"data"`
}

type qrResponse struct {
	Success bool   `json:"success"`
	QR      string `json:"qr"`
}

type healthResponse struct {
	State         string `json:"state"`
	HasCredential bool   `json:"has_credential"`
}
