// Package api wires the OTP and connection-status HTTP endpoints.
//
// Response contract: every endpoint returns a boolean success plus a safe,
// non-leaking message. Detailed error text goes to the operational log only.
package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/omdev04/WhatsOTP/internal/auth"
	"github.com/omdev04/WhatsOTP/internal/otp"
	"github.com/omdev04/WhatsOTP/internal/supervisor"
)

const (
	defaultMaxBodyBytes = 1 << 20
	maxLogEntries       = 100
)

// Connection is the supervisor surface the API needs.
type Connection interface {
	Snapshot() supervisor.Snapshot
	ForceReset()
}

// Handler wires HTTP endpoints to the OTP engine and connection supervisor.
type Handler struct {
	log    *slog.Logger
	engine *otp.Engine
	conn   Connection
	authn  *auth.Authenticator

	maxBodyBytes int64
}

// NewHandler constructs an API handler.
func NewHandler(log *slog.Logger, engine *otp.Engine, conn Connection, authn *auth.Authenticator) *Handler {
	return &Handler{
		log:          log,
		engine:       engine,
		conn:         conn,
		authn:        authn,
		maxBodyBytes: defaultMaxBodyBytes,
	}
}

// Register wires routes onto the provided mux. The events stream endpoint is
// mounted separately by app wiring.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}

	protected := func(fn http.HandlerFunc) http.Handler {
		return h.authn.Require(fn)
	}

	mux.Handle("/otp/send", protected(h.handleSend))
	mux.Handle("/otp/verify", protected(h.handleVerify))
	mux.Handle("/otp/logs", protected(h.handleLogs))
	mux.Handle("/connection/qr", protected(h.handleQR))
	mux.Handle("/connection/reset", protected(h.handleReset))
	mux.HandleFunc("/connection/health", h.handleHealth)
}

// ---- handlers ----

func (h *Handler) handleSend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req sendRequest
	if err := decodeJSON(w, r, h.maxBodyBytes, &req); err != nil {
		writeResult(w, http.StatusBadRequest, false, "invalid request body")
		return
	}
	if req.Destination == "" {
		writeResult(w, http.StatusBadRequest, false, "destination is required")
		return
	}

	issuer := callerSubject(r)
	_, err := h.engine.Send(r.Context(), req.Destination, issuer)
	switch {
	case err == nil:
		writeResult(w, http.StatusOK, true, "OTP sent successfully")
	case errors.Is(err, otp.ErrInvalidDestination):
		writeResult(w, http.StatusBadRequest, false, "destination is invalid")
	case errors.Is(err, otp.ErrTransportUnavailable):
		writeResult(w, http.StatusInternalServerError, false, "messaging session is not connected")
	case errors.Is(err, otp.ErrDeliveryFailed):
		writeResult(w, http.StatusInternalServerError, false, "failed to send OTP")
	default:
		h.log.Error("api.otp.send.fail", "issuer", issuer, "err", err)
		writeResult(w, http.StatusInternalServerError, false, "internal error")
	}
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req verifyRequest
	if err := decodeJSON(w, r, h.maxBodyBytes, &req); err != nil {
		writeResult(w, http.StatusBadRequest, false, "invalid request body")
		return
	}
	if req.Destination == "" || req.Code == "" {
		writeResult(w, http.StatusBadRequest, false, "destination and code are required")
		return
	}

	issuer := callerSubject(r)
	err := h.engine.Verify(r.Context(), req.Destination, req.Code, issuer)
	switch {
	case err == nil:
		writeResult(w, http.StatusOK, true, "OTP verified successfully")
	case errors.Is(err, otp.ErrInvalidOrExpired):
		writeResult(w, http.StatusBadRequest, false, "invalid or expired OTP")
	default:
		h.log.Error("api.otp.verify.fail", "issuer", issuer, "err", err)
		writeResult(w, http.StatusInternalServerError, false, "internal error")
	}
}

func (h *Handler) handleLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	limit := maxLogEntries
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n < maxLogEntries {
			limit = n
		}
	}

	issuer := callerSubject(r)
	rows, err := h.engine.ListRecent(r.Context(), issuer, limit)
	if err != nil {
		h.log.Error("api.otp.logs.fail", "issuer", issuer, "err", err)
		writeResult(w, http.StatusInternalServerError, false, "internal error")
		return
	}

	out := make([]challengeResponse, 0, len(rows))
	for _, ch := range rows {
		out = append(out, toChallengeResponse(ch))
	}
	writeJSON(w, http.StatusOK, logsResponse{Success: true, Data: out})
}

func (h *Handler) handleQR(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	snap := h.conn.Snapshot()
	if snap.State != supervisor.StateAwaitingScan || snap.Credential == "" {
		writeResult(w, http.StatusNotFound, false, "no QR code available")
		return
	}
	writeJSON(w, http.StatusOK, qrResponse{Success: true, QR: snap.Credential})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	snap := h.conn.Snapshot()
	writeJSON(w, http.StatusOK, healthResponse{
		State:         snap.State.String(),
		HasCredential: snap.HasCredential,
	})
}

func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	h.log.Info("api.connection.reset", "issuer", callerSubject(r))
	h.conn.ForceReset()
	writeResult(w, http.StatusAccepted, true, "reconnect scheduled")
}

// ---- helpers ----

func callerSubject(r *http.Request) string {
	if id, ok := auth.IdentityFrom(r.Context()); ok {
		return id.Subject
	}
	return ""
}

func toChallengeResponse(ch otp.Challenge) challengeResponse {
	return challengeResponse{
		ID:          ch.ID,
		Destination: ch.Destination,
		Code:        ch.Code,
		IssuedAt:    ch.IssuedAt,
		ExpiresAt:   ch.ExpiresAt,
		Verified:    ch.Verified,
		VerifiedAt:  ch.VerifiedAt,
		Issuer:      ch.Issuer,
	}
}
