package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/breachymba/hub/internal/auth"
	"github.com/breachymba/hub/internal/store"
)

// telegramLoginRequest carries the raw init data string from the web app.
type telegramLoginRequest struct {
	InitData string `json:"initData"`
}

// telegramLoginResponse is the minted session and the account it belongs to.
type telegramLoginResponse struct {
	Token   string       `json:"token"`
	User    userResponse `json:"user"`
	IsAdmin bool         `json:"isAdmin"`
}

// verificationErrorResponse carries the closed rejection code alongside the
// error message so clients can branch on it.
type verificationErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// telegramLogin handles POST /api/auth/telegram
func (rr *Routes) telegramLogin(w http.ResponseWriter, r *http.Request) {
	var req telegramLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		rr.writeErrorResponse(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	identity, err := rr.verifier.Verify(req.InitData)
	if err != nil {
		var verr *auth.VerificationError
		if errors.As(err, &verr) {
			slog.Info("Telegram login rejected", "code", verr.Code)
			rr.writeVerificationError(w, verr)
			return
		}
		slog.Error("Telegram verification failed", "error", err)
		rr.writeErrorResponse(w, "Verification failed", http.StatusInternalServerError)
		return
	}
	if identity == nil {
		slog.Info("Telegram login rejected", "reason", "no user in init data")
		rr.writeErrorResponse(w, "Verification failed", http.StatusUnauthorized)
		return
	}

	user, err := rr.store.UpsertUser(r.Context(), identity.TelegramID, identity.DisplayName())
	if err != nil {
		slog.Error("Failed to upsert user", "telegram_id", identity.TelegramID, "error", err)
		rr.writeErrorResponse(w, "Failed to create session", http.StatusInternalServerError)
		return
	}

	isAdmin := rr.isAdmin(user.TelegramID)
	token, err := rr.sessions.Mint(user.ID, user.TelegramID, user.Username, isAdmin)
	if err != nil {
		slog.Error("Failed to mint session token", "user_id", user.ID, "error", err)
		rr.writeErrorResponse(w, "Failed to create session", http.StatusInternalServerError)
		return
	}

	rr.writeJSONResponse(w, telegramLoginResponse{
		Token:   token,
		User:    toUser(user),
		IsAdmin: isAdmin,
	})
}

// getMe handles GET /api/me
func (rr *Routes) getMe(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		rr.writeErrorResponse(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	user, err := rr.store.GetUserByTelegramID(r.Context(), claims.TelegramID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			rr.writeErrorResponse(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		slog.Error("Failed to load user", "telegram_id", claims.TelegramID, "error", err)
		rr.writeErrorResponse(w, "Failed to load user", http.StatusInternalServerError)
		return
	}

	rr.writeJSONResponse(w, struct {
		User    userResponse `json:"user"`
		IsAdmin bool         `json:"isAdmin"`
	}{
		User:    toUser(user),
		IsAdmin: claims.IsAdmin,
	})
}

// writeVerificationError writes a 401 with the rejection code.
func (rr *Routes) writeVerificationError(w http.ResponseWriter, verr *auth.VerificationError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)

	resp := verificationErrorResponse{
		Error: "Verification failed",
		Code:  verr.Code,
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("Failed to encode error response", "error", err)
	}
}
