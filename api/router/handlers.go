package router

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"

	"github.com/tbeaudouin05/snapcal-api/api/auth"
	diaryapp "github.com/tbeaudouin05/snapcal-api/api/services/diary/app"
)

// maxWebhookBody caps Stripe payloads; real events are a few KiB.
const maxWebhookBody = 1 << 20

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h handlers) register(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req credentialsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	resp, err := h.Users.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h handlers) login(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req credentialsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	resp, err := h.Users.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h handlers) access(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	claims, _ := auth.FromContext(r.Context())
	ev, err := h.Access.CheckAccess(r.Context(), claims.UserID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (h handlers) checkout(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	claims, _ := auth.FromContext(r.Context())
	resp, err := h.Billing.StartCheckout(r.Context(), claims.UserID, claims.Email)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h handlers) cancel(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	claims, _ := auth.FromContext(r.Context())
	if err := h.Billing.CancelSubscription(r.Context(), claims.UserID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancellation_requested"})
}

func (h handlers) stripeWebhook(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	sig := r.Header.Get("Stripe-Signature")
	if sig == "" {
		writeError(w, http.StatusBadRequest, "missing Stripe-Signature header")
		return
	}
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}
	if err := h.Billing.HandleBillingEvent(r.Context(), payload, sig); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

func (h handlers) addEntry(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req diaryapp.AddEntryRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	claims, _ := auth.FromContext(r.Context())
	e, err := h.Diary.Add(r.Context(), claims.UserID, req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

func (h handlers) listEntries(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	claims, _ := auth.FromContext(r.Context())
	day, err := h.Diary.ListDay(r.Context(), claims.UserID, r.URL.Query().Get("date"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, day)
}

func (h handlers) deleteEntry(w http.ResponseWriter, r *http.Request, params map[string]string) {
	claims, _ := auth.FromContext(r.Context())
	if err := h.Diary.Delete(r.Context(), claims.UserID, params["id"]); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// authenticated requires a valid bearer token and stores its claims in the
// request context.
func (h handlers) authenticated(next runtime.HandlerFunc) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || raw == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		claims, err := auth.ParseToken(raw, h.JWTSecret)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		next(w, r.WithContext(auth.WithClaims(r.Context(), claims)), params)
	}
}

// entitled lets the request through only while the caller has access; otherwise
// it answers 402 with the evaluation.
func (h handlers) entitled(next runtime.HandlerFunc) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		claims, _ := auth.FromContext(r.Context())
		ev, err := h.Access.CheckAccess(r.Context(), claims.UserID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		if !ev.Entitled {
			writeJSON(w, http.StatusPaymentRequired, ev)
			return
		}
		next(w, r, params)
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var syntax *json.SyntaxError
		msg := "invalid JSON body"
		if errors.As(err, &syntax) || errors.Is(err, io.EOF) {
			msg = "malformed JSON body"
		}
		writeError(w, http.StatusBadRequest, msg)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
