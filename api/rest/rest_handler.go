package rest

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/velora-app/chatcore/chat"
)

type Handler struct {
	Service *chat.Service
}

func NewHandler(svc *chat.Service) *Handler {
	return &Handler{Service: svc}
}

type loginRequest struct {
	Provider string `json:"provider"`
	Code     string `json:"code"`
}

type loginResponse struct {
	Id          string `json:"id"`
	DisplayName string `json:"displayName"`
	Provider    string `json:"provider"`
	Credits     int    `json:"credits"`
	Token       string `json:"token"`
}

func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	user, token, err := h.Service.Login(r.Context(), req.Provider, req.Code)
	if err != nil {
		log.Printf("Login failed: %v", err)
		http.Error(w, "login failed", http.StatusInternalServerError)
		return
	}

	resp := loginResponse{
		Id:          user.Id,
		DisplayName: user.DisplayName,
		Provider:    user.Provider,
		Credits:     user.Credits,
		Token:       token,
	}
	h.sendResponse(w, resp)
}

type getUserResponse struct {
	Id          string `json:"id"`
	DisplayName string `json:"displayName"`
	Provider    string `json:"provider"`
	Credits     int    `json:"credits"`
}

func (h *Handler) HandleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	token := h.getTokenFromAuthHeader(r)
	user, err := h.Service.AuthenticateToken(r.Context(), token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	resp := getUserResponse{
		Id:          user.Id,
		DisplayName: user.DisplayName,
		Provider:    user.Provider,
		Credits:     user.Credits,
	}
	h.sendResponse(w, resp)
}

type creditsRequest struct {
	Amount int `json:"amount"`
}

type creditsResponse struct {
	Success bool `json:"success"`
	Credits int  `json:"credits"`
}

// HandleCredits tops up the authenticated account. The purchase flow in
// front of this endpoint is out of scope; it only applies the grant.
func (h *Handler) HandleCredits(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	token := h.getTokenFromAuthHeader(r)
	user, err := h.Service.AuthenticateToken(r.Context(), token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	var req creditsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Amount <= 0 {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	balance, err := h.Service.Store.AdjustCredits(r.Context(), user.Id, req.Amount)
	if err != nil {
		log.Printf("Credit top-up for user %s failed: %v", user.Id, err)
		http.Error(w, "failed to add credits", http.StatusInternalServerError)
		return
	}

	resp := creditsResponse{
		Success: true,
		Credits: balance,
	}
	h.sendResponse(w, resp)
}

func (h *Handler) sendResponse(w http.ResponseWriter, resp any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}

func (h *Handler) getTokenFromAuthHeader(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(authHeader, prefix) {
		return ""
	}
	return strings.TrimPrefix(authHeader, prefix)
}
