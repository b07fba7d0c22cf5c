package server

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/xaman1990/SisCoreApi/internal/apperr"
	"github.com/xaman1990/SisCoreApi/internal/auth"
	"github.com/xaman1990/SisCoreApi/internal/services/session"
)

type authHandlers struct {
	sessions *session.Service
	log      *zap.Logger
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
	DeviceID     string `json:"deviceId"`
}

type principalResponse struct {
	Valid  bool     `json:"valid,omitempty"`
	UserID string   `json:"userId"`
	Email  string   `json:"email,omitempty"`
	Roles  []string `json:"roles"`
	Tenant string   `json:"tenant,omitempty"`
}

func clientInfo(r *http.Request) session.ClientInfo {
	return session.ClientInfo{IP: r.RemoteAddr, UserAgent: r.UserAgent()}
}

// POST /api/auth/login
func (h *authHandlers) login(w http.ResponseWriter, r *http.Request) {
	tc, err := tenantOf(r)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	var in session.LoginInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	out, err := h.sessions.Login(r.Context(), tc, in, clientInfo(r))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// POST /api/auth/refresh
func (h *authHandlers) refresh(w http.ResponseWriter, r *http.Request) {
	tc, err := tenantOf(r)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	var in refreshRequest
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	client := clientInfo(r)
	out, err := h.sessions.Refresh(r.Context(), tc, in.RefreshToken, session.RefreshInput{
		DeviceID:  in.DeviceID,
		IP:        client.IP,
		UserAgent: client.UserAgent,
	})
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// POST /api/auth/logout
func (h *authHandlers) logout(w http.ResponseWriter, r *http.Request) {
	tc, err := tenantOf(r)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	var in refreshRequest
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	revoked, err := h.sessions.Logout(r.Context(), tc, in.RefreshToken)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	if !revoked {
		writeError(w, r, h.log, apperr.InvalidCredentials())
		return
	}
	writeJSON(w, http.StatusOK, messageBody{Message: "logged out"})
}

func principalOf(r *http.Request) (principalResponse, bool) {
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		return principalResponse{}, false
	}
	return principalResponse{
		UserID: strconv.FormatInt(p.UserID, 10),
		Email:  p.Email,
		Roles:  p.Roles,
		Tenant: p.Tenant,
	}, true
}

// GET /api/auth/me
func (h *authHandlers) me(w http.ResponseWriter, r *http.Request) {
	resp, ok := principalOf(r)
	if !ok {
		writeError(w, r, h.log, apperr.InvalidCredentials())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// GET /api/auth/validate
func (h *authHandlers) validate(w http.ResponseWriter, r *http.Request) {
	resp, ok := principalOf(r)
	if !ok {
		writeError(w, r, h.log, apperr.InvalidCredentials())
		return
	}
	resp.Valid = true
	writeJSON(w, http.StatusOK, resp)
}
