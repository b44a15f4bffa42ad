package httpapi

import (
	"errors"
	"net/http"

	"pkt.systems/pslog"
	"pkt.systems/relayd/api"
	"pkt.systems/relayd/internal/auth"
)

// requireAuth rejects requests without a valid bearer token: a missing
// token is 401, a rejected one 403.
func (h *Handler) requireAuth(fn handlerFunc) handlerFunc {
	return func(w http.ResponseWriter, r *http.Request) error {
		token, err := auth.BearerToken(r.Header.Get("Authorization"))
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="relayd"`)
			return httpError{Status: http.StatusUnauthorized, Code: "missing_token", Detail: "bearer token required"}
		}
		if h.tokens == nil {
			return httpError{Status: http.StatusForbidden, Code: "invalid_token", Detail: "token verification is not configured"}
		}
		claims, err := h.tokens.Verify(token)
		if err != nil {
			if errors.Is(err, auth.ErrMissingToken) {
				return httpError{Status: http.StatusUnauthorized, Code: "missing_token", Detail: "bearer token required"}
			}
			return httpError{Status: http.StatusForbidden, Code: "invalid_token", Detail: "invalid or expired token"}
		}
		ctx := WithSubject(r.Context(), claims.Subject)
		if logger := pslog.LoggerFromContext(ctx); logger != nil {
			ctx = pslog.ContextWithLogger(ctx, logger.With("sub", claims.Subject))
		}
		return fn(w, r.WithContext(ctx))
	}
}

// handleLogin godoc
// @Summary      Log in
// @Description  Exchange operator credentials for a bearer token. Tokens are HS256 JWTs carrying `sub`, `iss`, `iat` and `exp` claims.
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        request  body      api.LoginRequest  true  "Operator credentials"
// @Success      200      {object}  api.LoginResponse
// @Failure      400      {object}  api.ErrorResponse
// @Failure      401      {object}  api.ErrorResponse
// @Router       /auth/login [post]
func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) error {
	var req api.LoginRequest
	if err := h.decodeRequest(w, r, schemaLogin, &req); err != nil {
		return err
	}
	if h.credentials == nil || h.tokens == nil {
		return httpError{Status: http.StatusUnauthorized, Code: "invalid_credentials", Detail: "login is not configured"}
	}
	if err := h.credentials.Verify(req.Username, req.Password); err != nil {
		h.requestLogger(r.Context()).Info("auth.login.rejected", "username", req.Username)
		return httpError{Status: http.StatusUnauthorized, Code: "invalid_credentials", Detail: "invalid username or password"}
	}
	token, expires, err := h.tokens.Issue(req.Username)
	if err != nil {
		return err
	}
	h.requestLogger(r.Context()).Info("auth.login.accepted", "username", req.Username)
	h.writeJSON(w, http.StatusOK, api.LoginResponse{Token: token, ExpiresAt: expires.Unix()}, nil)
	return nil
}
