package httpx

import (
	"context"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	domainauth "github.com/tremiti/admin-console/internal/domain/auth"
	apperrors "github.com/tremiti/admin-console/internal/errors"
	"github.com/tremiti/admin-console/internal/guard"
	"github.com/tremiti/admin-console/internal/service"
)

var errMissingClientID = errors.New("client id missing")

// AuthServiceInterface defines the auth operations the HTTP layer needs.
type AuthServiceInterface interface {
	Client(ctx context.Context, id string) (*service.Client, error)
	Login(ctx context.Context, id, email, secret string) (domainauth.Snapshot, error)
	Logout(ctx context.Context, id string) (domainauth.Snapshot, error)
	Status(ctx context.Context, id string) (domainauth.Snapshot, error)
	SendPasswordReset(ctx context.Context, id, email string) error
}

// AuthHandlers serves the sign-in, sign-out and session status endpoints.
type AuthHandlers struct {
	Svc    AuthServiceInterface
	Guard  *guard.Guard
	Logger *slog.Logger
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Next     string `json:"next,omitempty"`
}

// sessionStatus is the JSON view of a client's snapshot.
type sessionStatus struct {
	Authenticated bool                `json:"authenticated"`
	State         domainauth.State    `json:"state"`
	Version       uint64              `json:"version"`
	User          *domainauth.Session `json:"user,omitempty"`
	Home          string              `json:"home,omitempty"`
	Nav           []guard.NavItem     `json:"nav,omitempty"`
	Notice        *domainauth.Notice  `json:"notice,omitempty"`
}

func (h AuthHandlers) status(snap domainauth.Snapshot) sessionStatus {
	st := sessionStatus{
		Authenticated: snap.Authenticated(),
		State:         snap.State,
		Version:       snap.Version,
		Notice:        snap.Notice,
	}
	if st.Authenticated {
		st.User = snap.Session
		st.Home, _ = h.Guard.Home(snap.Session.Role)
		st.Nav = h.Guard.NavFor(snap.Session.Role)
	}
	return st
}

func (h AuthHandlers) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

// Login signs the client in with form or JSON credentials.
// Browsers are redirected to the role's home page, or back to the sign-in
// page with a notice when the account is not allowed in.
func (h AuthHandlers) Login(w http.ResponseWriter, r *http.Request) {
	id, ok := requireClientID(w, r)
	if !ok {
		return
	}
	req, ok := readLoginRequest(w, r)
	if !ok {
		return
	}
	if req.Email == "" || req.Password == "" {
		h.loginFailed(w, r, http.StatusBadRequest, "missing_credentials", errors.New("email and password are required"))
		return
	}

	snap, err := h.Svc.Login(r.Context(), id, req.Email, req.Password)
	if err != nil {
		h.logger().InfoContext(r.Context(), "sign-in failed", "client_id", id, "error", err)
		if apperrors.GetCode(err) == apperrors.ErrCodeUnauthorized {
			h.loginFailed(w, r, http.StatusUnauthorized, "invalid_credentials", err)
			return
		}
		if IsBrowserRequest(r) {
			http.Redirect(w, r, withQuery(h.Guard.SignInPath(), "notice", string(apperrors.GetCode(err))), http.StatusSeeOther)
			return
		}
		WriteAppError(w, err)
		return
	}

	if !snap.Authenticated() {
		code := domainauth.NoticeRoleNotAllowed
		if snap.Notice != nil {
			code = snap.Notice.Code
		}
		if IsBrowserRequest(r) {
			http.Redirect(w, r, withQuery(h.Guard.SignInPath(), "notice", code), http.StatusSeeOther)
			return
		}
		WriteJSON(w, http.StatusForbidden, h.status(snap))
		return
	}

	if IsBrowserRequest(r) {
		http.Redirect(w, r, h.landing(snap.Session, req.Next), http.StatusSeeOther)
		return
	}
	WriteJSON(w, http.StatusOK, h.status(snap))
}

// landing picks where a freshly signed-in user goes: the requested page when
// the role may view it, the role's home otherwise.
func (h AuthHandlers) landing(sess *domainauth.Session, next string) string {
	if next != "" {
		if p := safeRedirectPath(next); p != "/" && h.Guard.Evaluate(p, sess).Allowed {
			return p
		}
	}
	if home, ok := h.Guard.Home(sess.Role); ok {
		return home
	}
	return "/"
}

func (h AuthHandlers) loginFailed(w http.ResponseWriter, r *http.Request, code int, errCode string, err error) {
	if IsBrowserRequest(r) {
		http.Redirect(w, r, withQuery(h.Guard.SignInPath(), "notice", errCode), http.StatusSeeOther)
		return
	}
	WriteError(w, ErrorParams{Code: code, ErrCode: errCode, Err: errors.New(apperrors.MessageOf(err, err.Error()))})
}

func readLoginRequest(w http.ResponseWriter, r *http.Request) (loginRequest, bool) {
	var req loginRequest
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		if !DecodeJSON(w, r, &req) {
			return req, false
		}
	} else {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		if err := r.ParseForm(); err != nil {
			WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_form", Err: err})
			return req, false
		}
		req.Email = r.PostForm.Get("email")
		req.Password = r.PostForm.Get("password")
		req.Next = r.PostForm.Get("next")
	}
	req.Email = strings.TrimSpace(req.Email)
	return req, true
}

// Logout signs the client out.
func (h AuthHandlers) Logout(w http.ResponseWriter, r *http.Request) {
	id, ok := requireClientID(w, r)
	if !ok {
		return
	}
	if _, err := h.Svc.Logout(r.Context(), id); err != nil {
		h.logger().ErrorContext(r.Context(), "sign-out failed", "client_id", id, "error", err)
		WriteAppError(w, err)
		return
	}
	if IsBrowserRequest(r) {
		http.Redirect(w, r, h.Guard.SignInPath(), http.StatusSeeOther)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "signed_out", "redirect_to": h.Guard.SignInPath()})
}

// Status reports the client's settled session.
func (h AuthHandlers) Status(w http.ResponseWriter, r *http.Request) {
	id, ok := requireClientID(w, r)
	if !ok {
		return
	}
	snap, err := h.Svc.Status(r.Context(), id)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, h.status(snap))
}

type passwordResetRequest struct {
	Email string `json:"email"`
}

// PasswordReset asks the identity provider to email a reset link.
func (h AuthHandlers) PasswordReset(w http.ResponseWriter, r *http.Request) {
	id, ok := requireClientID(w, r)
	if !ok {
		return
	}
	var req passwordResetRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	email := strings.TrimSpace(req.Email)
	if email == "" {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "missing_email", Err: errors.New("email is required")})
		return
	}
	if err := h.Svc.SendPasswordReset(r.Context(), id, email); err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}
