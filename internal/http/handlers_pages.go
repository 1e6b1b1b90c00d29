package httpx

import (
	"net/http"

	domainauth "github.com/tremiti/admin-console/internal/domain/auth"
	"github.com/tremiti/admin-console/internal/guard"
)

// pageShell is what an allowed page route renders: the page, the signed-in
// user and the navigation their role may open.
type pageShell struct {
	Page      string              `json:"page"`
	User      *domainauth.Session `json:"user,omitempty"`
	Nav       []guard.NavItem     `json:"nav,omitempty"`
	Notice    *domainauth.Notice  `json:"notice,omitempty"`
	CSRFToken string              `json:"csrf_token,omitempty"`
}

// PageHandler renders the page shell for routes admitted by RouteGuard.
type PageHandler struct {
	Guard *guard.Guard
}

func (h PageHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}
	shell := pageShell{Page: r.URL.Path, CSRFToken: GetCSRFToken(r)}
	if snap, ok := GetSnapshotFromContext(r.Context()); ok {
		shell.Notice = snap.Notice
		if snap.Authenticated() {
			shell.User = snap.Session
			shell.Nav = h.Guard.NavFor(snap.Session.Role)
		}
	}
	// Notices from a rejected sign-in travel as a query parameter across the redirect.
	if shell.Notice == nil {
		if code := r.URL.Query().Get("notice"); code != "" {
			shell.Notice = &domainauth.Notice{Level: domainauth.NoticeWarning, Code: code}
		}
	}
	WriteJSON(w, http.StatusOK, shell)
}
