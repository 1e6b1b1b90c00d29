package auth

// State is a position in the session lifecycle.
type State int

const (
	StateUnknown State = iota
	StateResolving
	StateAuthorized
	StateUnauthorized
	StateSignedOut
)

func (s State) String() string {
	switch s {
	case StateUnknown:
		return "unknown"
	case StateResolving:
		return "resolving"
	case StateAuthorized:
		return "authorized"
	case StateUnauthorized:
		return "unauthorized"
	case StateSignedOut:
		return "signed_out"
	default:
		return "invalid"
	}
}

// MarshalText renders the state by name.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Settled reports whether no resolution is pending in this state.
func (s State) Settled() bool {
	return s == StateAuthorized || s == StateUnauthorized || s == StateSignedOut
}

// NoticeLevel classifies a user-visible notice.
type NoticeLevel string

const (
	NoticeInfo    NoticeLevel = "info"
	NoticeWarning NoticeLevel = "warning"
	NoticeError   NoticeLevel = "error"
)

// Notice codes attached to published snapshots.
const (
	NoticeInvalidToken     = "invalid_token"
	NoticeRoleNotAllowed   = "role_not_allowed"
	NoticeTokenUnavailable = "token_unavailable"
	NoticeTokenRejected    = "token_rejected"
	NoticeProfileMissing   = "profile_missing"
	NoticeAccountDisabled  = "account_disabled"
	NoticeSignedOut        = "signed_out"
)

// Notice is a transient, user-visible notification.
type Notice struct {
	Level   NoticeLevel `json:"level"`
	Code    string      `json:"code"`
	Message string      `json:"message"`
}

// Snapshot is one published value of the session store.
// Session is non-nil only in StateAuthorized.
type Snapshot struct {
	Version uint64   `json:"version"`
	State   State    `json:"state"`
	Session *Session `json:"session,omitempty"`
	Notice  *Notice  `json:"notice,omitempty"`
}

// Authenticated reports whether the snapshot carries an authorized session.
func (s Snapshot) Authenticated() bool {
	return s.State == StateAuthorized && s.Session != nil
}
