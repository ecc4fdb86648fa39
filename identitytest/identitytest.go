// Package identitytest runs an in-memory stand-in for the Aether identity
// service over httptest. It implements the login, logout, refresh, validate
// and generate endpoints, counts calls per endpoint and can script failures.
package identitytest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/google/uuid"
)

const (
	PathLogin    = "/api/v1/auth/login"
	PathLogout   = "/api/v1/auth/logout"
	PathRefresh  = "/api/v1/auth/refresh"
	PathValidate = "/api/v1/auth/validate"
	PathGenerate = "/api/v1/auth/token/generate"

	DefaultClientID  = "test-client"
	DefaultSystemKey = "test-system-key"
)

// User is an account known to the fake service. When TOTPCode is set, login
// requires it.
type User struct {
	ID          string         `json:"id"`
	Email       string         `json:"email"`
	Name        string         `json:"name"`
	Roles       []string       `json:"roles"`
	Permissions []string       `json:"permissions"`
	Context     string         `json:"context"`
	MFAVerified bool           `json:"mfaVerified"`
	SessionID   string         `json:"sessionId,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`

	Password string `json:"-"`
	TOTPCode string `json:"-"`
}

type tokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int    `json:"expiresIn"`
	TokenType    string `json:"tokenType"`
}

// Option configures a [Server].
type Option func(*Server)

// WithSystemKey sets the key privileged endpoints accept.
func WithSystemKey(key string) Option {
	return func(s *Server) { s.systemKey = key }
}

// WithClientID sets the X-Client-ID value every request must carry.
func WithClientID(id string) Option {
	return func(s *Server) { s.clientID = id }
}

// Server is a fake identity service. All methods are safe for concurrent use.
type Server struct {
	srv *httptest.Server

	clientID  string
	systemKey string

	mu       sync.Mutex
	users    map[string]User
	access   map[string]User
	refresh  map[string]string
	calls    map[string]int
	failures map[string][]int
	headers  map[string]http.Header
}

// New starts a fake identity service. Close it when done.
func New(opts ...Option) *Server {
	s := &Server{
		clientID:  DefaultClientID,
		systemKey: DefaultSystemKey,
		users:     make(map[string]User),
		access:    make(map[string]User),
		refresh:   make(map[string]string),
		calls:     make(map[string]int),
		failures:  make(map[string][]int),
		headers:   make(map[string]http.Header),
	}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST "+PathLogin, s.handle(PathLogin, s.login))
	mux.HandleFunc("POST "+PathLogout, s.handle(PathLogout, s.logout))
	mux.HandleFunc("POST "+PathRefresh, s.handle(PathRefresh, s.refreshToken))
	mux.HandleFunc("POST "+PathValidate, s.handle(PathValidate, s.validate))
	mux.HandleFunc("POST "+PathGenerate, s.handle(PathGenerate, s.generate))
	s.srv = httptest.NewServer(mux)

	return s
}

func (s *Server) URL() string       { return s.srv.URL }
func (s *Server) ClientID() string  { return s.clientID }
func (s *Server) SystemKey() string { return s.systemKey }
func (s *Server) Close()            { s.srv.Close() }

// AddUser registers an account for login.
func (s *Server) AddUser(u User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Context == "" {
		u.Context = "user"
	}
	s.users[strings.ToLower(u.Email)] = u
}

// IssueToken mints an access token for a registered user without the login
// flow. It panics if the user is unknown.
func (s *Server) IssueToken(email string) string {
	token := "at_" + uuid.NewString()
	s.AddToken(token, email)
	return token
}

// AddToken makes token resolve to the registered user email. Tests use it to
// register externally built tokens such as JWTs.
func (s *Server) AddToken(token, email string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[strings.ToLower(email)]
	if !ok {
		panic("identitytest: unknown user " + email)
	}
	s.access[token] = u
}

// Revoke invalidates token as if it had been logged out elsewhere.
func (s *Server) Revoke(token string) {
	s.mu.Lock()
	delete(s.access, token)
	s.mu.Unlock()
}

// Calls returns how many requests reached path, scripted failures included.
func (s *Server) Calls(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[path]
}

// LastHeader returns the headers of the most recent request to path.
func (s *Server) LastHeader(path string) http.Header {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.headers[path].Clone()
}

// FailNext makes the next len(statuses) requests to path answer with the
// given statuses, in order.
func (s *Server) FailNext(path string, statuses ...int) {
	s.mu.Lock()
	s.failures[path] = append(s.failures[path], statuses...)
	s.mu.Unlock()
}

func (s *Server) handle(path string, h func(w http.ResponseWriter, r *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls[path]++
		s.headers[path] = r.Header.Clone()
		var status int
		if queue := s.failures[path]; len(queue) > 0 {
			status = queue[0]
			s.failures[path] = queue[1:]
		}
		s.mu.Unlock()

		if status != 0 {
			writeError(w, status, "", "scripted failure")
			return
		}
		if r.Header.Get("X-Client-ID") != s.clientID {
			writeError(w, http.StatusBadRequest, "INVALID_INPUT", "unknown client")
			return
		}
		h(w, r)
	}
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		TOTPCode string `json:"totpCode"`
		Context  string `json:"context"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "malformed body")
		return
	}

	s.mu.Lock()
	u, ok := s.users[strings.ToLower(req.Email)]
	s.mu.Unlock()
	if !ok || u.Password != req.Password {
		writeError(w, http.StatusUnauthorized, "", "Invalid credentials")
		return
	}
	if u.TOTPCode != "" {
		if req.TOTPCode == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "TOTP code required", "requiresTOTP": true})
			return
		}
		if req.TOTPCode != u.TOTPCode {
			writeError(w, http.StatusUnauthorized, "", "Invalid TOTP code")
			return
		}
		u.MFAVerified = true
	}
	if req.Context != "" {
		u.Context = req.Context
	}

	writeJSON(w, http.StatusOK, s.issuePair(u, 3600))
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	token := bearer(r)
	s.mu.Lock()
	_, ok := s.access[token]
	delete(s.access, token)
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusUnauthorized, "", "Invalid token")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) refreshToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "malformed body")
		return
	}

	s.mu.Lock()
	email, ok := s.refresh[req.RefreshToken]
	delete(s.refresh, req.RefreshToken)
	u := s.users[email]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusUnauthorized, "SESSION_EXPIRED", "Session expired")
		return
	}

	writeJSON(w, http.StatusOK, s.issuePair(u, 3600))
}

func (s *Server) validate(w http.ResponseWriter, r *http.Request) {
	if bearer(r) != s.systemKey {
		writeError(w, http.StatusUnauthorized, "", "Invalid system key")
		return
	}
	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "malformed body")
		return
	}

	s.mu.Lock()
	u, ok := s.access[req.Token]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusUnauthorized, "", "Invalid token")
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) generate(w http.ResponseWriter, r *http.Request) {
	if bearer(r) != s.systemKey {
		writeError(w, http.StatusForbidden, "", "System key required")
		return
	}
	var req struct {
		UserID      string         `json:"userId"`
		Email       string         `json:"email"`
		Name        string         `json:"name"`
		Roles       []string       `json:"roles"`
		Permissions []string       `json:"permissions"`
		Context     string         `json:"context"`
		ExpiresIn   int            `json:"expiresIn"`
		Metadata    map[string]any `json:"metadata"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "userId is required")
		return
	}

	u := User{
		ID:          req.UserID,
		Email:       req.Email,
		Name:        req.Name,
		Roles:       req.Roles,
		Permissions: req.Permissions,
		Context:     req.Context,
		Metadata:    req.Metadata,
	}
	s.mu.Lock()
	s.users[strings.ToLower(u.Email)] = u
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, s.issuePair(u, req.ExpiresIn))
}

func (s *Server) issuePair(u User, expiresIn int) tokenPair {
	pair := tokenPair{
		AccessToken:  "at_" + uuid.NewString(),
		RefreshToken: "rt_" + uuid.NewString(),
		ExpiresIn:    expiresIn,
		TokenType:    "Bearer",
	}
	s.mu.Lock()
	s.access[pair.AccessToken] = u
	s.refresh[pair.RefreshToken] = strings.ToLower(u.Email)
	s.mu.Unlock()
	return pair
}

func bearer(r *http.Request) string {
	v := r.Header.Get("Authorization")
	if len(v) < 7 || !strings.EqualFold(v[:7], "bearer ") {
		return ""
	}
	return v[7:]
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	body := map[string]any{"message": message}
	if code != "" {
		body["code"] = code
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
