package admin

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"github.com/3cpo-dev/cmsadmin/internal/config"
)

const SessionCookie = "cmsadmin_session"

var errBadSession = errors.New("invalid session")

// Authenticator checks admin credentials and issues signed session cookies.
type Authenticator struct {
	username     string
	passwordHash []byte
	apiToken     string
	secret       []byte
	ttl          time.Duration
	secure       bool
	now          func() time.Time
}

func NewAuthenticator(cfg config.Config) *Authenticator {
	a := &Authenticator{
		username:     cfg.Admin.Username,
		passwordHash: []byte(cfg.Admin.PasswordHash),
		apiToken:     cfg.Admin.APIToken,
		secret:       []byte(cfg.Admin.SessionSecret),
		ttl:          cfg.SessionTTL(),
		secure:       cfg.Admin.SecureCookies,
		now:          time.Now,
	}
	if len(a.secret) == 0 {
		a.secret = make([]byte, 32)
		if _, err := rand.Read(a.secret); err != nil {
			panic(err)
		}
		log.Warn().Msg("No session secret configured; sessions will not survive a restart")
	}
	if len(a.passwordHash) == 0 {
		log.Warn().Msg("No admin password hash configured; password login disabled")
	}
	return a
}

// CheckPassword reports whether username and password match the configured admin.
func (a *Authenticator) CheckPassword(username, password string) bool {
	if len(a.passwordHash) == 0 {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(a.username)) == 1
	passOK := bcrypt.CompareHashAndPassword(a.passwordHash, []byte(password)) == nil
	return userOK && passOK
}

// Issue returns a session cookie for username.
func (a *Authenticator) Issue(username string) *http.Cookie {
	expires := a.now().Add(a.ttl)
	payload := username + "|" + strconv.FormatInt(expires.Unix(), 10)
	value := base64.RawURLEncoding.EncodeToString([]byte(payload)) + "." +
		base64.RawURLEncoding.EncodeToString(a.sign(payload))
	return &http.Cookie{
		Name:     SessionCookie,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   a.secure,
		SameSite: http.SameSiteStrictMode,
	}
}

// Clear returns a cookie that removes the session.
func (a *Authenticator) Clear() *http.Cookie {
	return &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   a.secure,
		SameSite: http.SameSiteStrictMode,
	}
}

// Verify returns the user of a valid, unexpired session value.
func (a *Authenticator) Verify(value string) (string, error) {
	encPayload, encSig, ok := strings.Cut(value, ".")
	if !ok {
		return "", errBadSession
	}
	payload, err := base64.RawURLEncoding.DecodeString(encPayload)
	if err != nil {
		return "", errBadSession
	}
	sig, err := base64.RawURLEncoding.DecodeString(encSig)
	if err != nil || !hmac.Equal(sig, a.sign(string(payload))) {
		return "", errBadSession
	}
	user, exp, ok := strings.Cut(string(payload), "|")
	if !ok {
		return "", errBadSession
	}
	unix, err := strconv.ParseInt(exp, 10, 64)
	if err != nil || !a.now().Before(time.Unix(unix, 0)) {
		return "", errBadSession
	}
	return user, nil
}

func (a *Authenticator) sign(payload string) []byte {
	mac := hmac.New(sha256.New, a.secret)
	mac.Write([]byte(payload))
	return mac.Sum(nil)
}

// Authenticated resolves the caller from a session cookie or an API token.
func (a *Authenticator) Authenticated(r *http.Request) (string, bool) {
	if c, err := r.Cookie(SessionCookie); err == nil {
		if user, err := a.Verify(c.Value); err == nil {
			return user, true
		}
	}
	if a.apiToken == "" {
		return "", false
	}
	tok := r.Header.Get("X-Auth-Token")
	if bearer, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		tok = bearer
	}
	if tok != "" && subtle.ConstantTimeCompare([]byte(tok), []byte(a.apiToken)) == 1 {
		return "api-token", true
	}
	return "", false
}

// Middleware rejects unauthenticated requests with 401.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := a.Authenticated(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized", "")
			return
		}
		log.Debug().Str("user", user).Str("path", r.URL.Path).Msg("Authenticated request")
		next.ServeHTTP(w, r)
	})
}
