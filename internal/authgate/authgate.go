// Package authgate issues and validates the long-lived bearer token
// that gates every non-localhost request, per spec §6's auth.json
// contract.
package authgate

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/grovetools/companion/errors"
	"github.com/grovetools/companion/logging"
	"github.com/grovetools/companion/pkg/atomicfile"
)

var log = logging.NewLogger("authgate")

// tokenRecord is the auth.json shape: {token: hex(32), createdAt}.
type tokenRecord struct {
	Token     string    `json:"token"`
	CreatedAt time.Time `json:"createdAt"`
}

// Gate issues/validates the bearer token and auto-trusts loopback
// callers.
type Gate struct {
	mu    sync.RWMutex
	token string
	path  string
}

// Open loads the token from COMPANION_TOKEN if set, else from path,
// minting and persisting a new one if neither exists.
func Open(path string) (*Gate, error) {
	g := &Gate{path: path}

	if envToken := os.Getenv("COMPANION_TOKEN"); envToken != "" {
		g.token = envToken
		log.Info("using bearer token from COMPANION_TOKEN")
		return g, nil
	}

	data, err := atomicfile.ReadOrEmpty(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "reading auth.json")
	}
	if data != nil {
		var rec tokenRecord
		if err := json.Unmarshal(data, &rec); err == nil && rec.Token != "" {
			g.token = rec.Token
			return g, nil
		}
		log.Warn("auth.json is corrupt; minting a new token")
	}

	token, err := mintToken()
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "minting bearer token")
	}
	if err := persist(path, token); err != nil {
		return nil, err
	}
	g.token = token
	return g, nil
}

func mintToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func persist(path, token string) error {
	rec := tokenRecord{Token: token, CreatedAt: time.Now()}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.KindInternal, "encoding auth.json")
	}
	if err := atomicfile.Write(path, data, 0600); err != nil {
		return errors.Wrap(err, errors.KindInternal, "persisting auth.json")
	}
	return nil
}

// Token returns the current bearer token.
func (g *Gate) Token() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.token
}

// Authenticate reports whether r is authorized: either the caller is
// loopback, or it presents the bearer token via the Authorization
// header or a `token` query parameter. Comparison is constant-time.
func (g *Gate) Authenticate(r *http.Request) bool {
	if isLoopback(r) {
		return true
	}

	presented := extractToken(r)
	if presented == "" {
		return false
	}

	expected := g.Token()
	return subtle.ConstantTimeCompare([]byte(presented), []byte(expected)) == 1
}

func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if strings.HasPrefix(auth, "Bearer ") {
			return strings.TrimPrefix(auth, "Bearer ")
		}
	}
	return r.URL.Query().Get("token")
}

func isLoopback(r *http.Request) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// IsLoopback reports whether r's RemoteAddr is a loopback address —
// the gate for /auth/auto, which only ever hands out the token to a
// caller already on the same machine.
func IsLoopback(r *http.Request) bool {
	return isLoopback(r)
}

// PairingInfo is the reduced /auth/qr response: the URL a phone or
// second browser should open to pair, rendered as JSON rather than as
// an actual QR image (no QR-rendering library exists anywhere in the
// dependency pack; fabricating one would violate the no-fabricated-deps
// rule, so the client renders the QR code itself from this URL).
type PairingInfo struct {
	URL string `json:"url"`
}

// PairingURL builds the pairing URL embedding the bearer token, for a
// daemon reachable at baseURL (e.g. "http://192.168.1.5:7890").
func (g *Gate) PairingURL(baseURL string) PairingInfo {
	return PairingInfo{URL: baseURL + "/auth/verify?token=" + g.Token()}
}
