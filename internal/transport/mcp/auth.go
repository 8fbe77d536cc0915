package mcp

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	headerClientID  = "x-client-id"
	headerTS        = "x-ts"
	headerNonce     = "x-nonce"
	headerSignature = "x-signature"

	maxClockSkew = 5 * time.Minute
)

// canonicalString is what clients sign: timestamp, method, path, client
// id, nonce and the raw body, newline separated.
func canonicalString(ts, method, path, clientID, nonce string, body []byte) string {
	return ts + "\n" + strings.ToUpper(method) + "\n" + path + "\n" + clientID + "\n" + nonce + "\n" + string(body)
}

func signHMAC(secret []byte, canonical string) string {
	h := hmac.New(sha256.New, secret)
	_, _ = h.Write([]byte(canonical))
	return hex.EncodeToString(h.Sum(nil))
}

type authResult struct {
	ClientID  string
	Signature string
	// Status is zero when the request is authentic.
	Status  int
	Message string
}

func verifyHMAC(r *http.Request, body, secret []byte, now time.Time) authResult {
	deny := func(msg string) authResult { return authResult{Status: http.StatusUnauthorized, Message: msg} }

	clientID := strings.TrimSpace(r.Header.Get(headerClientID))
	ts := strings.TrimSpace(r.Header.Get(headerTS))
	nonce := strings.TrimSpace(r.Header.Get(headerNonce))
	sig := strings.ToLower(strings.TrimSpace(r.Header.Get(headerSignature)))
	switch {
	case clientID == "":
		return deny("missing " + headerClientID)
	case ts == "":
		return deny("missing " + headerTS)
	case nonce == "":
		return deny("missing " + headerNonce)
	case sig == "":
		return deny("missing " + headerSignature)
	}

	tsMS, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return deny("bad " + headerTS)
	}
	skew := now.Sub(time.UnixMilli(tsMS))
	if skew > maxClockSkew || skew < -maxClockSkew {
		return deny(headerTS + " outside window")
	}

	want := signHMAC(secret, canonicalString(ts, r.Method, r.URL.Path, clientID, nonce, body))
	if !hmac.Equal([]byte(sig), []byte(want)) {
		return deny("bad signature")
	}
	return authResult{ClientID: clientID, Signature: sig}
}

// replayGuard remembers accepted signatures until they expire.
type replayGuard struct {
	mu        sync.Mutex
	seen      map[string]int64
	ttl       time.Duration
	lastPrune int64
}

func newReplayGuard(ttl time.Duration) *replayGuard {
	if ttl <= 0 {
		ttl = 2 * maxClockSkew
	}
	return &replayGuard{seen: map[string]int64{}, ttl: ttl}
}

func (g *replayGuard) allow(clientID, signature string, now time.Time) bool {
	key := clientID + "|" + signature
	nowMS := now.UnixMilli()

	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.seen) > 4096 || nowMS-g.lastPrune > g.ttl.Milliseconds()/2 {
		for k, exp := range g.seen {
			if exp <= nowMS {
				delete(g.seen, k)
			}
		}
		g.lastPrune = nowMS
	}
	if exp, ok := g.seen[key]; ok && exp > nowMS {
		return false
	}
	g.seen[key] = nowMS + g.ttl.Milliseconds()
	return true
}
