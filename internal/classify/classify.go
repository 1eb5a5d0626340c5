// Package classify maps upstream error text to the orchestrator's error
// taxonomy. Classification is a pure function of the message so the same
// error always lands in the same bucket.
package classify

import (
	"encoding/json"
	"strings"
)

// Kind is the orchestrator's error taxonomy.
type Kind int

const (
	KindUnknown Kind = iota
	KindTimeout
	KindNetwork
	KindRateLimit
	KindAuth
	KindNotFound
	KindAccountLocked
	KindAccountSuspended
)

var kindNames = map[Kind]string{
	KindUnknown:          "unknown",
	KindTimeout:          "timeout",
	KindNetwork:          "network",
	KindRateLimit:        "rate_limit",
	KindAuth:             "auth",
	KindNotFound:         "not_found",
	KindAccountLocked:    "account_locked",
	KindAccountSuspended: "account_suspended",
}

// String implements fmt.Stringer.
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Terminal reports whether the kind permanently removes the account from
// rotation (cleared only by admin action).
func (k Kind) Terminal() bool {
	return k == KindAccountLocked || k == KindAccountSuspended
}

// upstreamErrorBody matches the upstream's JSON error envelope.
type upstreamErrorBody struct {
	Errors []struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

// lockedErrorCode is the upstream's numeric code for a locked account.
const lockedErrorCode = 326

// HasLockedCode reports whether msg parses as the upstream JSON error
// envelope and carries the locked-account code.
func HasLockedCode(msg string) bool {
	start := strings.IndexByte(msg, '{')
	if start < 0 {
		return false
	}
	var body upstreamErrorBody
	if err := json.Unmarshal([]byte(msg[start:]), &body); err != nil {
		return false
	}
	for _, e := range body.Errors {
		if e.Code == lockedErrorCode {
			return true
		}
	}
	return false
}

// Message classifies an error message. Rules are ordered; the first match
// wins. Matching is case-insensitive substring except for the JSON code
// check, which runs first.
func Message(msg string) Kind {
	if HasLockedCode(msg) {
		return KindAccountLocked
	}

	m := strings.ToLower(msg)

	if containsAny(m, "status 401", "status: 401", "status code: 401") {
		return KindAccountSuspended
	}
	if containsAny(m, "timeout", "timed out") {
		return KindTimeout
	}
	if containsAny(m, "network", "fetch failed", "connection", "socket") {
		return KindNetwork
	}
	if containsAny(m, "rate limit", "too many requests", "429") {
		return KindRateLimit
	}
	if containsAny(m, "auth", "login", "credentials", "unauthorized", "401") {
		return KindAuth
	}
	if containsAny(m, "not found", "404") {
		return KindNotFound
	}
	if containsAny(m, "account is temporarily locked", "account locked", "to unlock your account") {
		return KindAccountLocked
	}
	return KindUnknown
}

// Error classifies a Go error, treating nil as unknown.
func Error(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	return Message(err.Error())
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
