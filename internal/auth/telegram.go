// Package auth verifies Telegram web-app identities and manages API
// sessions.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Verification failure codes. The set is closed: handlers map codes to
// responses and clients branch on them.
const (
	CodeMissingInitData = "missing_init_data"
	CodeMissingBotToken = "missing_bot_token"
	CodeMissingHash     = "missing_hash"
	CodeHashMismatch    = "hash_mismatch"
	CodeExpired         = "expired"
	CodeInvalidUserJSON = "invalid_user_json"
)

// VerificationError reports why an init-data payload was rejected.
type VerificationError struct {
	Code string
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("init data verification failed: %s", e.Code)
}

// Identity is the verified Telegram identity embedded in init data.
type Identity struct {
	TelegramID string
	Username   string
	FirstName  string
	LastName   string
	AuthDate   time.Time
}

// DisplayName returns the username, falling back to the joined first and
// last name.
func (id *Identity) DisplayName() string {
	if id.Username != "" {
		return id.Username
	}
	return strings.TrimSpace(id.FirstName + " " + id.LastName)
}

// maxInitDataAge bounds replay of a captured payload.
const maxInitDataAge = 24 * time.Hour

// Verifier checks the HMAC signature and freshness of Telegram init data.
type Verifier struct {
	secret []byte
	now    func() time.Time
}

// VerifierOption configures a Verifier.
type VerifierOption func(*Verifier)

// WithVerifierClock overrides the time source. Used in tests.
func WithVerifierClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) {
		v.now = now
	}
}

// NewVerifier creates a Verifier for the given bot token. The shared secret
// is the SHA-256 digest of the token, per Telegram's web-app login scheme.
func NewVerifier(botToken string, opts ...VerifierOption) *Verifier {
	v := &Verifier{now: time.Now}
	if botToken != "" {
		sum := sha256.Sum256([]byte(botToken))
		v.secret = sum[:]
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify validates a raw init-data query string and returns the identity it
// carries. A correctly signed payload without a user field verifies with a
// nil identity. Every rejection is a *VerificationError with one of the Code
// constants.
func (v *Verifier) Verify(initData string) (*Identity, error) {
	if initData == "" {
		return nil, &VerificationError{Code: CodeMissingInitData}
	}
	if len(v.secret) == 0 {
		return nil, &VerificationError{Code: CodeMissingBotToken}
	}

	params, err := url.ParseQuery(initData)
	if err != nil {
		return nil, &VerificationError{Code: CodeMissingHash}
	}
	hash := params.Get("hash")
	if hash == "" {
		return nil, &VerificationError{Code: CodeMissingHash}
	}

	// The signed string is every pair except hash, sorted, joined with
	// newlines.
	pairs := make([]string, 0, len(params))
	for key, values := range params {
		if key == "hash" {
			continue
		}
		for _, value := range values {
			pairs = append(pairs, key+"="+value)
		}
	}
	sort.Strings(pairs)
	dataCheckString := strings.Join(pairs, "\n")

	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(dataCheckString))
	computed := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(computed), []byte(hash)) {
		return nil, &VerificationError{Code: CodeHashMismatch}
	}

	identity := &Identity{}
	if authDate := params.Get("auth_date"); authDate != "" {
		seconds, err := strconv.ParseInt(authDate, 10, 64)
		if err != nil {
			return nil, &VerificationError{Code: CodeExpired}
		}
		identity.AuthDate = time.Unix(seconds, 0)
		if v.now().Sub(identity.AuthDate) > maxInitDataAge {
			return nil, &VerificationError{Code: CodeExpired}
		}
	}

	// A payload may be validly signed yet carry no user field. That is still
	// a successful verification; callers decide whether an anonymous session
	// is acceptable.
	userRaw := params.Get("user")
	if userRaw == "" {
		return nil, nil
	}
	var user struct {
		ID        int64  `json:"id"`
		Username  string `json:"username"`
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
	}
	if err := json.Unmarshal([]byte(userRaw), &user); err != nil {
		return nil, &VerificationError{Code: CodeInvalidUserJSON}
	}

	identity.TelegramID = strconv.FormatInt(user.ID, 10)
	identity.Username = user.Username
	identity.FirstName = user.FirstName
	identity.LastName = user.LastName
	return identity, nil
}
