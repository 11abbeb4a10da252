package ports

import (
	"time"

	"github.com/layer-3/passport/core"
)

// Tokenizer signs and verifies session tokens
type Tokenizer interface {
	IssueAccess(payload core.TokenPayload, sessionID string, now time.Time) (string, time.Time, error)
	IssueRefresh(payload core.TokenPayload, sessionID string, now time.Time) (string, time.Time, error)
	ParseAccess(token string) (*core.TokenClaims, error)
	ParseRefresh(token string) (*core.TokenClaims, error)
}
