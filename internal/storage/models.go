package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"safe-code-gate/internal/gate"
)

// ErrNotFound is returned when a verdict ID has no record.
var ErrNotFound = errors.New("verdict not found")

// VerdictRecord is one audited validation. The submitted code is never
// stored, only its hash and length.
type VerdictRecord struct {
	ID                string    `json:"id" db:"id"`
	CodeHash          string    `json:"code_hash" db:"code_hash"`
	CodeLength        int       `json:"code_length" db:"code_length"`
	Kind              string    `json:"kind" db:"kind"`
	Rule              string    `json:"rule,omitempty" db:"rule"`
	Valid             bool      `json:"valid" db:"valid"`
	Reason            string    `json:"reason,omitempty" db:"reason"`
	PolicyFingerprint string    `json:"policy_fingerprint" db:"policy_fingerprint"`
	DurationUS        int64     `json:"duration_us" db:"duration_us"`
	RequestIP         string    `json:"request_ip" db:"request_ip"`
	APIKeyHash        string    `json:"api_key_hash,omitempty" db:"api_key_hash"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
}

// VerdictFilter provides criteria for querying verdicts.
type VerdictFilter struct {
	Kind   string
	Valid  *bool
	Limit  int
	Offset int
}

// NewRecord builds an audit record for a verdict produced by g.
func NewRecord(id, code string, v gate.Verdict, fingerprint string, d time.Duration) *VerdictRecord {
	return &VerdictRecord{
		ID:                id,
		CodeHash:          HashString(code),
		CodeLength:        len(code),
		Kind:              v.Kind.String(),
		Rule:              v.Rule,
		Valid:             v.Valid(),
		Reason:            v.Reason,
		PolicyFingerprint: fingerprint,
		DurationUS:        d.Microseconds(),
		CreatedAt:         time.Now().UTC(),
	}
}

// HashString returns the hex SHA-256 of s. Used for code and API keys so
// neither is stored in clear.
func HashString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// Schema creates the verdicts table. It is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS verdicts (
	id                 UUID PRIMARY KEY,
	code_hash          CHAR(64)    NOT NULL,
	code_length        INTEGER     NOT NULL,
	kind               TEXT        NOT NULL,
	rule               TEXT        NOT NULL DEFAULT '',
	valid              BOOLEAN     NOT NULL,
	reason             TEXT        NOT NULL DEFAULT '',
	policy_fingerprint TEXT        NOT NULL DEFAULT '',
	duration_us        BIGINT      NOT NULL,
	request_ip         TEXT        NOT NULL DEFAULT '',
	api_key_hash       TEXT        NOT NULL DEFAULT '',
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS verdicts_created_at_idx ON verdicts (created_at DESC);
CREATE INDEX IF NOT EXISTS verdicts_kind_idx ON verdicts (kind);
CREATE INDEX IF NOT EXISTS verdicts_code_hash_idx ON verdicts (code_hash);
`
