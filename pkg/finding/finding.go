package finding

import (
	"fmt"
	"strconv"

	"github.com/spaolacci/murmur3"
)

// Finding is one reported issue. Type and Evidence together identify the
// issue for deduplication; CheckID names the check that produced it. ID
// is the Fingerprint, set when the finding enters a report.
type Finding struct {
	ID          string   `json:"id,omitempty"`
	Type        string   `json:"type"`
	Severity    Severity `json:"severity"`
	Description string   `json:"description"`
	Evidence    string   `json:"evidence,omitempty"`
	URL         string   `json:"url,omitempty"`
	CheckID     string   `json:"check_id"`
}

// New returns a Finding with the mandatory fields set.
func New(checkID, typ string, sev Severity, description string) Finding {
	return Finding{
		Type:        typ,
		Severity:    sev,
		Description: description,
		CheckID:     checkID,
	}
}

// Key is the deduplication identity of a finding.
type Key struct {
	Type     string
	Evidence string
}

// Key returns the (type, evidence) pair used for deduplication.
func (f Finding) Key() Key {
	return Key{Type: f.Type, Evidence: f.Evidence}
}

// Fingerprint returns a stable short hash of the finding's key. Two
// findings with the same type and evidence share a fingerprint.
func (f Finding) Fingerprint() string {
	h := murmur3.New64()
	_, _ = h.Write([]byte(f.Type))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(f.Evidence))
	return strconv.FormatUint(h.Sum64(), 16)
}

// Validate reports whether the finding is well formed.
func (f Finding) Validate() error {
	switch {
	case f.Type == "":
		return fmt.Errorf("%w: empty type", ErrInvalidFinding)
	case f.CheckID == "":
		return fmt.Errorf("%w: empty check id for %q", ErrInvalidFinding, f.Type)
	case !f.Severity.IsValid():
		return fmt.Errorf("%w: severity %q for %q", ErrInvalidFinding, f.Severity, f.Type)
	}
	return nil
}
