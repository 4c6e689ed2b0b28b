package ledger

import (
	"encoding/hex"

	"github.com/fxamacker/cbor/v2"
	"github.com/raphaelgruber/pmchat/internal/models"
	"github.com/zeebo/blake3"
)

// fingerprintLen is the number of hash bytes kept in a fingerprint.
const fingerprintLen = 16

// encMode encodes with Core Deterministic Encoding (RFC 8949 §4.2) so the
// same identifying fields always produce identical bytes.
var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("ledger: CBOR encoder initialization failed: " + err.Error())
	}
}

// identity returns the normalized fields that identify what a directive creates.
// Descriptive fields (deadline, description, assignee, due date, estimate) are
// left out: a reworded description of the same project is the same project.
func identity(d models.Directive) map[string]string {
	switch {
	case d.Project != nil:
		return map[string]string{
			"action":    string(d.Action),
			"project":   models.NormalizeName(d.Project.ProjectName),
			"workspace": models.NormalizeName(d.Project.WorkspaceName),
		}
	case d.Task != nil:
		return map[string]string{
			"action":  string(d.Action),
			"title":   models.NormalizeName(d.Task.Title),
			"project": models.NormalizeName(d.Task.ProjectName),
		}
	default:
		return map[string]string{"action": string(d.Action)}
	}
}

// Fingerprint returns the stable content fingerprint of a directive.
func Fingerprint(d models.Directive) string {
	data, err := encMode.Marshal(identity(d))
	if err != nil {
		// map[string]string always encodes
		panic("ledger: fingerprint encoding failed: " + err.Error())
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:fingerprintLen])
}

// KeyFor returns the ledger key of a directive observed in a conversation.
func KeyFor(conversationID string, d models.Directive) models.LedgerKey {
	return models.LedgerKey{
		ConversationID: conversationID,
		Action:         d.Action,
		Fingerprint:    Fingerprint(d),
	}
}
