package copilot

import (
	"regexp"
	"strings"

	"github.com/jholhewres/opclaw/pkg/opclaw/channels"
)

// mentionPattern matches user mentions, <@id> and <@!id>.
var mentionPattern = regexp.MustCompile(`<@!?\d+>`)

// AccessResult is the outcome of an access check.
type AccessResult struct {
	Allowed bool
	Reason  string
}

// AccessControl admits messages from the single operator, in a guild, that
// mention the bot. Everyone else is silently ignored.
type AccessControl struct {
	ownerID string
}

// NewAccessControl creates the check for ownerID.
func NewAccessControl(ownerID string) *AccessControl {
	return &AccessControl{ownerID: strings.TrimSpace(ownerID)}
}

// Check decides whether msg is handled.
func (ac *AccessControl) Check(msg *channels.IncomingMessage) AccessResult {
	switch {
	case ac.ownerID == "" || msg.From != ac.ownerID:
		return AccessResult{Reason: "not the operator"}
	case msg.GuildID == "":
		return AccessResult{Reason: "not in a guild"}
	case !msg.Mentioned:
		return AccessResult{Reason: "bot not mentioned"}
	}
	return AccessResult{Allowed: true}
}

// IsOwner reports whether userID is the operator.
func (ac *AccessControl) IsOwner(userID string) bool {
	return ac.ownerID != "" && userID == ac.ownerID
}

// CleanUtterance strips user mentions and surrounding whitespace.
func CleanUtterance(content string) string {
	return strings.TrimSpace(mentionPattern.ReplaceAllString(content, ""))
}
