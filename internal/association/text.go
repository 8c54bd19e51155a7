package association

import (
	"strings"
	"time"

	"mlsvalidation/internal/domain"
)

const (
	textHeader = "Authorize identity update"
	textFooter = "Only sign this message for applications you trust."
)

// SignatureText renders the message that every signature in update signs.
// It covers all actions of the update, the inbox id and the client timestamp,
// but not the sequence id, which the network assigns after signing.
func SignatureText(inboxID string, update domain.IdentityUpdate) []byte {
	var b strings.Builder
	b.WriteString(textHeader)
	b.WriteString("\n\nInbox ID: ")
	b.WriteString(strings.ToLower(inboxID))
	b.WriteString("\nCurrent time: ")
	b.WriteString(time.Unix(0, int64(update.ClientTimestampNs)).UTC().Format(time.RFC3339Nano))
	b.WriteString("\n")
	for _, action := range update.Actions {
		writeAction(&b, action)
	}
	b.WriteString("\n")
	b.WriteString(textFooter)
	return []byte(b.String())
}

func writeAction(b *strings.Builder, action domain.Action) {
	switch action.Kind() {
	case domain.ActionCreateIdentity:
		a := action.CreateIdentity
		line(b, "Create inbox", "Owner", domain.NormalizeAddress(a.AccountAddress))
		if a.InitialInstallation != nil {
			memberLine(b, *a.InitialInstallation, true)
		}
	case domain.ActionAddAssociation:
		a := action.AddAssociation
		if a.GrantingWallet != nil {
			memberLine(b, *a.GrantingWallet, true)
		}
		memberLine(b, a.NewMember, true)
	case domain.ActionRevokeAssociation:
		memberLine(b, action.RevokeAssociation.RevokedMember, false)
	case domain.ActionChangeRecoveryAddress:
		line(b, "Change inbox recovery address", "Address",
			domain.NormalizeAddress(action.ChangeRecoveryAddress.NewRecoveryAddress))
	default:
		b.WriteString("- Unknown action\n")
	}
}

func memberLine(b *strings.Builder, member domain.MemberIdentifier, grant bool) {
	m := member.Normalized()
	switch m.Kind {
	case domain.MemberKindInstallation:
		if grant {
			line(b, "Grant messaging access to app", "ID", m.Value)
		} else {
			line(b, "Revoke messaging access from app", "ID", m.Value)
		}
	case domain.MemberKindPasskey:
		if grant {
			line(b, "Link passkey to inbox", "Key", m.Value)
		} else {
			line(b, "Unlink passkey from inbox", "Key", m.Value)
		}
	default:
		if grant {
			line(b, "Link address to inbox", "Address", m.Value)
		} else {
			line(b, "Unlink address from inbox", "Address", m.Value)
		}
	}
}

func line(b *strings.Builder, title, label, value string) {
	b.WriteString("- ")
	b.WriteString(title)
	b.WriteString("\n  (")
	b.WriteString(label)
	b.WriteString(": ")
	b.WriteString(value)
	b.WriteString(")\n")
}
