package model

// ActionKind identifies a locally-initiated optimistic action.
type ActionKind string

const (
	ActionSend        ActionKind = "send"
	ActionEdit        ActionKind = "edit"
	ActionDelete      ActionKind = "delete"
	ActionLabelAdd    ActionKind = "label-add"
	ActionLabelRemove ActionKind = "label-remove"
	ActionNewChat     ActionKind = "new-chat"
	ActionMarkRead    ActionKind = "mark-read"
)

// PendingAction tracks one optimistic mutation from user intent until the
// matching confirmation event is reconciled or the write request fails.
type PendingAction struct {
	CorrelationID string
	Kind          ActionKind
	ChatID        string

	// ClientID is the locally-generated id of the tentative entity
	// (message or chat), echoed back by the backend on confirmation.
	ClientID string

	// Signature is the fallback correlation key for message sends:
	// sender id, chat id and content, joined. Used when the backend
	// does not echo the client id.
	Signature string

	CreatedAt int64
}

// SendSignature builds the fallback correlation key for a message send.
func SendSignature(senderID, chatID, content string) string {
	return senderID + "\x00" + chatID + "\x00" + content
}
