package domain

import "time"

type ModerationAction string

const (
	ActionBan        ModerationAction = "ban"
	ActionUnban      ModerationAction = "unban"
	ActionKick       ModerationAction = "kick"
	ActionDelete     ModerationAction = "delete"
	ActionAnnounce   ModerationAction = "announce"
	ActionAdminLogin ModerationAction = "admin_login"
)

// BanRecord is unique per address; a newer ban replaces the older one.
type BanRecord struct {
	Address  string
	Reason   string
	IssuedBy ClientID
	IssuedAt time.Time
}

// ModerationLogEntry is an append-only audit record.
type ModerationLogEntry struct {
	Action        ModerationAction
	Actor         ClientID
	TargetID      ClientID
	TargetAddress string
	MessageID     MessageID
	Reason        string
	At            time.Time
}
