package domain

type ChatType string

const (
	ChatTypeDirect ChatType = "direct"
	ChatTypeGroup  ChatType = "group"
)

type MessageType string

const (
	MessageTypeText   MessageType = "text"
	MessageTypeImage  MessageType = "image"
	MessageTypeFile   MessageType = "file"
	MessageTypeSystem MessageType = "system"
)

type MemberRole string

const (
	MemberRoleMember    MemberRole = "member"
	MemberRoleAdmin     MemberRole = "admin"
	MemberRoleModerator MemberRole = "moderator"
)

type MemberStatus string

const (
	MemberStatusActive  MemberStatus = "active"
	MemberStatusLeft    MemberStatus = "left"
	MemberStatusRemoved MemberStatus = "removed"
	MemberStatusBanned  MemberStatus = "banned"
)

type PrivacyMode string

const (
	PrivacyModePublic  PrivacyMode = "public"
	PrivacyModePrivate PrivacyMode = "private"
)

// MessageState is the local lifecycle of a message in the active-chat
// list. Server-delivered messages are always confirmed; optimistic
// sends start pending and end confirmed or failed.
type MessageState string

const (
	MessageStatePending   MessageState = "pending"
	MessageStateConfirmed MessageState = "confirmed"
	MessageStateFailed    MessageState = "failed"
)

type UploadStatus string

const (
	UploadStatusUploading UploadStatus = "uploading"
	UploadStatusDone      UploadStatus = "done"
	UploadStatusFailed    UploadStatus = "failed"
	UploadStatusCanceled  UploadStatus = "canceled"
)
