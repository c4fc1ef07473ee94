package domain

import "time"

// Chat identifies a conversation. The real-time layer never mutates a
// chat except for LastMessageAt and IsActive; everything else is set
// by the REST side at creation time.
type Chat struct {
	ID            string      `json:"id"`
	Type          ChatType    `json:"type"`
	Name          string      `json:"name,omitempty"`
	AvatarURL     *string     `json:"avatar_url,omitempty"`
	Description   *string     `json:"description,omitempty"`
	Privacy       PrivacyMode `json:"privacy,omitempty"`
	CourseID      *string     `json:"course_id,omitempty"`
	CounterpartID *string     `json:"counterpart_id,omitempty"` // direct chats only
	IsActive      bool        `json:"is_active"`
	LastMessageAt *time.Time  `json:"last_message_at,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
}

// IsDirect reports whether the chat has exactly one implicit
// counterparty.
func (c Chat) IsDirect() bool {
	return c.Type == ChatTypeDirect
}

// ChatMember is a participant's membership record. Fetched on demand
// per open chat, never streamed.
type ChatMember struct {
	ChatID               string       `json:"chat_id"`
	UserID               string       `json:"user_id"`
	DisplayName          string       `json:"display_name,omitempty"`
	Role                 MemberRole   `json:"role"`
	Status               MemberStatus `json:"status"`
	NotificationsEnabled bool         `json:"notifications_enabled"`
	IsPinned             bool         `json:"is_pinned"`
	LastReadMessageID    *string      `json:"last_read_message_id,omitempty"`
	JoinedAt             time.Time    `json:"joined_at"`
}
