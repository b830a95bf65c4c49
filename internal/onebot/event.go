package onebot

import (
	"strconv"

	"joingate/internal/captcha/models"
)

// Post types and the sub-kinds the gate reacts to.
const (
	PostTypeMessage   = "message"
	PostTypeNotice    = "notice"
	PostTypeMetaEvent = "meta_event"

	MessageTypeGroup        = "group"
	NoticeTypeGroupIncrease = "group_increase"
)

// Event is the subset of a OneBot v11 event post the gate reads.
type Event struct {
	Time        int64  `json:"time"`
	SelfID      int64  `json:"self_id"`
	PostType    string `json:"post_type"`
	MessageType string `json:"message_type,omitempty"`
	NoticeType  string `json:"notice_type,omitempty"`
	SubType     string `json:"sub_type,omitempty"`
	MessageID   int64  `json:"message_id,omitempty"`
	GroupID     int64  `json:"group_id,omitempty"`
	UserID      int64  `json:"user_id,omitempty"`
	RawMessage  string `json:"raw_message,omitempty"`
}

// Kind is "post_type.detail", e.g. "notice.group_increase".
func (e Event) Kind() string {
	switch e.PostType {
	case PostTypeMessage:
		return e.PostType + "." + e.MessageType
	case PostTypeNotice:
		return e.PostType + "." + e.NoticeType
	default:
		return e.PostType
	}
}

// IsSelf reports whether the bot account itself triggered the event.
func (e Event) IsSelf() bool {
	return e.SelfID != 0 && e.UserID == e.SelfID
}

func (e Event) IsMemberJoined() bool {
	return e.PostType == PostTypeNotice && e.NoticeType == NoticeTypeGroupIncrease
}

func (e Event) IsGroupMessage() bool {
	return e.PostType == PostTypeMessage && e.MessageType == MessageTypeGroup
}

func (e Event) Subject() models.SubjectID {
	return models.SubjectID(strconv.FormatInt(e.UserID, 10))
}

func (e Event) Group() models.GroupID {
	return models.GroupID(strconv.FormatInt(e.GroupID, 10))
}

// MessageEvent converts a group message post.
func (e Event) MessageEvent() models.MessageEvent {
	return models.MessageEvent{
		Subject:   e.Subject(),
		Group:     e.Group(),
		MessageID: strconv.FormatInt(e.MessageID, 10),
		Content:   e.RawMessage,
	}
}
