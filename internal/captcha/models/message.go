package models

import "strings"

// SegmentType is the kind of a rendered message segment.
type SegmentType string

const (
	SegmentText    SegmentType = "text"
	SegmentMention SegmentType = "at"
)

// Segment is one piece of an outbound message. Mentions carry the subject;
// the platform adapter decides how to render them.
type Segment struct {
	Type    SegmentType
	Text    string
	Subject SubjectID
}

// Message is an ordered list of segments.
type Message []Segment

// Text appends a text segment.
func (m Message) Text(s string) Message {
	return append(m, Segment{Type: SegmentText, Text: s})
}

// Mention appends a mention of subject.
func (m Message) Mention(subject SubjectID) Message {
	return append(m, Segment{Type: SegmentMention, Subject: subject})
}

// Plain renders the message as text, mentions as "@subject".
func (m Message) Plain() string {
	var b strings.Builder
	for _, seg := range m {
		switch seg.Type {
		case SegmentMention:
			b.WriteString("@")
			b.WriteString(string(seg.Subject))
		default:
			b.WriteString(seg.Text)
		}
	}
	return b.String()
}
