package models

import "strings"

// ChallengeKey addresses one (subject, group) challenge. Its string form is
// "subject@group"; stores prepend their own namespace.
type ChallengeKey struct {
	Subject SubjectID
	Group   GroupID
}

func NewChallengeKey(subject SubjectID, group GroupID) ChallengeKey {
	return ChallengeKey{Subject: subject, Group: group}
}

func (k ChallengeKey) String() string {
	return SanitizeKeySegment(string(k.Subject)) + "@" + SanitizeKeySegment(string(k.Group))
}

// SanitizeKeySegment escapes delimiter characters in key segments so an
// identifier containing '@' or ':' cannot address another member's challenge.
func SanitizeKeySegment(s string) string {
	return strings.NewReplacer(":", "_", "@", "_").Replace(s)
}
