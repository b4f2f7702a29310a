// Package chat derives canonical conversation identifiers for two-party
// direct messages and resolves the recipient of a message from its
// conversation key. Everything here is pure and stateless: both participants
// must be able to compute the same key independently, so the key is simply
// the two user identifiers sorted lexicographically and joined by a fixed
// separator.
package chat

import (
	"errors"
	"strings"
)

// Separator joins the two sorted participant identifiers into a conversation
// key. Participant identifiers must not contain it.
const Separator = "#"

var (
	// ErrMalformedConversation is returned when a conversation key does not
	// split into exactly two non-empty participant identifiers.
	ErrMalformedConversation = errors.New("malformed conversation id")

	// ErrNotParticipant is returned when the sender is not one of the two
	// participants encoded in the conversation key.
	ErrNotParticipant = errors.New("sender is not a conversation participant")
)

// ConversationKey returns the canonical identifier for the conversation
// between userA and userB. It is commutative: ConversationKey(a, b) equals
// ConversationKey(b, a).
func ConversationKey(userA, userB string) string {
	if userB < userA {
		userA, userB = userB, userA
	}
	return userA + Separator + userB
}

// Participants splits a conversation key into its two participant
// identifiers, sorted. It returns ErrMalformedConversation unless the key
// yields exactly two non-empty parts.
func Participants(conversationID string) (string, string, error) {
	parts := strings.Split(conversationID, Separator)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", ErrMalformedConversation
	}
	a, b := parts[0], parts[1]
	if b < a {
		a, b = b, a
	}
	return a, b, nil
}

// ResolveRecipient returns the participant of conversationID that is not
// senderID. A sender outside the conversation is rejected with
// ErrNotParticipant rather than guessed at.
func ResolveRecipient(conversationID, senderID string) (string, error) {
	a, b, err := Participants(conversationID)
	if err != nil {
		return "", err
	}
	switch senderID {
	case a:
		return b, nil
	case b:
		return a, nil
	}
	return "", ErrNotParticipant
}
