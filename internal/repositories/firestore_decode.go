package repositories

import (
	"time"

	"cloud.google.com/go/firestore"
	"github.com/anonto42/nano-midea/chatsync/internal/models"
)

func getStr(data map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if v, ok := data[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func getTime(data map[string]interface{}, keys ...string) *time.Time {
	for _, k := range keys {
		if v, ok := data[k].(time.Time); ok && !v.IsZero() {
			return &v
		}
	}
	return nil
}

func getStrings(data map[string]interface{}, key string) []string {
	raw, ok := data[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func timeOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func decodeRelationship(doc *firestore.DocumentSnapshot) (models.FriendRelationship, bool) {
	data := doc.Data()
	if data == nil {
		return models.FriendRelationship{}, false
	}
	from, to := getStr(data, "from"), getStr(data, "to")
	if from == "" || to == "" {
		return models.FriendRelationship{}, false
	}
	members := getStrings(data, "members")
	if len(members) == 0 {
		x, y := models.SortedPair(from, to)
		members = []string{x, y}
	}
	return models.FriendRelationship{
		ID:        doc.Ref.ID,
		From:      from,
		To:        to,
		Members:   members,
		Status:    models.FriendStatus(getStr(data, "status")),
		CreatedAt: timeOrZero(getTime(data, "createdAt")),
		UpdatedAt: timeOrZero(getTime(data, "updatedAt")),
	}, true
}

func decodeConversation(doc *firestore.DocumentSnapshot) (models.Conversation, bool) {
	data := doc.Data()
	if data == nil {
		return models.Conversation{}, false
	}
	members := getStrings(data, "members")
	if len(members) != 2 {
		return models.Conversation{}, false
	}
	conv := models.Conversation{
		ID:            doc.Ref.ID,
		Members:       members,
		PairKey:       getStr(data, "pairKey"),
		LastMessage:   getStr(data, "lastMessage"),
		LastSenderID:  getStr(data, "lastSenderId"),
		LastMessageAt: getTime(data, "lastMessageAt"),
		UpdatedAt:     getTime(data, "updatedAt"),
		CreatedAt:     getTime(data, "createdAt"),
	}
	if conv.PairKey == "" {
		conv.PairKey = models.PairKey(members[0], members[1])
	}
	if meta, ok := data["membersMeta"].(map[string]interface{}); ok {
		conv.MembersMeta = make(map[string]models.MemberMeta, len(meta))
		for uid, raw := range meta {
			m, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			conv.MembersMeta[uid] = models.MemberMeta{
				DisplayName: getStr(m, "displayName"),
				PhotoURL:    getStr(m, "photoURL"),
				Username:    getStr(m, "username", "gamertag"),
			}
		}
	}
	return conv, true
}

// decodeMessage accepts both the current and the legacy field names.
func decodeMessage(conversationID string, doc *firestore.DocumentSnapshot) (models.Message, bool) {
	data := doc.Data()
	if data == nil {
		return models.Message{}, false
	}
	sender := getStr(data, "senderId", "authorId")
	if sender == "" {
		return models.Message{}, false
	}
	return models.Message{
		ID:             doc.Ref.ID,
		ConversationID: conversationID,
		Text:           getStr(data, "text"),
		SenderID:       sender,
		CreatedAt:      timeOrZero(getTime(data, "createdAt", "sentAt")),
	}, true
}
