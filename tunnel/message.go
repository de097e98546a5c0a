package tunnel

import "time"

// Wire field names under rooms/<room>/messages/<id>.
const (
	fieldAuthor    = "author"
	fieldText      = "text"
	fieldTimestamp = "timestamp"
	fieldRead      = "read"
	fieldReplyTo   = "replyTo"
)

// ReplyRef is an immutable snapshot of the quoted message taken at reply
// time. It survives deletion of the original.
type ReplyRef struct {
	Author string
	Text   string
}

// Message is one entry of a room's append-only stream. Identity is the
// store-assigned child key; everything except Read is immutable.
type Message struct {
	ID        string
	Author    string
	Text      string
	Timestamp time.Time
	Read      bool
	ReplyTo   *ReplyRef
}

// encodeMessage builds the store payload for a send.
func encodeMessage(author, text string, sentAt time.Time, replyTo *ReplyRef) map[string]any {
	payload := map[string]any{
		fieldAuthor:    author,
		fieldText:      text,
		fieldTimestamp: sentAt.UnixMilli(),
		fieldRead:      false,
	}
	if replyTo != nil {
		payload[fieldReplyTo] = map[string]any{
			fieldAuthor: replyTo.Author,
			fieldText:   replyTo.Text,
		}
	}
	return payload
}

// decodeMessage turns a child-added snapshot into a Message. A missing or
// non-positive timestamp is repaired to receivedAt so formatting never
// breaks on malformed input.
func decodeMessage(key string, value any, receivedAt time.Time) Message {
	fields := asMap(value)
	msg := Message{
		ID:     key,
		Author: asString(fields[fieldAuthor]),
		Text:   asString(fields[fieldText]),
		Read:   asBool(fields[fieldRead]),
	}
	msg.Timestamp = millisToTime(asInt64(fields[fieldTimestamp]))
	if msg.Timestamp.IsZero() {
		msg.Timestamp = receivedAt
	}
	if reply := asMap(fields[fieldReplyTo]); reply != nil {
		msg.ReplyTo = &ReplyRef{
			Author: asString(reply[fieldAuthor]),
			Text:   asString(reply[fieldText]),
		}
	}
	return msg
}
