package threads_test

import (
	"testing"

	"github.com/d9705996/modmail-viewer/internal/threads"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
)

func sampleThread() *threads.Thread {
	mod := threads.Author{ID: "42", Name: "mod", Mod: true}
	user := threads.Author{ID: "7", Name: "member"}
	return &threads.Thread{
		ID:        "80a9516fa1f1",
		Recipient: user,
		Messages: []threads.Message{
			{MessageID: "1", Author: user, Content: "help", Type: threads.MessageThread},
			{MessageID: "2", Author: mod, Content: "note to staff", Type: threads.MessageInternal},
			{MessageID: "3", Author: mod, Content: "on it", Type: threads.MessageAnonymous},
			{MessageID: "4", Author: mod, Content: "thread closed", Type: threads.MessageSystem},
		},
	}
}

func ids(t *threads.Thread) []string {
	out := make([]string, len(t.Messages))
	for i, m := range t.Messages {
		out[i] = m.MessageID
	}
	return out
}

func TestRedact_Defaults(t *testing.T) {
	src := sampleThread()
	got := threads.Redact(src, threads.Visibility{})

	assert.Equal(t, []string{"1", "3"}, ids(got))
	assert.Equal(t, threads.AnonymousAuthor, got.Messages[1].Author)

	// source untouched
	assert.Len(t, src.Messages, 4)
	assert.Equal(t, "42", src.Messages[2].Author.ID)
}

func TestRedact_ShowEverything(t *testing.T) {
	got := threads.Redact(sampleThread(), threads.Visibility{
		ShowInternalMessages:    true,
		ShowAnonymousSenderName: true,
		ShowSystemMessages:      true,
	})

	assert.Equal(t, []string{"1", "2", "3", "4"}, ids(got))
	assert.Equal(t, "42", got.Messages[2].Author.ID)
}

func TestRedact_Individually(t *testing.T) {
	got := threads.Redact(sampleThread(), threads.Visibility{ShowSystemMessages: true})
	assert.Equal(t, []string{"1", "3", "4"}, ids(got))

	got = threads.Redact(sampleThread(), threads.Visibility{ShowInternalMessages: true})
	assert.Equal(t, []string{"1", "2", "3"}, ids(got))
}

func TestThreadDecodesBotDocument(t *testing.T) {
	doc := bson.M{
		"_id":        "80a9516fa1f1",
		"key":        "80a9516fa1f1",
		"bot_id":     "111",
		"guild_id":   "222",
		"channel_id": "333",
		"open":       false,
		"created_at": "2025-01-01T00:00:00",
		"closed_at":  "2025-01-02T00:00:00",
		"creator":    bson.M{"id": "7", "name": "member", "discriminator": "0", "avatar_url": "", "mod": false},
		"recipient":  bson.M{"id": "7", "name": "member", "discriminator": "0", "avatar_url": "", "mod": false},
		"closer":     nil,
		"messages": bson.A{
			bson.M{
				"message_id": "9",
				"author":     bson.M{"id": "7", "name": "member", "discriminator": "0", "avatar_url": "", "mod": false},
				"content":    "hello",
				"timestamp":  "2025-01-01T00:00:01",
				"type":       "thread_message",
				"attachments": bson.A{
					bson.M{
						"id":       int32(5),
						"filename": "a.png",
						"type":     threads.AttachmentTypeS3,
						"s3":       bson.M{"bucket": "modmail", "object": "a.png"},
					},
				},
			},
		},
	}
	raw, err := bson.Marshal(doc)
	require.NoError(t, err)

	var th threads.Thread
	require.NoError(t, bson.Unmarshal(raw, &th))
	assert.Equal(t, "80a9516fa1f1", th.ID)
	assert.Nil(t, th.Closer)
	require.NotNil(t, th.ClosedAt)
	require.Len(t, th.Messages, 1)
	att := th.Messages[0].Attachments[0]
	assert.Equal(t, int64(5), att.ID)
	require.NotNil(t, att.S3)
	assert.Equal(t, "modmail", att.S3.Bucket)
}
