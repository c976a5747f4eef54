// Package threads reads modmail thread documents from a tenant's Mongo
// database and shapes them for display.
package threads

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// DefaultCollection is the collection the modmail bot writes threads to.
const DefaultCollection = "logs"

// ErrThreadNotFound is returned when no thread has the requested id.
var ErrThreadNotFound = errors.New("threads: thread not found")

// MessageType classifies a message in a thread.
type MessageType string

const (
	MessageThread    MessageType = "thread_message"
	MessageSystem    MessageType = "system"
	MessageInternal  MessageType = "internal"
	MessageAnonymous MessageType = "anonymous"
)

// AttachmentTypeS3 marks attachments stored in object storage rather than on
// Discord's CDN.
const AttachmentTypeS3 = "openmodmail_s3"

// Author is a participant as the bot recorded them.
type Author struct {
	AvatarURL     string `bson:"avatar_url" json:"avatar_url"`
	Discriminator string `bson:"discriminator" json:"discriminator"`
	ID            string `bson:"id" json:"id"`
	Mod           bool   `bson:"mod" json:"mod"`
	Name          string `bson:"name" json:"name"`
}

// S3Object locates an attachment in a bucket.
type S3Object struct {
	Bucket string `bson:"bucket" json:"bucket"`
	Object string `bson:"object" json:"object"`
}

// Attachment is a file attached to a message.
type Attachment struct {
	ID          int64     `bson:"id" json:"id"`
	Filename    string    `bson:"filename" json:"filename"`
	ContentType string    `bson:"content_type,omitempty" json:"content_type,omitempty"`
	Description *string   `bson:"description,omitempty" json:"description,omitempty"`
	IsImage     bool      `bson:"is_image,omitempty" json:"is_image,omitempty"`
	Height      *int      `bson:"height,omitempty" json:"height,omitempty"`
	Width       *int      `bson:"width,omitempty" json:"width,omitempty"`
	Size        int64     `bson:"size,omitempty" json:"size,omitempty"`
	URL         string    `bson:"url,omitempty" json:"url,omitempty"`
	Type        string    `bson:"type,omitempty" json:"type,omitempty"`
	S3          *S3Object `bson:"s3,omitempty" json:"s3,omitempty"`
}

// Message is one entry in a thread.
type Message struct {
	MessageID   string       `bson:"message_id" json:"message_id"`
	Author      Author       `bson:"author" json:"author"`
	Content     string       `bson:"content" json:"content"`
	Timestamp   string       `bson:"timestamp" json:"timestamp"`
	Edited      string       `bson:"edited,omitempty" json:"edited,omitempty"`
	Type        MessageType  `bson:"type" json:"type"`
	Attachments []Attachment `bson:"attachments" json:"attachments"`
}

// Thread is a modmail log document.
type Thread struct {
	ID           string    `bson:"_id" json:"id"`
	Key          string    `bson:"key" json:"key"`
	BotID        string    `bson:"bot_id" json:"bot_id"`
	GuildID      string    `bson:"guild_id" json:"guild_id"`
	ChannelID    string    `bson:"channel_id" json:"channel_id"`
	DMChannelID  string    `bson:"dm_channel_id,omitempty" json:"dm_channel_id,omitempty"`
	Open         bool      `bson:"open" json:"open"`
	NSFW         bool      `bson:"nsfw" json:"nsfw"`
	Title        *string   `bson:"title,omitempty" json:"title,omitempty"`
	CreatedAt    string    `bson:"created_at" json:"created_at"`
	ClosedAt     *string   `bson:"closed_at,omitempty" json:"closed_at,omitempty"`
	CloseMessage *string   `bson:"close_message,omitempty" json:"close_message,omitempty"`
	Creator      Author    `bson:"creator" json:"creator"`
	Recipient    Author    `bson:"recipient" json:"recipient"`
	Closer       *Author   `bson:"closer,omitempty" json:"closer,omitempty"`
	Messages     []Message `bson:"messages" json:"messages"`
}

// Repository reads threads from one collection.
type Repository struct {
	coll *mongo.Collection
}

// NewRepository binds a Repository to coll.
func NewRepository(coll *mongo.Collection) *Repository {
	return &Repository{coll: coll}
}

// FindByID loads the thread with the given _id.
func (r *Repository) FindByID(ctx context.Context, id string) (*Thread, error) {
	var t Thread
	err := r.coll.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&t)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrThreadNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find thread %s: %w", id, err)
	}
	return &t, nil
}

// Exists reports whether a thread with id is stored.
func (r *Repository) Exists(ctx context.Context, id string) (bool, error) {
	n, err := r.coll.CountDocuments(ctx, bson.D{{Key: "_id", Value: id}})
	if err != nil {
		return false, fmt.Errorf("count thread %s: %w", id, err)
	}
	return n > 0, nil
}
