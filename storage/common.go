// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package storage

import (
	"context"
	"time"

	"github.com/zeebo/errs"
)

// Error is the default storage errs class
var Error = errs.Class("storage")

// ErrRecordNotFound is returned when a looked up record does not exist
var ErrRecordNotFound = errs.Class("record not found")

// ErrEmptyKey is returned when an operation is performed with an empty
// thread or record id
var ErrEmptyKey = errs.Class("empty key")

// Strategy selects how an oversized record is split into parts.
type Strategy string

const (
	// MessageLevel splits the message sequences out of individual channels,
	// keeping a stripped primary record at the original id.
	MessageLevel Strategy = "message_level"
	// ContentLevel base64-encodes the whole serialized record and splits it
	// into opaque chunks.
	ContentLevel Strategy = "content_level"
)

// SplitMetadata describes one part of a split record set.
type SplitMetadata struct {
	OriginalRecordID string    `json:"originalRecordId"`
	TotalParts       int       `json:"totalParts"`
	PartNumber       int       `json:"partNumber"`
	Strategy         Strategy  `json:"strategy"`
	SplitTimestamp   time.Time `json:"splitTimestamp"`
	OriginalSize     int       `json:"originalSize"`
	PartSize         int       `json:"partSize"`
	Checksum         string    `json:"checksum,omitempty"`
}

// CheckpointMetadata carries channel level info alongside a message chunk so
// a channel can be restored without consulting other parts.
type CheckpointMetadata struct {
	TotalMessages  int    `json:"totalMessages"`
	ChannelVersion string `json:"channelVersion,omitempty"`
}

// MessageSplitData is the payload of a message level auxiliary part.
type MessageSplitData struct {
	ChannelName        string             `json:"channelName"`
	StartMessageIndex  int                `json:"startMessageIndex"`
	EndMessageIndex    int                `json:"endMessageIndex"`
	MessagesData       []byte             `json:"messagesData"`
	CheckpointMetadata CheckpointMetadata `json:"checkpointMetadata"`
}

// ContentSplitData is the payload of a content level part.
type ContentSplitData struct {
	ChunkData string `json:"chunkData"`
	Encoding  string `json:"encoding"`
}

// StoredRecord is the unit persisted in a RecordStore. A record either holds
// a whole serialized checkpoint or a single part of a split set.
type StoredRecord struct {
	ThreadID         string            `json:"threadId"`
	RecordID         string            `json:"recordId"`
	Checkpoint       []byte            `json:"checkpoint,omitempty"`
	Metadata         []byte            `json:"metadata,omitempty"`
	IsSplit          bool              `json:"isSplit,omitempty"`
	SplitMetadata    *SplitMetadata    `json:"splitMetadata,omitempty"`
	MessageSplitData *MessageSplitData `json:"messageSplitData,omitempty"`
	ContentSplitData *ContentSplitData `json:"contentSplitData,omitempty"`
}

// RecordStore is an interface describing key/value backed record stores like
// redis and boltdb. Get returns ErrRecordNotFound for missing records, Put is
// an unconditional upsert and Delete of a missing record is not an error.
// QueryByThread returns every record of a thread whose record id starts with
// prefix, in record id order.
type RecordStore interface {
	Get(ctx context.Context, threadID, recordID string) (*StoredRecord, error)
	Put(ctx context.Context, record *StoredRecord) error
	Delete(ctx context.Context, threadID, recordID string) error
	QueryByThread(ctx context.Context, threadID, prefix string) ([]*StoredRecord, error)
	Close() error
}
