// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package split

import (
	"context"
	"encoding/base64"
	"time"

	"github.com/zeebo/errs"
	"go.uber.org/zap"
	monkit "gopkg.in/spacemonkeygo/monkit.v2"

	"storj.io/splitstore/internal/sync2"
	"storj.io/splitstore/pkg/checkpoint"
	"storj.io/splitstore/storage"
)

var mon = monkit.Package()

// Error is the default error class for failed split writes
var Error = errs.Class("split")

// ErrChecksum is returned when a part's checksum does not match its payload
var ErrChecksum = errs.Class("checksum mismatch")

// ErrTimeout is returned when a split or reassembly deadline expires
var ErrTimeout = errs.Class("split timeout")

// Splitter shards oversized checkpoint records into part records and
// reassembles them on read.
type Splitter struct {
	log    *zap.Logger
	config Config
	sizer  *Sizer
}

// NewSplitter creates a splitter, validating the configuration.
func NewSplitter(log *zap.Logger, config Config) (*Splitter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Splitter{
		log:    log,
		config: config,
		sizer:  NewSizer(config),
	}, nil
}

// Sizer returns the splitter's size analyzer.
func (splitter *Splitter) Sizer() *Sizer { return splitter.sizer }

// SplitResult reports what a write produced.
type SplitResult struct {
	WasSplit  bool
	RecordIDs []string
}

// SplitIfNeeded analyzes the record and, when it exceeds the configured
// threshold and the strategy applies, writes the full part set to the store
// with per part retries. When the record is small, splitting is disabled, or
// the strategy cannot apply, the caller is told to write the single record
// itself; the splitter never truncates a payload to make it fit.
func (splitter *Splitter) SplitIfNeeded(ctx context.Context, threadID, recordID string, cp, metadata *checkpoint.Object, store storage.RecordStore) (_ SplitResult, err error) {
	defer mon.Task()(&ctx)(&err)

	single := SplitResult{WasSplit: false, RecordIDs: []string{recordID}}

	if !splitter.config.Enabled {
		return single, nil
	}

	analysis, err := splitter.sizer.Analyze(cp, metadata)
	if err != nil {
		// analysis errors are not retryable and propagate as is
		return SplitResult{}, err
	}

	if splitter.config.EnableSizeMonitoring {
		splitter.log.Debug("size analysis",
			zap.String("recordID", recordID),
			zap.Int("totalSize", analysis.TotalSize),
			zap.Int("checkpointSize", analysis.SizeBreakdown.Checkpoint),
			zap.Int("metadataSize", analysis.SizeBreakdown.Metadata),
			zap.Bool("exceedsThreshold", analysis.ExceedsThreshold),
			zap.Int("estimatedParts", analysis.EstimatedParts),
		)
	}

	if !analysis.ExceedsThreshold {
		return single, nil
	}

	verdict := splitter.sizer.CanSplit(cp, splitter.config.Strategy)
	if !verdict.OK {
		// fall back to a direct write; the store itself may still reject
		// the oversized record, which is preferable to silent truncation
		splitter.log.Warn("record exceeds threshold but cannot be split",
			zap.String("recordID", recordID),
			zap.String("strategy", string(splitter.config.Strategy)),
			zap.String("reason", verdict.Reason),
		)
		return single, nil
	}

	shards, err := splitter.performSplit(threadID, recordID, cp, metadata)
	if err != nil {
		if checkpoint.ErrSerialize.Has(err) {
			return SplitResult{}, err
		}
		return SplitResult{}, Error.Wrap(err)
	}

	recordIDs, err := splitter.storeShards(ctx, store, shards)
	if err != nil {
		return SplitResult{}, err
	}

	return SplitResult{WasSplit: true, RecordIDs: recordIDs}, nil
}

func (splitter *Splitter) performSplit(threadID, recordID string, cp, metadata *checkpoint.Object) ([]*storage.StoredRecord, error) {
	switch splitter.config.Strategy {
	case storage.ContentLevel:
		return splitter.splitContentLevel(threadID, recordID, cp, metadata)
	default:
		return splitter.splitMessageLevel(threadID, recordID, cp, metadata)
	}
}

// messageChunk is a consecutive run of channel messages bounded by
// MaxChunkSize. Start and End are the inclusive indexes of the run.
type messageChunk struct {
	Start    int
	End      int
	Messages []interface{}
}

// chunkMessages partitions messages into size bounded chunks with a greedy
// accumulator. Order is preserved; a single message larger than the chunk
// size occupies a chunk by itself.
func chunkMessages(messages []interface{}, maxChunkSize int) ([]messageChunk, error) {
	var chunks []messageChunk
	var current []interface{}
	currentBytes := 0
	chunkStart := 0

	for i, message := range messages {
		data, err := checkpoint.Marshal(message)
		if err != nil {
			return nil, err
		}

		if currentBytes+len(data) > maxChunkSize && len(current) > 0 {
			chunks = append(chunks, messageChunk{Start: chunkStart, End: i - 1, Messages: current})
			current = nil
			currentBytes = 0
			chunkStart = i
		}

		current = append(current, message)
		currentBytes += len(data)
	}

	if len(current) > 0 {
		chunks = append(chunks, messageChunk{Start: chunkStart, End: len(messages) - 1, Messages: current})
	}
	return chunks, nil
}

// splitMessageLevel empties the message sequences out of a copy of the
// checkpoint and emits them as auxiliary parts. The stripped primary keeps
// the original record id and part number 0.
func (splitter *Splitter) splitMessageLevel(threadID, recordID string, cp, metadata *checkpoint.Object) ([]*storage.StoredRecord, error) {
	stripped := cp.Clone()
	splitTime := time.Now().UTC()

	var auxiliaries []*storage.StoredRecord
	partNumber := 1

	for _, name := range cp.Keys() {
		value, _ := cp.Get(name)
		messages, ok := checkpoint.Messages(value)
		if !ok || len(messages) == 0 {
			continue
		}

		chunks, err := chunkMessages(messages, splitter.config.MaxChunkSize)
		if err != nil {
			return nil, err
		}

		for _, chunk := range chunks {
			messagesData, err := checkpoint.Marshal(chunk.Messages)
			if err != nil {
				return nil, err
			}

			auxiliaries = append(auxiliaries, &storage.StoredRecord{
				ThreadID: threadID,
				RecordID: storage.PartRecordID(splitter.config.SplitRecordPrefix, recordID, partNumber),
				IsSplit:  true,
				MessageSplitData: &storage.MessageSplitData{
					ChannelName:       name,
					StartMessageIndex: chunk.Start,
					EndMessageIndex:   chunk.End,
					MessagesData:      messagesData,
					CheckpointMetadata: storage.CheckpointMetadata{
						TotalMessages:  len(messages),
						ChannelVersion: checkpoint.ChannelVersion(value),
					},
				},
				SplitMetadata: &storage.SplitMetadata{
					OriginalRecordID: recordID,
					PartNumber:       partNumber,
					Strategy:         storage.MessageLevel,
					SplitTimestamp:   splitTime,
					PartSize:         len(messagesData),
					Checksum:         splitter.sizer.Checksum(messagesData),
				},
			})
			partNumber++
		}

		strippedValue, _ := stripped.Get(name)
		checkpoint.SetMessages(strippedValue, []interface{}{})
	}

	checkpointData, err := checkpoint.Marshal(stripped)
	if err != nil {
		return nil, err
	}
	metadataData, err := checkpoint.Marshal(metadata)
	if err != nil {
		return nil, err
	}
	combined := append(append([]byte{}, checkpointData...), metadataData...)

	primary := &storage.StoredRecord{
		ThreadID:   threadID,
		RecordID:   recordID,
		Checkpoint: checkpointData,
		Metadata:   metadataData,
		IsSplit:    true,
		SplitMetadata: &storage.SplitMetadata{
			OriginalRecordID: recordID,
			PartNumber:       0,
			Strategy:         storage.MessageLevel,
			SplitTimestamp:   splitTime,
			PartSize:         len(combined),
			Checksum:         splitter.sizer.Checksum(combined),
		},
	}

	// pre-split byte size of the whole record
	originalCheckpoint, err := checkpoint.Marshal(cp)
	if err != nil {
		return nil, err
	}
	originalSize := len(originalCheckpoint) + len(metadataData)

	// primary first, so a failed write rolls the primary back before any
	// auxiliary and a stale primary is never left without its parts
	shards := append([]*storage.StoredRecord{primary}, auxiliaries...)
	for _, shard := range shards {
		shard.SplitMetadata.TotalParts = len(auxiliaries) + 1
		shard.SplitMetadata.OriginalSize = originalSize
	}
	return shards, nil
}

// splitContentLevel base64-encodes the whole serialized record and cuts the
// encoding into consecutive chunks. Part 1 keeps the original record id;
// there is no separate stripped primary in this strategy.
func (splitter *Splitter) splitContentLevel(threadID, recordID string, cp, metadata *checkpoint.Object) ([]*storage.StoredRecord, error) {
	wrapper := checkpoint.NewObject()
	wrapper.Set("checkpoint", cp)
	wrapper.Set("metadata", metadata)

	combined, err := checkpoint.Marshal(wrapper)
	if err != nil {
		return nil, err
	}
	encoded := base64.StdEncoding.EncodeToString(combined)

	splitTime := time.Now().UTC()
	totalParts := ceilDiv(len(encoded), splitter.config.MaxChunkSize)
	if totalParts < 1 {
		totalParts = 1
	}

	shards := make([]*storage.StoredRecord, 0, totalParts)
	for part := 1; part <= totalParts; part++ {
		start := (part - 1) * splitter.config.MaxChunkSize
		end := start + splitter.config.MaxChunkSize
		if end > len(encoded) {
			end = len(encoded)
		}
		chunk := encoded[start:end]

		partRecordID := recordID
		if part > 1 {
			partRecordID = storage.PartRecordID(splitter.config.SplitRecordPrefix, recordID, part)
		}

		shards = append(shards, &storage.StoredRecord{
			ThreadID: threadID,
			RecordID: partRecordID,
			IsSplit:  true,
			ContentSplitData: &storage.ContentSplitData{
				ChunkData: chunk,
				Encoding:  "base64",
			},
			SplitMetadata: &storage.SplitMetadata{
				OriginalRecordID: recordID,
				TotalParts:       totalParts,
				PartNumber:       part,
				Strategy:         storage.ContentLevel,
				SplitTimestamp:   splitTime,
				OriginalSize:     len(combined),
				PartSize:         len(chunk),
				Checksum:         splitter.sizer.Checksum([]byte(chunk)),
			},
		})
	}
	return shards, nil
}

// storeShards writes the part set in order, retrying each part with
// exponential backoff. When a part exhausts its retries every already
// written part is deleted again, so either the whole set is stored or none
// of it is.
func (splitter *Splitter) storeShards(ctx context.Context, store storage.RecordStore, shards []*storage.StoredRecord) (_ []string, err error) {
	defer mon.Task()(&ctx)(&err)

	writeCtx := ctx
	cancel := func() {}
	if splitter.config.OperationTimeout > 0 {
		writeCtx, cancel = context.WithTimeout(ctx, splitter.config.OperationTimeout)
	}
	defer cancel()

	var stored []*storage.StoredRecord
	for _, shard := range shards {
		if err := splitter.putWithRetry(writeCtx, store, shard); err != nil {
			splitter.rollback(ctx, store, stored)
			return nil, Error.Wrap(err)
		}
		stored = append(stored, shard)
	}

	recordIDs := make([]string, len(shards))
	for i, shard := range shards {
		recordIDs[i] = shard.RecordID
	}
	return recordIDs, nil
}

func (splitter *Splitter) putWithRetry(ctx context.Context, store storage.RecordStore, shard *storage.StoredRecord) error {
	var err error
	for attempt := 0; attempt < splitter.config.MaxRetries; attempt++ {
		if attempt > 0 {
			if !sync2.Sleep(ctx, backoffDelay(attempt-1)) {
				return ErrTimeout.Wrap(ctx.Err())
			}
		}

		err = store.Put(ctx, shard)
		if err == nil {
			return nil
		}

		splitter.log.Warn("part write failed",
			zap.String("recordID", shard.RecordID),
			zap.Int("attempt", attempt+1),
			zap.Int("maxRetries", splitter.config.MaxRetries),
			zap.Error(err),
		)
	}
	return err
}

// backoffDelay returns the sleep before retry attempt+1.
func backoffDelay(attempt int) time.Duration {
	return (100 * time.Millisecond) << uint(attempt)
}

// rollback deletes already stored parts after a failed set write. Delete
// failures are logged and skipped so they cannot mask the original error;
// anything left behind is invisible to listings and reclaimed by the next
// thread deletion.
func (splitter *Splitter) rollback(ctx context.Context, store storage.RecordStore, stored []*storage.StoredRecord) {
	for _, shard := range stored {
		if err := store.Delete(ctx, shard.ThreadID, shard.RecordID); err != nil {
			splitter.log.Warn("rollback delete failed",
				zap.String("recordID", shard.RecordID),
				zap.Error(err),
			)
		}
	}
}
