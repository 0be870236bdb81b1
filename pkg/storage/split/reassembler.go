// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package split

import (
	"context"
	"encoding/base64"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"storj.io/splitstore/pkg/checkpoint"
	"storj.io/splitstore/storage"
)

// ReassembleOptions control a single reassembly.
type ReassembleOptions struct {
	// ValidateChecksums recomputes every part's checksum during reassembly.
	ValidateChecksums bool
	// Timeout bounds the whole gather; zero falls back to the configured
	// operation timeout.
	Timeout time.Duration
	// EnableLogging emits a summary log line when reassembly finishes.
	EnableLogging bool
}

// ReassemblyResult is the structured outcome of a reassembly. Protocol
// failures (missing parts, checksum mismatches, deadline expiry) are
// reported here rather than as errors, so callers can decide how to degrade.
type ReassemblyResult struct {
	Success            bool
	Checkpoint         *checkpoint.Object
	Metadata           *checkpoint.Object
	Warnings           []string
	ReassemblyTime     time.Duration
	PartsReassembled   int
	TotalExpectedParts int
}

// Reassemble reads the primary record and gathers its parts under a
// deadline, verifies their checksums and reconstructs the original logical
// record. Store faults surface as errors; everything else lands in the
// result.
func (splitter *Splitter) Reassemble(ctx context.Context, threadID, recordID string, store storage.RecordStore, opts ReassembleOptions) (_ ReassemblyResult, err error) {
	defer mon.Task()(&ctx)(&err)

	start := time.Now()
	result := ReassemblyResult{}

	fail := func(warnings ...string) ReassemblyResult {
		result.Warnings = append(result.Warnings, warnings...)
		result.ReassemblyTime = time.Since(start)
		splitter.logReassembly(recordID, result, opts)
		return result
	}

	primary, err := store.Get(ctx, threadID, recordID)
	if err != nil {
		if storage.ErrRecordNotFound.Has(err) {
			return fail("Record not found"), nil
		}
		return result, err
	}
	if !primary.IsSplit {
		return fail("Record is not split"), nil
	}

	meta := primary.SplitMetadata
	if meta == nil || meta.TotalParts < 1 {
		return fail("Reassembly failed: invalid split metadata"), nil
	}
	result.TotalExpectedParts = meta.TotalParts

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = splitter.config.OperationTimeout
	}
	deadline := start.Add(timeout)

	parts := []*storage.StoredRecord{primary}

	// the auxiliary numbering depends on the strategy: message level keeps
	// part 0 at the original id, content level keeps part 1 there
	firstAux, lastAux := 1, meta.TotalParts-1
	if meta.Strategy == storage.ContentLevel {
		firstAux, lastAux = 2, meta.TotalParts
	}

	for n := firstAux; n <= lastAux; n++ {
		if time.Now().After(deadline) {
			return fail(ErrTimeout.New("deadline exceeded after gathering %d/%d parts",
				len(parts), meta.TotalParts).Error()), nil
		}

		auxKey := storage.PartRecordID(splitter.config.SplitRecordPrefix, recordID, n)
		part, err := store.Get(ctx, threadID, auxKey)
		if err != nil {
			if storage.ErrRecordNotFound.Has(err) {
				// keep gathering so the warning can report how many parts
				// were actually found
				continue
			}
			return result, err
		}
		parts = append(parts, part)
	}

	// every part is essential; a partial set must never surface as a shorter
	// record
	if len(parts) < meta.TotalParts {
		return fail(fmt.Sprintf("Found %d/%d parts", len(parts), meta.TotalParts)), nil
	}

	sort.SliceStable(parts, func(i, j int) bool {
		return partNumber(parts[i]) < partNumber(parts[j])
	})

	var cp, metadata *checkpoint.Object
	var warnings []string
	var ok bool
	switch meta.Strategy {
	case storage.ContentLevel:
		cp, metadata, warnings, ok = splitter.reassembleContentLevel(parts, meta.TotalParts, opts.ValidateChecksums)
	default:
		cp, metadata, warnings, ok = splitter.reassembleMessageLevel(parts, opts.ValidateChecksums)
	}
	if !ok {
		return fail(warnings...), nil
	}

	result.Success = true
	result.Checkpoint = cp
	result.Metadata = metadata
	result.Warnings = append(result.Warnings, warnings...)
	result.PartsReassembled = len(parts)
	result.ReassemblyTime = time.Since(start)
	splitter.logReassembly(recordID, result, opts)
	return result, nil
}

func partNumber(record *storage.StoredRecord) int {
	if record.SplitMetadata == nil {
		return 0
	}
	return record.SplitMetadata.PartNumber
}

// reassembleMessageLevel restores the emptied message sequences of the
// stripped primary from the auxiliary parts.
func (splitter *Splitter) reassembleMessageLevel(parts []*storage.StoredRecord, validate bool) (_, _ *checkpoint.Object, warnings []string, ok bool) {
	primary := parts[0]
	if partNumber(primary) != 0 || primary.Checkpoint == nil {
		return nil, nil, []string{"Reassembly failed: primary part missing"}, false
	}

	cp, err := checkpoint.Unmarshal(primary.Checkpoint)
	if err != nil {
		return nil, nil, []string{"Reassembly failed: " + err.Error()}, false
	}
	metadata := checkpoint.NewObject()
	if len(primary.Metadata) > 0 {
		metadata, err = checkpoint.Unmarshal(primary.Metadata)
		if err != nil {
			return nil, nil, []string{"Reassembly failed: " + err.Error()}, false
		}
	}

	accumulated := map[string][]interface{}{}
	var channelOrder []string

	for _, part := range parts[1:] {
		data := part.MessageSplitData
		if data == nil {
			return nil, nil, []string{fmt.Sprintf("Reassembly failed: part %d has no message data", partNumber(part))}, false
		}

		if validate && part.SplitMetadata != nil {
			computed := splitter.sizer.Checksum(data.MessagesData)
			if computed != part.SplitMetadata.Checksum {
				return nil, nil, []string{
					ErrChecksum.New("part %d: stored %s computed %s",
						partNumber(part), part.SplitMetadata.Checksum, computed).Error(),
				}, false
			}
		}

		decoded, err := checkpoint.Decode(data.MessagesData)
		if err != nil {
			return nil, nil, []string{"Reassembly failed: " + err.Error()}, false
		}
		messages, isArray := decoded.([]interface{})
		if !isArray {
			return nil, nil, []string{fmt.Sprintf("Reassembly failed: part %d message data is not an array", partNumber(part))}, false
		}

		if _, seen := accumulated[data.ChannelName]; !seen {
			channelOrder = append(channelOrder, data.ChannelName)
		}
		accumulated[data.ChannelName] = append(accumulated[data.ChannelName], messages...)
	}

	for _, name := range channelOrder {
		value, exists := cp.Get(name)
		if !exists || !checkpoint.SetMessages(value, accumulated[name]) {
			return nil, nil, []string{fmt.Sprintf("Reassembly failed: channel %s missing from primary checkpoint", name)}, false
		}
	}

	return cp, metadata, warnings, true
}

// reassembleContentLevel concatenates the base64 chunks in part order,
// decodes them and unpacks the combined record. Every part is essential.
func (splitter *Splitter) reassembleContentLevel(parts []*storage.StoredRecord, totalParts int, validate bool) (_, _ *checkpoint.Object, warnings []string, ok bool) {
	if len(parts) < totalParts {
		return nil, nil, []string{fmt.Sprintf("Reassembly failed: only %d/%d parts available", len(parts), totalParts)}, false
	}

	var encoded strings.Builder
	for _, part := range parts {
		data := part.ContentSplitData
		if data == nil {
			return nil, nil, []string{fmt.Sprintf("Reassembly failed: part %d has no content data", partNumber(part))}, false
		}

		if validate && part.SplitMetadata != nil {
			computed := splitter.sizer.Checksum([]byte(data.ChunkData))
			if computed != part.SplitMetadata.Checksum {
				return nil, nil, []string{
					ErrChecksum.New("part %d: stored %s computed %s",
						partNumber(part), part.SplitMetadata.Checksum, computed).Error(),
				}, false
			}
		}

		encoded.WriteString(data.ChunkData)
	}

	combined, err := base64.StdEncoding.DecodeString(encoded.String())
	if err != nil {
		return nil, nil, []string{"Reassembly failed: " + err.Error()}, false
	}

	wrapper, err := checkpoint.Unmarshal(combined)
	if err != nil {
		return nil, nil, []string{"Reassembly failed: " + err.Error()}, false
	}

	cp, err := objectField(wrapper, "checkpoint")
	if err != nil {
		return nil, nil, []string{"Reassembly failed: " + err.Error()}, false
	}
	metadata, err := objectField(wrapper, "metadata")
	if err != nil {
		return nil, nil, []string{"Reassembly failed: " + err.Error()}, false
	}

	return cp, metadata, warnings, true
}

func objectField(wrapper *checkpoint.Object, key string) (*checkpoint.Object, error) {
	raw, exists := wrapper.Get(key)
	if !exists {
		return nil, Error.New("combined record has no %q field", key)
	}
	obj, isObject := raw.(*checkpoint.Object)
	if !isObject {
		return nil, Error.New("combined record field %q is not an object", key)
	}
	return obj, nil
}

func (splitter *Splitter) logReassembly(recordID string, result ReassemblyResult, opts ReassembleOptions) {
	if !opts.EnableLogging {
		return
	}
	splitter.log.Info("reassembly finished",
		zap.String("recordID", recordID),
		zap.Bool("success", result.Success),
		zap.Int("partsReassembled", result.PartsReassembled),
		zap.Int("totalExpectedParts", result.TotalExpectedParts),
		zap.Duration("reassemblyTime", result.ReassemblyTime),
		zap.Strings("warnings", result.Warnings),
	)
}
