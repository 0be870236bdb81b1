// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package split

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"

	"storj.io/splitstore/pkg/checkpoint"
	"storj.io/splitstore/storage"
)

const (
	// base64Overhead is the exact expansion factor of base64 transport
	// encoding in the backing store.
	base64Overhead = 1.33
	// storeItemOverhead is a conservative bound on the per item metadata
	// the backing store adds on top of the payload.
	storeItemOverhead = 1024
	// checksumHexLength truncates part checksums to 64 bits; partSize is
	// stored alongside for stronger corruption detection.
	checksumHexLength = 16
	// canSplitSampleSize is how many messages per channel are round-tripped
	// when probing message level splittability.
	canSplitSampleSize = 5
)

// SizeBreakdown reports the analyzed size per logical component.
type SizeBreakdown struct {
	Checkpoint int
	Metadata   int
	Overhead   int
}

// ChannelStats describes the largest message-bearing channel of a checkpoint.
type ChannelStats struct {
	Name          string
	MessageCount  int
	EstimatedSize int
}

// SizeAnalysis is the sizer's verdict on one record.
type SizeAnalysis struct {
	TotalSize        int
	ExceedsThreshold bool
	SizeBreakdown    SizeBreakdown
	LargestComponent string
	EstimatedParts   int
	LargestChannel   *ChannelStats
}

// Verdict reports whether a checkpoint can be split with a strategy.
type Verdict struct {
	OK     bool
	Reason string
}

// Sizer analyzes serialized record footprints. It performs no I/O.
type Sizer struct {
	config Config
}

// NewSizer creates a sizer for the given configuration
func NewSizer(config Config) *Sizer {
	return &Sizer{config: config}
}

// encodedSize approximates the transport encoded size of raw payload bytes.
func encodedSize(rawSize int) int {
	return int(math.Ceil(float64(rawSize) * base64Overhead))
}

// Analyze serializes the record and reports its store footprint, whether it
// exceeds the configured threshold, an estimated part count for the
// configured strategy and the largest message-bearing channel.
func (sizer *Sizer) Analyze(cp, metadata *checkpoint.Object) (SizeAnalysis, error) {
	checkpointData, err := checkpoint.Marshal(cp)
	if err != nil {
		return SizeAnalysis{}, err
	}
	metadataData, err := checkpoint.Marshal(metadata)
	if err != nil {
		return SizeAnalysis{}, err
	}

	breakdown := SizeBreakdown{
		Checkpoint: encodedSize(len(checkpointData)),
		Metadata:   encodedSize(len(metadataData)),
		Overhead:   storeItemOverhead,
	}

	analysis := SizeAnalysis{
		TotalSize:     breakdown.Checkpoint + breakdown.Metadata + breakdown.Overhead,
		SizeBreakdown: breakdown,
	}
	analysis.ExceedsThreshold = analysis.TotalSize > sizer.config.MaxSizeThreshold

	// checkpoint wins ties
	if breakdown.Checkpoint >= breakdown.Metadata {
		analysis.LargestComponent = "checkpoint"
	} else {
		analysis.LargestComponent = "metadata"
	}

	channelSizes := map[string]int{}
	for _, name := range cp.Keys() {
		value, _ := cp.Get(name)
		messages, ok := checkpoint.Messages(value)
		if !ok {
			continue
		}

		channelData, err := checkpoint.Marshal(value)
		if err != nil {
			return SizeAnalysis{}, err
		}
		channelSizes[name] = len(channelData)

		if analysis.LargestChannel == nil || len(channelData) > analysis.LargestChannel.EstimatedSize {
			analysis.LargestChannel = &ChannelStats{
				Name:          name,
				MessageCount:  len(messages),
				EstimatedSize: len(channelData),
			}
		}
	}

	analysis.EstimatedParts = sizer.estimateParts(analysis.TotalSize, cp.Keys(), channelSizes)
	return analysis, nil
}

func (sizer *Sizer) estimateParts(totalSize int, channelOrder []string, channelSizes map[string]int) int {
	switch sizer.config.Strategy {
	case storage.ContentLevel:
		return ceilDiv(totalSize, sizer.config.MaxChunkSize)
	default:
		parts := 1 // the stripped primary
		for _, name := range channelOrder {
			if size, ok := channelSizes[name]; ok {
				parts += ceilDiv(size, sizer.config.MaxChunkSize)
			}
		}
		return parts
	}
}

func ceilDiv(a, b int) int {
	if a <= 0 {
		return 0
	}
	return (a + b - 1) / b
}

// CanSplit reports whether the checkpoint can be split with the strategy.
// Content level splitting is always possible; message level splitting needs
// at least one channel with messages whose sampled prefix survives a
// serialization round trip.
func (sizer *Sizer) CanSplit(cp *checkpoint.Object, strategy storage.Strategy) Verdict {
	if strategy == storage.ContentLevel {
		return Verdict{OK: true}
	}

	found := false
	for _, name := range cp.Keys() {
		value, _ := cp.Get(name)
		messages, ok := checkpoint.Messages(value)
		if !ok || len(messages) == 0 {
			continue
		}
		found = true

		sample := len(messages)
		if sample > canSplitSampleSize {
			sample = canSplitSampleSize
		}
		for i := 0; i < sample; i++ {
			data, err := checkpoint.Marshal(messages[i])
			if err == nil {
				_, err = checkpoint.Decode(data)
			}
			if err != nil {
				return Verdict{
					Reason: fmt.Sprintf("Message %d in channel %s is not serializable", i, name),
				}
			}
		}
	}

	if !found {
		return Verdict{Reason: "No messages found to split"}
	}
	return Verdict{OK: true}
}

// Checksum returns the truncated lowercase hex SHA-256 of data.
func (sizer *Sizer) Checksum(data []byte) string {
	digest := sha256.Sum256(data)
	return hex.EncodeToString(digest[:])[:checksumHexLength]
}
