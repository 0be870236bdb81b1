// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package storage

// CloneBytes creates a copy of a byte slice
func CloneBytes(data []byte) []byte {
	if data == nil {
		return nil
	}
	return append([]byte{}, data...)
}

// CloneRecord creates a deep copy of a stored record, so that stores can
// hand out records without sharing mutable state with their internals.
func CloneRecord(record *StoredRecord) *StoredRecord {
	if record == nil {
		return nil
	}

	clone := *record
	clone.Checkpoint = CloneBytes(record.Checkpoint)
	clone.Metadata = CloneBytes(record.Metadata)

	if record.SplitMetadata != nil {
		meta := *record.SplitMetadata
		clone.SplitMetadata = &meta
	}
	if record.MessageSplitData != nil {
		data := *record.MessageSplitData
		data.MessagesData = CloneBytes(record.MessageSplitData.MessagesData)
		clone.MessageSplitData = &data
	}
	if record.ContentSplitData != nil {
		data := *record.ContentSplitData
		clone.ContentSplitData = &data
	}

	return &clone
}
