// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package checkpoints

import (
	"context"
	"fmt"
	"strings"

	"github.com/zeebo/errs"
	"go.uber.org/zap"
	monkit "gopkg.in/spacemonkeygo/monkit.v2"

	"storj.io/splitstore/pkg/checkpoint"
	"storj.io/splitstore/pkg/storage/split"
	"storj.io/splitstore/storage"
)

var mon = monkit.Package()

// Error is the default error class for the checkpoint store
var Error = errs.Class("checkpoint store")

// recordPrefix namespaces logical checkpoint records inside a thread, so
// they can coexist with other record kinds the host system keeps (write
// logs and split parts among them).
const recordPrefix = "checkpoint"

// Key identifies a logical checkpoint record from the caller's viewpoint.
type Key struct {
	ThreadID     string
	Namespace    string
	CheckpointID string
}

// RecordID returns the record id the logical record is stored under.
func (key Key) RecordID() string {
	return fmt.Sprintf("%s#%s#%s", recordPrefix, key.Namespace, key.CheckpointID)
}

// parseRecordID recovers a Key from a stored record id.
func parseRecordID(threadID, recordID string) (Key, bool) {
	fields := strings.SplitN(recordID, "#", 3)
	if len(fields) != 3 || fields[0] != recordPrefix {
		return Key{}, false
	}
	return Key{ThreadID: threadID, Namespace: fields[1], CheckpointID: fields[2]}, true
}

// Tuple is a reconstructed logical record.
type Tuple struct {
	Key        Key
	Checkpoint *checkpoint.Object
	Metadata   *checkpoint.Object
}

// Store is the caller facing checkpoint storage surface. Oversized records
// are split transparently on Put and reassembled on read; split parts never
// show up as records of their own.
type Store struct {
	log      *zap.Logger
	records  storage.RecordStore
	splitter *split.Splitter
	config   split.Config
}

// NewStore creates a checkpoint store over records, validating the split
// configuration.
func NewStore(log *zap.Logger, records storage.RecordStore, config split.Config) (*Store, error) {
	splitter, err := split.NewSplitter(log.Named("split"), config)
	if err != nil {
		return nil, err
	}
	return &Store{
		log:      log,
		records:  records,
		splitter: splitter,
		config:   config,
	}, nil
}

// Put stores a logical record, splitting it when it exceeds the configured
// threshold, and returns the caller facing reference.
func (store *Store) Put(ctx context.Context, key Key, cp, metadata *checkpoint.Object) (_ Key, err error) {
	defer mon.Task()(&ctx)(&err)

	recordID := key.RecordID()
	result, err := store.splitter.SplitIfNeeded(ctx, key.ThreadID, recordID, cp, metadata, store.records)
	if err != nil {
		return Key{}, err
	}
	if result.WasSplit {
		return key, nil
	}

	checkpointData, err := checkpoint.Marshal(cp)
	if err != nil {
		return Key{}, err
	}
	metadataData, err := checkpoint.Marshal(metadata)
	if err != nil {
		return Key{}, err
	}

	err = store.records.Put(ctx, &storage.StoredRecord{
		ThreadID:   key.ThreadID,
		RecordID:   recordID,
		Checkpoint: checkpointData,
		Metadata:   metadataData,
	})
	if err != nil {
		return Key{}, Error.Wrap(err)
	}
	return key, nil
}

// GetTuple returns the logical record stored at key, reassembling it when
// it was split. Missing records return nil; so do split sets that cannot be
// reassembled, with their warnings surfaced to the log.
func (store *Store) GetTuple(ctx context.Context, key Key) (_ *Tuple, err error) {
	defer mon.Task()(&ctx)(&err)

	recordID := key.RecordID()
	record, err := store.records.Get(ctx, key.ThreadID, recordID)
	if err != nil {
		if storage.ErrRecordNotFound.Has(err) {
			return nil, nil
		}
		return nil, err
	}

	if !record.IsSplit {
		return store.decodeTuple(key, record)
	}

	result, err := store.splitter.Reassemble(ctx, key.ThreadID, recordID, store.records, split.ReassembleOptions{
		ValidateChecksums: true,
		Timeout:           store.config.OperationTimeout,
		EnableLogging:     store.config.EnableSizeMonitoring,
	})
	if err != nil {
		return nil, err
	}
	if !result.Success {
		store.log.Warn("checkpoint reassembly failed",
			zap.String("recordID", recordID),
			zap.Strings("warnings", result.Warnings),
		)
		return nil, nil
	}

	return &Tuple{Key: key, Checkpoint: result.Checkpoint, Metadata: result.Metadata}, nil
}

// decodeTuple decodes an unsplit record in place; legacy records written
// before splitting existed take this path unconditionally.
func (store *Store) decodeTuple(key Key, record *storage.StoredRecord) (*Tuple, error) {
	cp, err := checkpoint.Unmarshal(record.Checkpoint)
	if err != nil {
		return nil, err
	}
	metadata := checkpoint.NewObject()
	if len(record.Metadata) > 0 {
		metadata, err = checkpoint.Unmarshal(record.Metadata)
		if err != nil {
			return nil, err
		}
	}
	return &Tuple{Key: key, Checkpoint: cp, Metadata: metadata}, nil
}

// List returns every logical record of a thread in record id order,
// reassembling split records on the fly. Split parts are filtered out and
// records that fail to decode or reassemble are skipped with a warning.
// An empty namespace lists every namespace of the thread.
func (store *Store) List(ctx context.Context, threadID, namespace string) (_ []*Tuple, err error) {
	defer mon.Task()(&ctx)(&err)

	prefix := recordPrefix + "#"
	if namespace != "" {
		prefix += namespace + "#"
	}

	records, err := store.records.QueryByThread(ctx, threadID, prefix)
	if err != nil {
		return nil, err
	}

	var tuples []*Tuple
	for _, record := range records {
		if storage.IsPartRecordID(store.config.SplitRecordPrefix, record.RecordID) {
			continue
		}

		key, ok := parseRecordID(threadID, record.RecordID)
		if !ok {
			continue
		}

		if !record.IsSplit {
			tuple, err := store.decodeTuple(key, record)
			if err != nil {
				store.log.Warn("skipping undecodable record",
					zap.String("recordID", record.RecordID),
					zap.Error(err),
				)
				continue
			}
			tuples = append(tuples, tuple)
			continue
		}

		result, err := store.splitter.Reassemble(ctx, threadID, record.RecordID, store.records, split.ReassembleOptions{
			ValidateChecksums: true,
			Timeout:           store.config.OperationTimeout,
			EnableLogging:     store.config.EnableSizeMonitoring,
		})
		if err != nil {
			return nil, err
		}
		if !result.Success {
			store.log.Warn("skipping record that failed reassembly",
				zap.String("recordID", record.RecordID),
				zap.Strings("warnings", result.Warnings),
			)
			continue
		}
		tuples = append(tuples, &Tuple{Key: key, Checkpoint: result.Checkpoint, Metadata: result.Metadata})
	}
	return tuples, nil
}

// DeleteThread removes every record of the thread, split parts and host
// kept records included. Every record is attempted even when one delete
// fails; the first failure is reported so the caller can retry.
func (store *Store) DeleteThread(ctx context.Context, threadID string) (err error) {
	defer mon.Task()(&ctx)(&err)

	records, err := store.records.QueryByThread(ctx, threadID, "")
	if err != nil {
		return Error.Wrap(err)
	}

	var firstErr error
	for _, record := range records {
		if err := store.records.Delete(ctx, threadID, record.RecordID); err != nil {
			store.log.Warn("thread delete failed for record",
				zap.String("recordID", record.RecordID),
				zap.Error(err),
			)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return Error.Wrap(firstErr)
}
