// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package boltdb

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/boltdb/bolt"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/splitstore/storage"
)

// Error is the default boltdb errs class
var Error = errs.Class("boltdb")

var defaultTimeout = 1 * time.Second

const (
	// fileMode sets permissions so owner can read and write
	fileMode = 0600

	recordsBucket = "records"

	// keySeparator joins thread and record id into a single bolt key; it
	// sorts before any printable byte so thread grouping stays contiguous.
	keySeparator = "\x00"
)

// Client is the record store interface for the Bolt database
type Client struct {
	logger *zap.Logger
	db     *bolt.DB
	Path   string
}

// New instantiates a new BoltDB record store client
func New(logger *zap.Logger, path string) (*Client, error) {
	db, err := bolt.Open(path, fileMode, &bolt.Options{Timeout: defaultTimeout})
	if err != nil {
		return nil, Error.Wrap(err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(recordsBucket))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, Error.Wrap(err)
	}

	return &Client{
		logger: logger,
		db:     db,
		Path:   path,
	}, nil
}

func boltKey(threadID, recordID string) []byte {
	return []byte(threadID + keySeparator + recordID)
}

// Get returns the record stored at (threadID, recordID)
func (client *Client) Get(ctx context.Context, threadID, recordID string) (*storage.StoredRecord, error) {
	if threadID == "" || recordID == "" {
		return nil, storage.ErrEmptyKey.New("")
	}

	var data []byte
	err := client.db.View(func(tx *bolt.Tx) error {
		value := tx.Bucket([]byte(recordsBucket)).Get(boltKey(threadID, recordID))
		if value != nil {
			data = append([]byte{}, value...)
		}
		return nil
	})
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if data == nil {
		return nil, storage.ErrRecordNotFound.New("%s/%s", threadID, recordID)
	}

	record := &storage.StoredRecord{}
	if err := json.Unmarshal(data, record); err != nil {
		return nil, Error.Wrap(err)
	}
	return record, nil
}

// Put upserts a record
func (client *Client) Put(ctx context.Context, record *storage.StoredRecord) error {
	if record == nil || record.ThreadID == "" || record.RecordID == "" {
		return storage.ErrEmptyKey.New("")
	}

	data, err := json.Marshal(record)
	if err != nil {
		return Error.Wrap(err)
	}

	return Error.Wrap(client.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(recordsBucket)).Put(boltKey(record.ThreadID, record.RecordID), data)
	}))
}

// Delete removes the record at (threadID, recordID), missing records are
// not an error
func (client *Client) Delete(ctx context.Context, threadID, recordID string) error {
	if threadID == "" || recordID == "" {
		return storage.ErrEmptyKey.New("")
	}

	return Error.Wrap(client.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(recordsBucket)).Delete(boltKey(threadID, recordID))
	}))
}

// QueryByThread returns every record of a thread with the given record id
// prefix, in record id order
func (client *Client) QueryByThread(ctx context.Context, threadID, prefix string) ([]*storage.StoredRecord, error) {
	if threadID == "" {
		return nil, storage.ErrEmptyKey.New("")
	}

	scanPrefix := boltKey(threadID, prefix)

	var records []*storage.StoredRecord
	err := client.db.View(func(tx *bolt.Tx) error {
		cursor := tx.Bucket([]byte(recordsBucket)).Cursor()
		for key, value := cursor.Seek(scanPrefix); key != nil && bytes.HasPrefix(key, scanPrefix); key, value = cursor.Next() {
			record := &storage.StoredRecord{}
			if err := json.Unmarshal(value, record); err != nil {
				return err
			}
			records = append(records, record)
		}
		return nil
	})
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return records, nil
}

// Close closes a BoltDB client
func (client *Client) Close() error {
	return Error.Wrap(client.db.Close())
}
