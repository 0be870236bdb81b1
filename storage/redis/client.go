// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-redis/redis"
	"github.com/zeebo/errs"

	"storj.io/splitstore/storage"
)

// Error is the default redis errs class
var Error = errs.Class("redis")

// Client is the record store interface for the redis database
type Client struct {
	db *redis.Client
}

// New returns a configured Client instance, verifying a successful connection
// to redis
func New(address, password string, db int) (*Client, error) {
	client := &Client{
		db: redis.NewClient(&redis.Options{
			Addr:     address,
			Password: password,
			DB:       db,
		}),
	}

	// ping here to verify we are able to connect to redis with the initialized client.
	if err := client.db.Ping().Err(); err != nil {
		return nil, Error.New("ping failed: %v", err)
	}

	return client, nil
}

func recordKey(threadID, recordID string) string {
	return fmt.Sprintf("record:%s:%s", threadID, recordID)
}

func threadKey(threadID string) string {
	return fmt.Sprintf("thread:%s", threadID)
}

// Get returns the record stored at (threadID, recordID)
func (client *Client) Get(ctx context.Context, threadID, recordID string) (*storage.StoredRecord, error) {
	if threadID == "" || recordID == "" {
		return nil, storage.ErrEmptyKey.New("")
	}

	data, err := client.db.Get(recordKey(threadID, recordID)).Bytes()
	if err == redis.Nil {
		return nil, storage.ErrRecordNotFound.New("%s/%s", threadID, recordID)
	}
	if err != nil {
		return nil, Error.New("get error: %v", err)
	}

	record := &storage.StoredRecord{}
	if err := json.Unmarshal(data, record); err != nil {
		return nil, Error.Wrap(err)
	}
	return record, nil
}

// Put upserts a record and indexes its id in the thread's sorted set so
// QueryByThread can enumerate in record id order
func (client *Client) Put(ctx context.Context, record *storage.StoredRecord) error {
	if record == nil || record.ThreadID == "" || record.RecordID == "" {
		return storage.ErrEmptyKey.New("")
	}

	data, err := json.Marshal(record)
	if err != nil {
		return Error.Wrap(err)
	}

	if err := client.db.Set(recordKey(record.ThreadID, record.RecordID), data, 0).Err(); err != nil {
		return Error.New("put error: %v", err)
	}
	// score 0 for every member keeps the set in lexicographic order
	if err := client.db.ZAdd(threadKey(record.ThreadID), redis.Z{Score: 0, Member: record.RecordID}).Err(); err != nil {
		return Error.New("put index error: %v", err)
	}
	return nil
}

// Delete removes the record at (threadID, recordID), missing records are
// not an error
func (client *Client) Delete(ctx context.Context, threadID, recordID string) error {
	if threadID == "" || recordID == "" {
		return storage.ErrEmptyKey.New("")
	}

	if err := client.db.Del(recordKey(threadID, recordID)).Err(); err != nil {
		return Error.New("delete error: %v", err)
	}
	if err := client.db.ZRem(threadKey(threadID), recordID).Err(); err != nil {
		return Error.New("delete index error: %v", err)
	}
	return nil
}

// QueryByThread returns every record of a thread with the given record id
// prefix, in record id order
func (client *Client) QueryByThread(ctx context.Context, threadID, prefix string) ([]*storage.StoredRecord, error) {
	if threadID == "" {
		return nil, storage.ErrEmptyKey.New("")
	}

	recordIDs, err := client.db.ZRangeByLex(threadKey(threadID), redis.ZRangeBy{Min: "-", Max: "+"}).Result()
	if err != nil {
		return nil, Error.New("query error: %v", err)
	}

	var records []*storage.StoredRecord
	for _, recordID := range recordIDs {
		if !strings.HasPrefix(recordID, prefix) {
			continue
		}
		record, err := client.Get(ctx, threadID, recordID)
		if err != nil {
			// the index may briefly reference a record deleted concurrently
			if storage.ErrRecordNotFound.Has(err) {
				continue
			}
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

// Close closes a redis client
func (client *Client) Close() error {
	return Error.Wrap(client.db.Close())
}
