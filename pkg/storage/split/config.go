// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package split

import (
	"time"

	"github.com/zeebo/errs"

	"storj.io/splitstore/storage"
)

// ErrConfig is returned for an invalid split configuration
var ErrConfig = errs.Class("split config")

// Config controls when and how oversized checkpoint records are split.
type Config struct {
	// Enabled gates the entire splitter; when false every record is written
	// as a single item.
	Enabled bool
	// MaxSizeThreshold is the analyzed record size in bytes above which the
	// record is considered for splitting.
	MaxSizeThreshold int
	// Strategy selects the splitting protocol for oversized records.
	Strategy storage.Strategy
	// MaxChunkSize bounds the payload bytes of a single part.
	MaxChunkSize int
	// EnableSizeMonitoring emits size analysis logs on every write.
	EnableSizeMonitoring bool
	// SplitRecordPrefix is the record id prefix of auxiliary parts.
	SplitRecordPrefix string
	// MaxRetries is the number of write attempts per part.
	MaxRetries int
	// OperationTimeout bounds a whole write or reassembly operation.
	OperationTimeout time.Duration
}

// DefaultConfig returns the default split configuration. Splitting starts
// disabled; the threshold leaves headroom below a 400 KB store item limit.
func DefaultConfig() Config {
	return Config{
		Enabled:              false,
		MaxSizeThreshold:     358400,
		Strategy:             storage.MessageLevel,
		MaxChunkSize:         307200,
		EnableSizeMonitoring: true,
		SplitRecordPrefix:    "split",
		MaxRetries:           3,
		OperationTimeout:     30 * time.Second,
	}
}

// Validate checks that every field is inside its allowed bounds.
func (config Config) Validate() error {
	switch config.Strategy {
	case storage.MessageLevel, storage.ContentLevel:
	default:
		return ErrConfig.New("unknown strategy %q", config.Strategy)
	}
	if config.MaxSizeThreshold < 100000 || config.MaxSizeThreshold > 400000 {
		return ErrConfig.New("max size threshold %d out of range [100000, 400000]", config.MaxSizeThreshold)
	}
	if config.MaxChunkSize < 50000 || config.MaxChunkSize > 350000 {
		return ErrConfig.New("max chunk size %d out of range [50000, 350000]", config.MaxChunkSize)
	}
	if config.SplitRecordPrefix == "" {
		return ErrConfig.New("split record prefix must not be empty")
	}
	if config.MaxRetries < 1 || config.MaxRetries > 10 {
		return ErrConfig.New("max retries %d out of range [1, 10]", config.MaxRetries)
	}
	if config.OperationTimeout < 5*time.Second || config.OperationTimeout > 120*time.Second {
		return ErrConfig.New("operation timeout %v out of range [5s, 120s]", config.OperationTimeout)
	}
	return nil
}
