// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package storage

import (
	"fmt"
	"strings"
)

// PartRecordID returns the record id for an auxiliary part of a split set.
// The part number is zero padded to four digits so the ids sort numerically.
func PartRecordID(prefix, originalRecordID string, partNumber int) string {
	return fmt.Sprintf("%s#%s#part#%04d", prefix, originalRecordID, partNumber)
}

// IsPartRecordID reports whether recordID names an auxiliary part written
// with the given split record prefix. The full part shape is required, so a
// prefix that collides with a logical record namespace cannot swallow
// ordinary records.
func IsPartRecordID(prefix, recordID string) bool {
	if !strings.HasPrefix(recordID, prefix+"#") {
		return false
	}
	rest := recordID[len(prefix)+1:]

	infix := strings.LastIndex(rest, "#part#")
	if infix < 1 {
		return false
	}
	digits := rest[infix+len("#part#"):]
	if len(digits) < 4 {
		return false
	}
	for _, c := range digits {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
