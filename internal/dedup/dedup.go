// Package dedup assigns content fingerprints to entries whose source carries
// no stable identifier (QIF), so that re-importing the same file finds them
// by unique id.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/rumor-ml/commons.systems/finimport/internal/domain"
	"github.com/rumor-ml/commons.systems/finimport/internal/transform"
)

// Prefix marks unique ids generated here, as opposed to ids taken from the
// source file.
const Prefix = "fp:"

// GenerateFingerprint creates a SHA256 hash of date, amount, check number and
// normalized text.
// Format: SHA256("{yyyy-mm-dd}|{minor units}|{check}|{normalized text}")
func GenerateFingerprint(e domain.EntryData) string {
	input := fmt.Sprintf("%s|%d|%s|%s",
		e.Date.Format(domain.DateLayout), e.Amount, e.CheckNumber, transform.NormalizeText(e.Text()))
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:])
}

// Tracker counts fingerprint occurrences within one file. Two identical
// lines in one file are two events; the same line in two overlapping files
// is one.
type Tracker struct {
	counts map[string]int
}

// NewTracker creates an empty tracker, one per imported file.
func NewTracker() *Tracker {
	return &Tracker{counts: make(map[string]int)}
}

// Assign returns the unique id of e: its fingerprint, suffixed with the
// occurrence number from the second identical entry on.
func (t *Tracker) Assign(e domain.EntryData) string {
	fp := GenerateFingerprint(e)[:32]
	t.counts[fp]++
	id := Prefix + fp
	if n := t.counts[fp]; n > 1 {
		id += "#" + strconv.Itoa(n)
	}
	return id
}

// Total returns the number of ids assigned.
func (t *Tracker) Total() int {
	n := 0
	for _, c := range t.counts {
		n += c
	}
	return n
}
