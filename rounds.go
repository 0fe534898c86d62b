/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import "fmt"

// RoundRecord tracks one participant's mutable state across a game: the
// secret question they are holding, how many answers of theirs have been
// accepted, and every guess they have submitted so far.
type RoundRecord struct {
	ID              uint16
	PendingQuestion string
	SuccessCount    int
	GuessHistory    []string
	Skips           int
	Forfeited       bool
}

// reset blanks the record in place. The record itself survives, keyed
// under the same id.
func (rec *RoundRecord) reset() {
	rec.PendingQuestion = ""
	rec.SuccessCount = 0
	rec.GuessHistory = nil
	rec.Skips = 0
	rec.Forfeited = false
}

// Rounds holds one RoundRecord per participant, created lazily the first
// time an id is referenced.
type Rounds struct {
	records map[uint16]*RoundRecord
}

func newRounds() *Rounds {
	return &Rounds{
		records: make(map[uint16]*RoundRecord),
	}
}

// Ensure returns the record for id, creating an empty one if needed.
func (t *Rounds) Ensure(id uint16) *RoundRecord {
	if rec, ok := t.records[id]; ok {
		return rec
	}

	rec := &RoundRecord{ID: id}
	t.records[id] = rec

	return rec
}

func (t *Rounds) Get(id uint16) (*RoundRecord, bool) {
	rec, ok := t.records[id]
	return rec, ok
}

// RecordGuess appends a guess to the participant's history. The session
// state machine ensures a record exists before recording, so a missing
// record indicates a caller bug rather than a normal game flow.
func (t *Rounds) RecordGuess(id uint16, guess string) error {
	rec, ok := t.records[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownParticipant, id)
	}

	rec.GuessHistory = append(rec.GuessHistory, guess)

	return nil
}

// IncrementSuccess bumps the participant's accepted-answer count. There is
// no upper bound.
func (t *Rounds) IncrementSuccess(id uint16) error {
	rec, ok := t.records[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownParticipant, id)
	}

	rec.SuccessCount++

	return nil
}

// Reset blanks a single record, preserving its existence and identity.
func (t *Rounds) Reset(id uint16) {
	if rec, ok := t.records[id]; ok {
		rec.reset()
	}
}

// ResetAll blanks every record, as happens on a game reset.
func (t *Rounds) ResetAll() {
	for _, rec := range t.records {
		rec.reset()
	}
}

// Remove drops a record entirely, as happens when a participant leaves.
func (t *Rounds) Remove(id uint16) {
	delete(t.records, id)
}

func (t *Rounds) Clear() {
	t.records = make(map[uint16]*RoundRecord)
}
