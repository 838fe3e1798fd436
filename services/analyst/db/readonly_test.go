// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package db

import (
	"errors"
	"testing"
)

func TestGateQuery_AllowsSelects(t *testing.T) {
	allowed := []string{
		"SELECT * FROM players",
		"  select player_name from players where team = 1",
		"WITH t AS (SELECT 1) SELECT * FROM t",
		"SELECT name FROM pragma_table_info('players')",
		"SELECT * FROM players;",
	}
	for _, q := range allowed {
		if err := GateQuery(q); err != nil {
			t.Errorf("%q should pass the gate: %v", q, err)
		}
	}
}

func TestGateQuery_RejectsWrites(t *testing.T) {
	denied := []string{
		"",
		"   ",
		"INSERT INTO players VALUES (1)",
		"DELETE FROM players",
		"DROP TABLE players",
		"UPDATE players SET team = 2",
		"PRAGMA journal_mode = WAL",
		"VACUUM",
		"SELECT * FROM players; DROP TABLE players",
		"SELECT * FROM players WHERE id IN (SELECT id FROM x); DELETE FROM players",
	}
	for _, q := range denied {
		err := GateQuery(q)
		if !errors.Is(err, ErrUnsafeQuery) {
			t.Errorf("%q should be rejected with ErrUnsafeQuery, got: %v", q, err)
		}
	}
}

func TestGateQuery_CommentsAreStripped(t *testing.T) {
	// A denied keyword hiding in a comment must not poison a clean query.
	if err := GateQuery("SELECT * FROM players -- drop nothing\n"); err != nil {
		t.Errorf("commented keyword caused a false positive: %v", err)
	}
	if err := GateQuery("SELECT * FROM players /* DELETE is just a word here */"); err != nil {
		t.Errorf("block-commented keyword caused a false positive: %v", err)
	}

	// And a comment must not hide a real statement.
	err := GateQuery("/* harmless */ DELETE FROM players")
	if !errors.Is(err, ErrUnsafeQuery) {
		t.Errorf("comment-prefixed DELETE should be rejected, got: %v", err)
	}
}
