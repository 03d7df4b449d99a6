package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestValidRoomID(t *testing.T) {
	valid := []string{"a", "movie-night", "room_42", "ABC-def_123"}
	for _, id := range valid {
		if !validRoomID(id) {
			t.Errorf("validRoomID(%q) = false", id)
		}
	}

	invalid := []string{"", "has space", "slash/", "../escape", "dot.dot", strings.Repeat("a", 65)}
	for _, id := range invalid {
		if validRoomID(id) {
			t.Errorf("validRoomID(%q) = true", id)
		}
	}
}

func TestFileSubtitleStore(t *testing.T) {
	store, err := NewFileSubtitleStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	if store.Exists("r1") {
		t.Error("fresh store should be empty")
	}
	if data, err := store.Load("r1"); err != nil || data != nil {
		t.Errorf("Load on missing = (%v, %v)", data, err)
	}

	blob := []byte("WEBVTT\n\n00:00.000 --> 00:05.000\nhello\n")
	if err := store.Save("r1", blob); err != nil {
		t.Fatal(err)
	}
	if !store.Exists("r1") {
		t.Error("saved subtitle should exist")
	}
	got, err := store.Load("r1")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, blob) {
		t.Error("loaded blob differs from saved")
	}

	if !store.Delete("r1") {
		t.Error("delete of existing subtitle should report true")
	}
	if store.Exists("r1") {
		t.Error("deleted subtitle should not exist")
	}
	if store.Delete("r1") {
		t.Error("second delete should report false")
	}
}

func TestFileSubtitleStore_RejectsBadInput(t *testing.T) {
	store, err := NewFileSubtitleStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	if err := store.Save("../escape", []byte("x")); err == nil {
		t.Error("path-escaping room id should be rejected")
	}
	if err := store.Save("r1", make([]byte, maxSubtitleSize+1)); !errors.Is(err, errSubtitleTooLarge) {
		t.Errorf("oversized blob error = %v", err)
	}
}

func TestMemorySubtitleStore(t *testing.T) {
	store := NewMemorySubtitleStore()

	if err := store.Save("r1", []byte("WEBVTT")); err != nil {
		t.Fatal(err)
	}
	if !store.Exists("r1") {
		t.Error("saved subtitle should exist")
	}

	// The store hands out copies, not aliases.
	got, _ := store.Load("r1")
	got[0] = 'X'
	again, _ := store.Load("r1")
	if !bytes.Equal(again, []byte("WEBVTT")) {
		t.Error("stored blob was mutated through a loaded copy")
	}

	if !store.Delete("r1") || store.Exists("r1") {
		t.Error("delete should remove the blob")
	}
}
