// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/rs/zerolog"
)

func TestDeletionHandler_DeletesEachRecordIndependently(t *testing.T) {
	t.Parallel()
	index := newFakeIndex()
	index.add("100", "ch1", "m1")
	index.add("100", "ch2", "m2")
	index.add("200", "ch1", "m3")
	deliverer := newRecordingDeliverer()
	deliverer.deleteErrs["m1"] = errors.New("forbidden")

	h := NewDeletionHandler(index, deliverer, NewMetrics(nil), zerolog.Nop())
	deleted := h.HandleDeletion(context.Background(), "100")

	if deleted != 1 {
		t.Errorf("deleted: got %d, want 1", deleted)
	}
	if got := deliverer.Deleted(); !slices.Equal(got, []string{"ch1/m1", "ch2/m2"}) {
		t.Errorf("delete requests: got %v", got)
	}
	if got := index.Forgotten(); !slices.Equal(got, []string{"ch2/m2"}) {
		t.Errorf("only successful deletions should be forgotten: got %v", got)
	}
}

func TestDeletionHandler_NeverDelivered(t *testing.T) {
	t.Parallel()
	deliverer := newRecordingDeliverer()
	h := NewDeletionHandler(newFakeIndex(), deliverer, NewMetrics(nil), zerolog.Nop())
	if n := h.HandleDeletion(context.Background(), "404"); n != 0 {
		t.Errorf("deleted: got %d, want 0", n)
	}
	if len(deliverer.Deleted()) != 0 {
		t.Error("no delete request expected")
	}
}

func TestDeletionHandler_LookupFailure(t *testing.T) {
	t.Parallel()
	index := newFakeIndex()
	index.add("100", "ch1", "m1")
	index.err = errors.New("database is locked")
	deliverer := newRecordingDeliverer()
	h := NewDeletionHandler(index, deliverer, NewMetrics(nil), zerolog.Nop())
	if n := h.HandleDeletion(context.Background(), "100"); n != 0 {
		t.Errorf("deleted: got %d, want 0", n)
	}
	if len(deliverer.Deleted()) != 0 {
		t.Error("no delete request expected when the lookup fails")
	}
}
