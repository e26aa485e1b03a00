package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	apperrors "github.com/Corphon/RoleRealm/internal/errors"
	"github.com/Corphon/RoleRealm/internal/models"
)

func sinkFactories(t *testing.T) map[string]func() EventSink {
	return map[string]func() EventSink{
		"memory": func() EventSink { return NewMemorySink() },
		"file": func() EventSink {
			s, err := NewFileSink(t.TempDir())
			if err != nil {
				t.Fatalf("NewFileSink: %v", err)
			}
			return s
		},
		"sqlite": func() EventSink {
			s, err := OpenSQLiteSink(filepath.Join(t.TempDir(), "test.db"))
			if err != nil {
				t.Fatalf("OpenSQLiteSink: %v", err)
			}
			return s
		},
	}
}

func TestSinksPersistInOrder(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for name, factory := range sinkFactories(t) {
		t.Run(name, func(t *testing.T) {
			sink := factory()
			defer sink.Close()

			info := models.SessionInfo{ID: "s1", StoryID: "harbor", HumanName: "Alex", CreatedAt: base}
			if err := sink.SaveSession(ctx, info); err != nil {
				t.Fatalf("SaveSession: %v", err)
			}

			events := []models.Event{
				{Seq: 1, Timestamp: base, Kind: models.EventSceneChange, Originator: models.ActorDirector, Payload: "dock", Tag: "dock"},
				{Seq: 2, Timestamp: base.Add(time.Second), Kind: models.EventMessage, Originator: models.ActorHuman, Payload: "hello"},
				{Seq: 3, Timestamp: base.Add(2 * time.Second), Kind: models.EventAction, Originator: "morgan", Payload: "spits"},
			}
			for _, e := range events {
				if err := sink.Append(ctx, "s1", e); err != nil {
					t.Fatalf("Append: %v", err)
				}
			}

			loaded, err := sink.Load(ctx, "s1")
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if len(loaded) != len(events) {
				t.Fatalf("expected %d events, got %d", len(events), len(loaded))
			}
			for i := range events {
				if loaded[i].Seq != events[i].Seq || loaded[i].Kind != events[i].Kind ||
					loaded[i].Payload != events[i].Payload || loaded[i].Tag != events[i].Tag ||
					!loaded[i].Timestamp.Equal(events[i].Timestamp) {
					t.Fatalf("event %d mismatch: %+v vs %+v", i, loaded[i], events[i])
				}
			}

			got, err := sink.LoadSession(ctx, "s1")
			if err != nil || got.StoryID != "harbor" || !got.CreatedAt.Equal(base) {
				t.Fatalf("LoadSession = %+v, %v", got, err)
			}

			if _, err := sink.LoadSession(ctx, "nope"); !apperrors.IsNotFoundError(err) {
				t.Fatalf("expected not found, got %v", err)
			}

			list, err := sink.ListSessions(ctx)
			if err != nil || len(list) != 1 || list[0].ID != "s1" {
				t.Fatalf("ListSessions = %v, %v", list, err)
			}

			empty, err := sink.Load(ctx, "other")
			if err != nil || len(empty) != 0 {
				t.Fatalf("expected empty timeline, got %v, %v", empty, err)
			}
		})
	}
}

func TestSQLiteSinkRejectsDuplicateSeq(t *testing.T) {
	sink, err := OpenSQLiteSink(filepath.Join(t.TempDir(), "dup.db"))
	if err != nil {
		t.Fatalf("OpenSQLiteSink: %v", err)
	}
	defer sink.Close()

	ctx := context.Background()
	e := models.Event{Seq: 1, Timestamp: time.Now(), Kind: models.EventMessage, Originator: models.ActorHuman, Payload: "hi"}
	if err := sink.Append(ctx, "s", e); err != nil {
		t.Fatalf("first append: %v", err)
	}
	if err := sink.Append(ctx, "s", e); err == nil {
		t.Fatalf("expected duplicate sequence to be rejected")
	}
}

func TestNewEventSinkUnknownKind(t *testing.T) {
	if _, err := NewEventSink("redis", t.TempDir()); err == nil {
		t.Fatalf("expected error for unknown sink kind")
	}
}
