package session

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
)

func TestAnswerBufferFlushClearsDirty(t *testing.T) {
	var saved []model.Answer
	b := NewAnswerBuffer(func(ctx context.Context, a model.Answer) error {
		saved = append(saved, a)
		return nil
	}, zerolog.Nop())

	b.Record(model.Answer{QuestionID: freeTextQ, Value: "a heap is a tree"})
	b.Record(model.Answer{QuestionID: optionQ, Value: "B"})

	if got := len(b.Dirty()); got != 2 {
		t.Fatalf("dirty = %d, want 2", got)
	}
	if err := b.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if len(b.Dirty()) != 0 {
		t.Fatal("entries should be clean after a successful flush")
	}
	if len(saved) != 2 {
		t.Fatalf("saved %d answers, want 2", len(saved))
	}
	a, _ := b.Get(freeTextQ)
	if a.LastSavedAt == nil {
		t.Fatal("LastSavedAt should be set after flush")
	}

	// A clean buffer makes no calls.
	if err := b.Flush(context.Background()); err != nil || len(saved) != 2 {
		t.Fatalf("second flush saved again: %d", len(saved))
	}
}

func TestAnswerBufferFailedFlushStaysDirty(t *testing.T) {
	fail := true
	b := NewAnswerBuffer(func(ctx context.Context, a model.Answer) error {
		if fail {
			return errNetwork
		}
		return nil
	}, zerolog.Nop())
	b.Record(model.Answer{QuestionID: freeTextQ, Value: "draft"})

	err := b.Flush(context.Background())
	var saveErr *TransientSaveError
	if !errors.As(err, &saveErr) || saveErr.QuestionID != freeTextQ {
		t.Fatalf("Flush error = %v, want TransientSaveError for %s", err, freeTextQ)
	}
	if !errors.Is(err, errNetwork) {
		t.Fatal("TransientSaveError should unwrap to the cause")
	}
	if len(b.Dirty()) != 1 {
		t.Fatal("failed entry must stay dirty")
	}

	fail = false
	if err := b.Flush(context.Background()); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if len(b.Dirty()) != 0 {
		t.Fatal("retry should clear the entry")
	}
}

func TestAnswerBufferEditDuringFlushStaysDirty(t *testing.T) {
	var b *AnswerBuffer
	b = NewAnswerBuffer(func(ctx context.Context, a model.Answer) error {
		if a.Value == "v1" {
			b.Record(model.Answer{QuestionID: a.QuestionID, Value: "v2"})
		}
		return nil
	}, zerolog.Nop())

	b.Record(model.Answer{QuestionID: freeTextQ, Value: "v1"})
	if err := b.FlushOne(context.Background(), freeTextQ); err != nil {
		t.Fatal(err)
	}
	if len(b.Dirty()) != 1 {
		t.Fatal("entry edited during its save must stay dirty")
	}
	a, _ := b.Get(freeTextQ)
	if a.Value != "v2" {
		t.Fatalf("value = %q, want v2", a.Value)
	}
}

func TestAnswerBufferCollectPrefersDraft(t *testing.T) {
	b := NewAnswerBuffer(func(context.Context, model.Answer) error { return nil }, zerolog.Nop())
	b.Seed([]model.Answer{
		{QuestionID: freeTextQ, Value: "saved"},
		{QuestionID: optionQ, Value: "A"},
	})
	b.Record(model.Answer{QuestionID: freeTextQ, Value: "draft"})

	got := map[uuid.UUID]string{}
	for _, a := range b.Collect() {
		got[a.QuestionID] = a.Value
	}
	if got[freeTextQ] != "draft" || got[optionQ] != "A" {
		t.Fatalf("Collect = %v", got)
	}
	if d := b.Dirty(); len(d) != 1 || d[0] != freeTextQ {
		t.Fatalf("seeded answers should be clean, dirty = %v", d)
	}
}

func TestAnswerBufferFlushOneUnknownIsNoop(t *testing.T) {
	calls := 0
	b := NewAnswerBuffer(func(context.Context, model.Answer) error { calls++; return nil }, zerolog.Nop())
	if err := b.FlushOne(context.Background(), uuid.New()); err != nil || calls != 0 {
		t.Fatalf("FlushOne on unknown question: err=%v calls=%d", err, calls)
	}
}
