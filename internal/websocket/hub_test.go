package websocket

import (
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
)

func TestStatusHub_DispatchesToSubscribersOfAttempt(t *testing.T) {
	hub := NewStatusHub(nil, zerolog.Nop())
	mine, other := uuid.New(), uuid.New()

	ch1, cancel1 := hub.Subscribe(mine)
	ch2, cancel2 := hub.Subscribe(mine)
	chOther, cancelOther := hub.Subscribe(other)
	defer cancel2()
	defer cancelOther()

	hub.Dispatch(model.AttemptState{AttemptID: mine, Status: model.AttemptStatusLocked})

	for i, ch := range []<-chan model.AttemptState{ch1, ch2} {
		select {
		case st := <-ch:
			if st.Status != model.AttemptStatusLocked {
				t.Fatalf("subscriber %d got %s", i, st.Status)
			}
		default:
			t.Fatalf("subscriber %d got nothing", i)
		}
	}
	select {
	case st := <-chOther:
		t.Fatalf("foreign attempt received %+v", st)
	default:
	}

	cancel1()
	hub.Dispatch(model.AttemptState{AttemptID: mine, Status: model.AttemptStatusInProgress})
	select {
	case <-ch1:
		t.Fatal("cancelled subscriber still receives")
	default:
	}
	if st := <-ch2; st.Status != model.AttemptStatusInProgress {
		t.Fatalf("remaining subscriber got %s", st.Status)
	}
}

func TestStatusHub_SlowReaderKeepsNewest(t *testing.T) {
	hub := NewStatusHub(nil, zerolog.Nop())
	id := uuid.New()
	ch, cancel := hub.Subscribe(id)
	defer cancel()

	for i := 0; i < subscriberBuffer+3; i++ {
		hub.Dispatch(model.AttemptState{AttemptID: id, RemainingSeconds: i})
	}

	var last model.AttemptState
	for len(ch) > 0 {
		last = <-ch
	}
	if last.RemainingSeconds != subscriberBuffer+2 {
		t.Fatalf("newest state lost, last = %d", last.RemainingSeconds)
	}
}

func TestStatusHub_LastCancelRemovesAttempt(t *testing.T) {
	hub := NewStatusHub(nil, zerolog.Nop())
	id := uuid.New()
	_, cancel := hub.Subscribe(id)
	cancel()
	if _, ok := hub.subs.Load(id); ok {
		t.Fatal("attempt entry should be deleted with its last subscriber")
	}
}
