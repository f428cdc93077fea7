package system

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

type recorder struct {
	name    string
	failOn  string
	journal *[]string
}

func (r recorder) Name() string { return r.name }

func (r recorder) Start(context.Context) error {
	if r.failOn == "start" {
		return errors.New("boom")
	}
	*r.journal = append(*r.journal, "start:"+r.name)
	return nil
}

func (r recorder) Stop(context.Context) error {
	*r.journal = append(*r.journal, "stop:"+r.name)
	if r.failOn == "stop" {
		return errors.New("stop boom")
	}
	return nil
}

func TestManagerOrdering(t *testing.T) {
	var journal []string
	m := NewManager()
	for _, name := range []string{"a", "b", "c"} {
		if err := m.Register(recorder{name: name, journal: &journal}); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	want := []string{"start:a", "start:b", "start:c", "stop:c", "stop:b", "stop:a"}
	if !reflect.DeepEqual(journal, want) {
		t.Fatalf("journal = %v, want %v", journal, want)
	}
}

func TestManagerRejectsDuplicates(t *testing.T) {
	m := NewManager()
	if err := m.Register(NoopService{ServiceName: "x"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := m.Register(NoopService{ServiceName: "x"}); err == nil {
		t.Fatal("expected duplicate registration error")
	}
	if err := m.Register(NoopService{}); err == nil {
		t.Fatal("expected empty name error")
	}
}

func TestManagerRollsBackOnStartFailure(t *testing.T) {
	var journal []string
	m := NewManager()
	_ = m.Register(recorder{name: "a", journal: &journal})
	_ = m.Register(recorder{name: "b", failOn: "start", journal: &journal})
	_ = m.Register(recorder{name: "c", journal: &journal})

	if err := m.Start(context.Background()); err == nil {
		t.Fatal("expected start failure")
	}
	want := []string{"start:a", "stop:a"}
	if !reflect.DeepEqual(journal, want) {
		t.Fatalf("journal = %v, want %v", journal, want)
	}
}

func TestManagerJoinsStopErrors(t *testing.T) {
	var journal []string
	m := NewManager()
	_ = m.Register(recorder{name: "a", failOn: "stop", journal: &journal})
	_ = m.Register(recorder{name: "b", journal: &journal})
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.Stop(context.Background()); err == nil {
		t.Fatal("expected stop error")
	}
	if got := m.Services(); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Fatalf("services = %v", got)
	}
}
