package reminders

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/studiodesk/studiodesk/internal/app/domain/appointment"
	"github.com/studiodesk/studiodesk/internal/app/domain/catalog"
	"github.com/studiodesk/studiodesk/internal/app/domain/client"
	"github.com/studiodesk/studiodesk/internal/app/domain/notification"
	"github.com/studiodesk/studiodesk/internal/app/notify"
	"github.com/studiodesk/studiodesk/pkg/logger"
)

type fakeSource struct {
	mu       sync.Mutex
	due      []appointment.Details
	reminded map[string]time.Time
	moved    map[string]bool
}

func (f *fakeSource) DueForReminder(_ context.Context, from, to time.Time) ([]appointment.Details, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []appointment.Details
	for _, d := range f.due {
		if _, done := f.reminded[d.ID]; !done {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeSource) MarkReminded(_ context.Context, sent appointment.Appointment, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.moved[sent.ID] {
		return false, nil
	}
	f.reminded[sent.ID] = at
	return true, nil
}

type fakeTemplates struct {
	fail bool
}

func (f fakeTemplates) RenderReminder(_ context.Context, appt appointment.Details, channel notification.Channel) (string, string, bool, error) {
	if f.fail {
		return "", "", false, errors.New("template store down")
	}
	if channel != notification.ChannelEmail {
		return "", "", false, nil
	}
	return "Your visit", "Dear " + appt.Client.FirstName, true, nil
}

type fakePortal struct {
	mu    sync.Mutex
	posts []notification.Notification
}

func (p *fakePortal) Notify(_ context.Context, n notification.Notification) (notification.Notification, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.posts = append(p.posts, n)
	return n, nil
}

type fakeSender struct {
	mu   sync.Mutex
	sent []notify.Message
	fail map[string]bool
}

func (s *fakeSender) Send(_ context.Context, msg notify.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail[msg.To] {
		return errors.New("gateway down")
	}
	s.sent = append(s.sent, msg)
	return nil
}

func details(id, first, email, phone string) appointment.Details {
	return appointment.Details{
		Appointment: appointment.Appointment{ID: id, OwnerID: "o1", Date: "2026-05-01", StartTime: "10:00", EndTime: "11:00"},
		Client:      client.Client{FirstName: first, Email: email, Phone: phone},
		Service:     catalog.Service{Name: "Massage"},
	}
}

func TestRunOnceChoosesChannelAndMarks(t *testing.T) {
	src := &fakeSource{reminded: map[string]time.Time{}, due: []appointment.Details{
		details("a1", "Anna", "anna@example.com", "0170"),
		details("a2", "Carl", "", "0171"),
		details("a3", "Nobody", "", ""),
	}}
	sender := &fakeSender{}
	d := NewDispatcher(src, sender, time.Minute, 24*time.Hour, time.UTC, logger.Discard())

	sent, err := d.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if sent != 2 {
		t.Fatalf("sent = %d, want 2", sent)
	}
	if sender.sent[0].Channel != notify.ChannelEmail || sender.sent[1].Channel != notify.ChannelSMS {
		t.Fatalf("unexpected channels %+v", sender.sent)
	}
	if !strings.Contains(sender.sent[0].Body, "Massage") || !strings.Contains(sender.sent[0].Body, "01.05.2026 10:00") {
		t.Fatalf("unexpected body %q", sender.sent[0].Body)
	}
	if _, ok := src.reminded["a3"]; ok {
		t.Fatal("appointment without contact must not be marked")
	}

	sent, _ = d.RunOnce(context.Background())
	if sent != 0 {
		t.Fatalf("second run sent %d, want 0", sent)
	}
}

func TestFailedDeliveryIsRetried(t *testing.T) {
	src := &fakeSource{reminded: map[string]time.Time{}, due: []appointment.Details{
		details("a1", "Anna", "anna@example.com", ""),
	}}
	sender := &fakeSender{fail: map[string]bool{"anna@example.com": true}}
	d := NewDispatcher(src, sender, time.Minute, time.Hour, time.UTC, logger.Discard())

	if sent, _ := d.RunOnce(context.Background()); sent != 0 {
		t.Fatalf("sent = %d, want 0", sent)
	}
	if len(src.reminded) != 0 {
		t.Fatal("failed delivery must not be marked")
	}

	sender.fail = nil
	if sent, _ := d.RunOnce(context.Background()); sent != 1 {
		t.Fatalf("retry sent = %d, want 1", sent)
	}
}

func TestTemplatesAndPortalCopy(t *testing.T) {
	src := &fakeSource{reminded: map[string]time.Time{}, due: []appointment.Details{
		details("a1", "Anna", "anna@example.com", ""),
		details("a2", "Carl", "", "0171"),
	}}
	sender := &fakeSender{}
	portal := &fakePortal{}
	d := NewDispatcher(src, sender, time.Minute, 24*time.Hour, time.UTC, logger.Discard()).
		WithTemplates(fakeTemplates{}).
		WithPortal(portal)

	if sent, err := d.RunOnce(context.Background()); err != nil || sent != 2 {
		t.Fatalf("RunOnce() = %d, %v", sent, err)
	}
	if sender.sent[0].Subject != "Your visit" || sender.sent[0].Body != "Dear Anna" {
		t.Fatalf("email not rendered from template: %+v", sender.sent[0])
	}
	if !strings.Contains(sender.sent[1].Body, "Hello Carl") {
		t.Fatalf("sms without template must use default text, got %q", sender.sent[1].Body)
	}
	if len(portal.posts) != 2 || portal.posts[0].AppointmentID != "a1" || portal.posts[0].Body != "Dear Anna" {
		t.Fatalf("unexpected portal posts %+v", portal.posts)
	}
}

func TestTemplateErrorFallsBackToDefaultText(t *testing.T) {
	src := &fakeSource{reminded: map[string]time.Time{}, due: []appointment.Details{
		details("a1", "Anna", "anna@example.com", ""),
	}}
	sender := &fakeSender{}
	d := NewDispatcher(src, sender, time.Minute, 24*time.Hour, time.UTC, logger.Discard()).
		WithTemplates(fakeTemplates{fail: true})

	if sent, _ := d.RunOnce(context.Background()); sent != 1 {
		t.Fatalf("sent = %d, want 1", sent)
	}
	if !strings.Contains(sender.sent[0].Body, "Hello Anna") {
		t.Fatalf("unexpected body %q", sender.sent[0].Body)
	}
}

func TestMovedAppointmentIsNotCounted(t *testing.T) {
	src := &fakeSource{
		reminded: map[string]time.Time{},
		moved:    map[string]bool{"a1": true},
		due:      []appointment.Details{details("a1", "Anna", "anna@example.com", "")},
	}
	portal := &fakePortal{}
	d := NewDispatcher(src, &fakeSender{}, time.Minute, 24*time.Hour, time.UTC, logger.Discard()).WithPortal(portal)

	if sent, _ := d.RunOnce(context.Background()); sent != 0 {
		t.Fatalf("sent = %d, want 0", sent)
	}
	if len(portal.posts) != 0 {
		t.Fatal("moved appointment must not reach the portal")
	}
}

func TestDispatcherLifecycle(t *testing.T) {
	src := &fakeSource{reminded: map[string]time.Time{}, due: []appointment.Details{
		details("a1", "Anna", "anna@example.com", ""),
	}}
	sender := &fakeSender{}
	d := NewDispatcher(src, sender, time.Hour, time.Hour, time.UTC, logger.Discard())

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		src.mu.Lock()
		n := len(src.reminded)
		src.mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("initial tick did not run")
		}
		time.Sleep(10 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := d.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
}
