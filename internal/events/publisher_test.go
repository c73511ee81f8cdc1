package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/iconidentify/tokgrab/internal/domain"
)

type recordedMsg struct {
	subject string
	data    []byte
}

type fakeConn struct {
	msgs []recordedMsg
	err  error
}

func (f *fakeConn) Publish(subject string, data []byte) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, recordedMsg{subject: subject, data: data})
	return nil
}

func TestSubject(t *testing.T) {
	if got := Subject("tokgrab.downloads", domain.StatusCompleted); got != "tokgrab.downloads.completed" {
		t.Errorf("Subject() = %q", got)
	}
}

func TestNATSPublisher_Publish(t *testing.T) {
	conn := &fakeConn{}
	p := newPublisher(conn, "tokgrab.downloads", slog.New(slog.NewTextHandler(io.Discard, nil)))

	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	evt := domain.DownloadEvent{
		DownloadID: 7,
		Status:     domain.StatusFailed,
		Previous:   domain.StatusProcessing,
		Error:      "media download failed",
		OccurredAt: at,
	}
	if err := p.Publish(context.Background(), evt); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	if len(conn.msgs) != 1 {
		t.Fatalf("published %d messages, want 1", len(conn.msgs))
	}
	if conn.msgs[0].subject != "tokgrab.downloads.failed" {
		t.Errorf("subject = %q", conn.msgs[0].subject)
	}

	var decoded map[string]any
	if err := json.Unmarshal(conn.msgs[0].data, &decoded); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if decoded["download_id"] != float64(7) || decoded["status"] != "failed" || decoded["previous"] != "processing" {
		t.Errorf("payload = %v", decoded)
	}
	if decoded["error"] != "media download failed" {
		t.Errorf("error = %v", decoded["error"])
	}
}

func TestNATSPublisher_PublishError(t *testing.T) {
	p := newPublisher(&fakeConn{err: errors.New("nats: connection closed")}, "x", slog.Default())

	if err := p.Publish(context.Background(), domain.DownloadEvent{Status: domain.StatusCompleted}); err == nil {
		t.Error("expected error")
	}
}

func TestNATSPublisher_CanceledContext(t *testing.T) {
	conn := &fakeConn{}
	p := newPublisher(conn, "x", slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := p.Publish(ctx, domain.DownloadEvent{Status: domain.StatusCompleted}); !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
	if len(conn.msgs) != 0 {
		t.Error("nothing should be published after cancellation")
	}
}

func TestNop(t *testing.T) {
	var p Publisher = Nop{}
	if err := p.Publish(context.Background(), domain.DownloadEvent{}); err != nil {
		t.Errorf("Publish failed: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}
