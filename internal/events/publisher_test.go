package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/splax/pwnarena/internal/domain"
)

type broadcastStub struct {
	sent map[string][][]byte
}

func (b *broadcastStub) Broadcast(teamID string, payload []byte) {
	if b.sent == nil {
		b.sent = make(map[string][][]byte)
	}
	b.sent[teamID] = append(b.sent[teamID], payload)
}

type publisherStub struct {
	calls int
	err   error
}

func (p *publisherStub) Publish(context.Context, domain.UseEvent) error {
	p.calls++
	return p.err
}

func TestTeamFeedNotifiesActorAndTarget(t *testing.T) {
	hub := &broadcastStub{}
	feed := NewTeamFeed(hub)
	event := domain.UseEvent{ID: "ev-1", TeamID: "a", TargetTeamID: "b", Kind: domain.KindSabotage, PointDelta: 500}

	if err := feed.Publish(context.Background(), event); err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}
	if len(hub.sent["a"]) != 1 || len(hub.sent["b"]) != 1 {
		t.Fatalf("expected one message per team, got %v", hub.sent)
	}
	var decoded domain.UseEvent
	if err := json.Unmarshal(hub.sent["b"][0], &decoded); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if decoded.Kind != domain.KindSabotage || decoded.PointDelta != 500 {
		t.Fatalf("unexpected payload %+v", decoded)
	}
}

func TestTeamFeedWithoutTarget(t *testing.T) {
	hub := &broadcastStub{}
	if err := NewTeamFeed(hub).Publish(context.Background(), domain.UseEvent{TeamID: "a", Kind: domain.KindShield}); err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}
	if len(hub.sent) != 1 {
		t.Fatalf("expected only the actor to be notified, got %v", hub.sent)
	}
}

func TestFanoutJoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	ok := &publisherStub{}
	failing := &publisherStub{err: boom}
	fan := Fanout{ok, nil, failing}

	err := fan.Publish(context.Background(), domain.UseEvent{ID: "ev-1"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined error, got %v", err)
	}
	if ok.calls != 1 || failing.calls != 1 {
		t.Fatalf("expected every publisher called once, got %d and %d", ok.calls, failing.calls)
	}
}
