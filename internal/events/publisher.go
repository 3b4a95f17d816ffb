package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/splax/pwnarena/internal/domain"
)

// Publisher mirrors powerup.Publisher.
type Publisher interface {
	Publish(ctx context.Context, event domain.UseEvent) error
}

// Fanout delivers each event to every publisher and joins their errors.
type Fanout []Publisher

// Publish implements Publisher.
func (f Fanout) Publish(ctx context.Context, event domain.UseEvent) error {
	var errs []error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Broadcaster delivers a payload to the subscribers of one team.
type Broadcaster interface {
	Broadcast(teamID string, payload []byte)
}

// TeamFeed pushes events to the live feeds of the acting and targeted teams.
type TeamFeed struct {
	hub Broadcaster
}

// NewTeamFeed constructs a TeamFeed over hub.
func NewTeamFeed(hub Broadcaster) TeamFeed {
	return TeamFeed{hub: hub}
}

// Publish implements Publisher.
func (f TeamFeed) Publish(_ context.Context, event domain.UseEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	f.hub.Broadcast(event.TeamID, payload)
	if event.TargetTeamID != "" && event.TargetTeamID != event.TeamID {
		f.hub.Broadcast(event.TargetTeamID, payload)
	}
	return nil
}
