package dispatch

import (
	"log/slog"

	"github.com/jwebster45206/conversation-engine/internal/services/events"
)

// RemoteUtterances returns an event handler that puts lines spoken on other
// hosts of the scene onto the local stage, keeping their original expiry.
// Lines whose expiry has passed, such as a stale mirror replay, are dropped.
func RemoteUtterances(stage *Stage, logger *slog.Logger) func(events.Event) {
	return func(e events.Event) {
		if e.Type != events.EventTypeUtteranceDisplayed || e.Utterance == nil {
			return
		}
		u := e.Utterance
		_, shown := stage.ShowUntil(Presentation{
			SpeakerID:   u.SpeakerID,
			SpeakerName: u.SpeakerName,
			Text:        u.Text,
			Position:    u.Position,
		}, u.ExpiresAt)
		if !shown {
			logger.Debug("Dropping expired remote utterance", "speaker_id", u.SpeakerID, "sender", e.Sender, "replay", e.Replay)
			return
		}
		logger.Debug("Remote utterance staged", "speaker_id", u.SpeakerID, "sender", e.Sender)
	}
}
