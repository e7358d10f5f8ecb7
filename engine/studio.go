package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/drummonds/flipbook/database"
	"github.com/drummonds/flipbook/overlay"
)

var errSessionNotFound = errors.New("studio session not found")

// studioSession is one open editor on a flipbook. Edits stay in the editor
// until the session commits them.
type studioSession struct {
	ID         string
	FlipbookID string
	Editor     *overlay.Editor
	OpenedAt   time.Time
	lastActive atomic.Int64 // unix nanoseconds
}

func (session *studioSession) touch(now time.Time) {
	session.lastActive.Store(now.UnixNano())
}

func (session *studioSession) idleSince(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, session.lastActive.Load()))
}

// openSession loads the committed overlays of a flipbook into a new editor
func (serverHandler *ServerHandler) openSession(ctx context.Context, flipbookID string) (*studioSession, error) {
	fb, err := serverHandler.DB.GetFlipbook(ctx, flipbookID)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	id, err := database.CalculateUUID(now)
	if err != nil {
		return nil, err
	}
	session := &studioSession{
		ID:         id.String(),
		FlipbookID: fb.ID.String(),
		Editor:     overlay.NewEditor(fb.Overlays, fb.PageCount),
		OpenedAt:   now,
	}
	session.touch(now)
	serverHandler.sessions.Store(session.ID, session)
	Logger.Info("Studio session opened", "session", session.ID, "flipbook", session.FlipbookID, "overlays", len(fb.Overlays))
	return session, nil
}

// session returns an open session and records the activity
func (serverHandler *ServerHandler) session(id string) (*studioSession, error) {
	session, ok := serverHandler.sessions.Load(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", errSessionNotFound, id)
	}
	session.touch(time.Now())
	return session, nil
}

// closeSession drops a session and any uncommitted edits
func (serverHandler *ServerHandler) closeSession(id string) bool {
	session, ok := serverHandler.sessions.LoadAndDelete(id)
	if ok {
		Logger.Info("Studio session closed", "session", id, "flipbook", session.FlipbookID, "discardedEdits", session.Editor.Dirty())
	}
	return ok
}

// commitSession stores the working set as the flipbook's overlays
func (serverHandler *ServerHandler) commitSession(ctx context.Context, session *studioSession) ([]overlay.Overlay, error) {
	return session.Editor.Commit(func(overlays []overlay.Overlay) error {
		_, err := serverHandler.DB.UpdateFlipbook(ctx, session.FlipbookID, database.FlipbookUpdate{Overlays: &overlays})
		return err
	})
}

// expireSessions closes sessions idle for longer than ttl and returns how many were closed
func (serverHandler *ServerHandler) expireSessions(ttl time.Duration, now time.Time) int {
	if ttl <= 0 {
		return 0
	}
	expired := 0
	serverHandler.sessions.Range(func(id string, session *studioSession) bool {
		if session.idleSince(now) > ttl {
			serverHandler.sessions.Delete(id)
			expired++
			Logger.Info("Studio session expired", "session", id, "flipbook", session.FlipbookID, "discardedEdits", session.Editor.Dirty())
		}
		return true
	})
	return expired
}
