package syncengine

import (
	"context"
	"log/slog"
	"time"

	"github.com/ncsync/ncsync/internal/webdav"
)

const (
	pollInterval  = 5 * time.Second
	probeInterval = 30 * time.Second
)

// ActivityPoller polls the remote activity feed at a fixed interval and
// emits non-empty, strictly-newer batches on out.
type ActivityPoller struct {
	client *webdav.Client
	logger *slog.Logger
}

// NewActivityPoller creates an ActivityPoller against client.
func NewActivityPoller(client *webdav.Client, logger *slog.Logger) *ActivityPoller {
	return &ActivityPoller{client: client, logger: logger}
}

// RemoteBatch is one non-empty poll result: the events observed and the
// cursor position after them.
type RemoteBatch struct {
	Events []RemoteEvent
	Cursor string
}

// Run polls every pollInterval until ctx is canceled, sending each
// non-empty batch whose cursor moved past the previous one on out. cursor
// is the starting activity cursor; with the empty string the first poll
// asks for the feed without a since filter, so its batch is whatever backlog
// the server returns (see webdav.Client.Activities).
func (p *ActivityPoller) Run(ctx context.Context, cursor string, out chan<- RemoteBatch) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-ticker.C:
			activities, newCursor, err := p.client.Activities(ctx, cursor)
			if err != nil {
				p.logger.Warn("activity poll failed", slog.String("error", err.Error()))
				continue
			}

			if len(activities) == 0 || newCursor == cursor {
				continue
			}

			events := make([]RemoteEvent, 0, len(activities))
			for _, a := range activities {
				kind, ok := remoteEventKindFromActivity(a.Kind)
				if !ok {
					continue
				}

				events = append(events, RemoteEvent{Kind: kind, Path: a.Path, OldPath: a.OldPath, ActivityID: a.ID})
			}

			cursor = newCursor

			select {
			case out <- RemoteBatch{Events: events, Cursor: newCursor}:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func remoteEventKindFromActivity(k webdav.ActivityKind) (RemoteEventKind, bool) {
	switch k {
	case webdav.ActivityFileCreated:
		return RemoteFileCreated, true
	case webdav.ActivityFileChanged:
		return RemoteFileChanged, true
	case webdav.ActivityFileDeleted:
		return RemoteFileDeleted, true
	case webdav.ActivityFileRenamed:
		return RemoteFileRenamed, true
	default:
		return 0, false
	}
}

// OnlineProber periodically checks remote reachability and emits true/false
// only on transitions (connect/disconnect), not on every probe.
type OnlineProber struct {
	client *webdav.Client
	logger *slog.Logger
}

// NewOnlineProber creates an OnlineProber against client.
func NewOnlineProber(client *webdav.Client, logger *slog.Logger) *OnlineProber {
	return &OnlineProber{client: client, logger: logger}
}

// Run probes every probeInterval until ctx is canceled, sending a bool on
// out only when reachability changes from its previous observation. The
// initial state is assumed online; if the very first probe reports
// offline, a false is sent immediately.
func (p *OnlineProber) Run(ctx context.Context, out chan<- bool) error {
	ticker := time.NewTicker(probeInterval)
	defer ticker.Stop()

	online := true

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-ticker.C:
			nowOnline := p.client.IsOnline(ctx)
			if nowOnline == online {
				continue
			}

			online = nowOnline

			select {
			case out <- online:
			case <-ctx.Done():
				return nil
			}
		}
	}
}
