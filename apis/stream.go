// Package apis provides the HTTP integrations of the price stream client
package apis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"

	"github.com/rs/zerolog"
	sse "github.com/tmaxmax/go-sse"

	"github.com/sljivkov/pricestream/domain"
	"github.com/sljivkov/pricestream/logger"
)

// ErrStreamClosed is reported when the server ends the event stream
var ErrStreamClosed = errors.New("event stream closed by server")

// EventStream is a server-sent events transport for a single URL
type EventStream struct {
	url    string
	client *http.Client
	log    zerolog.Logger
}

// NewEventStream creates an EventStream. The client must not set a Timeout,
// since the response body is read for as long as the session lives; nil uses
// a default client.
func NewEventStream(url string, client *http.Client) *EventStream {
	if client == nil {
		client = &http.Client{}
	}

	return &EventStream{
		url:    url,
		client: client,
		log:    logger.With("sse"),
	}
}

// Open starts reading the stream in the background
func (s *EventStream) Open(ctx context.Context, sink domain.StreamSink) {
	go func() {
		err := s.stream(ctx, sink)
		if ctx.Err() != nil {
			return
		}

		sink.OnError(err)
	}()
}

func (s *EventStream) stream(ctx context.Context, sink domain.StreamSink) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to open event stream: %w", err)
	}

	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("event stream returned non-200 status: %d", resp.StatusCode)
	}

	mediaType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || mediaType != "text/event-stream" {
		return fmt.Errorf("unexpected event stream content type %q", resp.Header.Get("Content-Type"))
	}

	s.log.Info().Str("url", s.url).Msg("📡 event stream opened")

	for ev, err := range sse.Read(resp.Body, nil) {
		if errors.Is(err, io.EOF) {
			return ErrStreamClosed
		}

		if err != nil {
			return fmt.Errorf("failed to read event stream: %w", err)
		}

		if ev.Type != "" && ev.Type != "message" {
			s.log.Debug().Str("event", ev.Type).Str("id", ev.LastEventID).Str("data", ev.Data).Msg("ignoring named event")

			continue
		}

		sink.OnMessage([]byte(ev.Data))
	}

	return ErrStreamClosed
}
