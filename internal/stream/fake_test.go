package stream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"

	"cvdflow/models"
)

// Frames in these tests are JSON encoded FeedResponses; the supervisor's
// decoder is swapped for json.Unmarshal.
func jsonDecode(frame []byte) (*models.FeedResponse, error) {
	var resp models.FeedResponse
	if err := json.Unmarshal(frame, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func minuteFrame(instrument string, tsSec int64, open, close, volume float64) []byte {
	high, low := open, close
	if close > open {
		high, low = close, open
	}
	resp := models.FeedResponse{
		Type: models.FeedTypeLive,
		Feeds: map[string]models.Feed{
			instrument: {OHLC: []models.FeedOHLC{{
				Interval:    models.MinuteInterval,
				Open:        open,
				High:        high,
				Low:         low,
				Close:       close,
				Volume:      int64(volume),
				TimestampMs: tsSec * 1000,
			}}},
		},
	}
	b, _ := json.Marshal(resp)
	return b
}

var errSessionDone = errors.New("session script exhausted")

type fakeSession struct {
	mu         sync.Mutex
	frames     [][]byte
	subscribed []string
	closed     bool
	subErr     error
	endErr     error
}

func (s *fakeSession) Subscribe(ctx context.Context, keys []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribed = keys
	return s.subErr
}

func (s *fakeSession) Receive(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frames) == 0 {
		if s.endErr != nil {
			return nil, s.endErr
		}
		return nil, io.EOF
	}
	f := s.frames[0]
	s.frames = s.frames[1:]
	return f, nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// fakeDialer hands out scripted sessions in order. Once they run out it
// calls exhausted and blocks until ctx ends.
type fakeDialer struct {
	mu        sync.Mutex
	sessions  []*fakeSession
	errs      []error
	connects  int
	exhausted func()
}

func (d *fakeDialer) Connect(ctx context.Context) (Session, error) {
	d.mu.Lock()
	d.connects++
	if len(d.errs) > 0 {
		err := d.errs[0]
		d.errs = d.errs[1:]
		d.mu.Unlock()
		return nil, err
	}
	if len(d.sessions) == 0 {
		exhausted := d.exhausted
		d.mu.Unlock()
		if exhausted != nil {
			exhausted()
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}
	s := d.sessions[0]
	d.sessions = d.sessions[1:]
	d.mu.Unlock()
	return s, nil
}

func (d *fakeDialer) connectCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connects
}
