package server

import (
	"context"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/regiment/internal/attendance"
	"github.com/MarcoPoloResearchLab/regiment/internal/notify"
	"github.com/MarcoPoloResearchLab/regiment/internal/reports"
)

const (
	// TopicCompletion carries rank completion announcements.
	TopicCompletion = "completion"
	// TopicDeletion carries flushed statistics deletion reports.
	TopicDeletion = "deletion"
	// TopicAttendance carries submitted attendance sessions.
	TopicAttendance       = "attendance"
	activityEventReady    = "ready"
	activityEventBeat     = "heartbeat"
	activitySubscriberBuf = 16
)

var activityTopics = []string{TopicCompletion, TopicDeletion, TopicAttendance}

// Activity is one message on the operations activity feed.
type Activity struct {
	Topic     string
	Payload   any
	Timestamp time.Time
}

// AttendanceActivity summarises a submitted session for the feed.
type AttendanceActivity struct {
	Session  attendance.Snapshot `json:"session"`
	Credited []string            `json:"credited"`
	Failed   []string            `json:"failed"`
}

// ActivityDispatcher fans bot activity out to stream subscribers. Slow
// subscribers lose messages rather than blocking publishers.
type ActivityDispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*activitySubscriber
	nextID      int64
	bufferSize  int
	clock       func() time.Time
}

type activitySubscriber struct {
	id     int64
	stream chan Activity
}

// NewActivityDispatcher constructs an empty dispatcher.
func NewActivityDispatcher(clock func() time.Time) *ActivityDispatcher {
	if clock == nil {
		clock = time.Now
	}
	return &ActivityDispatcher{
		subscribers: make(map[string]map[int64]*activitySubscriber),
		bufferSize:  activitySubscriberBuf,
		clock:       clock,
	}
}

// Subscribe registers a stream for the given topics, or every topic when
// none are named. The subscription ends when ctx is done or cleanup runs.
func (d *ActivityDispatcher) Subscribe(ctx context.Context, topics ...string) (<-chan Activity, func()) {
	if len(topics) == 0 {
		topics = activityTopics
	}
	subscriber := &activitySubscriber{
		id:     d.nextSequence(),
		stream: make(chan Activity, d.bufferSize),
	}
	d.registerSubscriber(topics, subscriber)

	stopped := make(chan struct{})
	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			d.unregisterSubscriber(topics, subscriber.id)
			close(stopped)
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			cleanup()
		case <-stopped:
		}
	}()
	return subscriber.stream, cleanup
}

// Publish delivers the activity to every subscriber of its topic.
func (d *ActivityDispatcher) Publish(activity Activity) {
	if activity.Topic == "" {
		return
	}
	if activity.Timestamp.IsZero() {
		activity.Timestamp = d.clock().UTC()
	}
	d.mu.RLock()
	subscribers := d.subscribers[activity.Topic]
	copies := make([]*activitySubscriber, 0, len(subscribers))
	for _, subscriber := range subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- activity:
		default:
		}
	}
}

// AnnounceCompletion publishes a completion; it satisfies notify.Announcer.
func (d *ActivityDispatcher) AnnounceCompletion(_ context.Context, completion notify.Completion) error {
	d.Publish(Activity{Topic: TopicCompletion, Payload: completion})
	return nil
}

// PublishDeletions publishes a flushed report batch; it satisfies reports.Sink.
func (d *ActivityDispatcher) PublishDeletions(_ context.Context, batch []reports.Report) error {
	if len(batch) == 0 {
		return nil
	}
	d.Publish(Activity{Topic: TopicDeletion, Payload: batch})
	return nil
}

// SessionFinalized publishes a submitted session; it satisfies attendance.Observer.
func (d *ActivityDispatcher) SessionFinalized(_ context.Context, summary attendance.Summary) {
	payload := AttendanceActivity{Session: summary.Session, Credited: []string{}, Failed: []string{}}
	for _, credit := range summary.Credits {
		switch {
		case credit.Err != nil:
			payload.Failed = append(payload.Failed, credit.DiscordID)
		case credit.Credit.Credited:
			payload.Credited = append(payload.Credited, credit.DiscordID)
		}
	}
	d.Publish(Activity{Topic: TopicAttendance, Payload: payload})
}

func (d *ActivityDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *ActivityDispatcher) registerSubscriber(topics []string, subscriber *activitySubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, topic := range topics {
		if _, ok := d.subscribers[topic]; !ok {
			d.subscribers[topic] = make(map[int64]*activitySubscriber)
		}
		d.subscribers[topic][subscriber.id] = subscriber
	}
}

func (d *ActivityDispatcher) unregisterSubscriber(topics []string, subscriberID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, topic := range topics {
		subscribers := d.subscribers[topic]
		if subscribers == nil {
			continue
		}
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, topic)
		}
	}
}
