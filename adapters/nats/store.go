package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/formstream/eventcore/core/es"
)

const defaultSubjectPrefix = "eventcore.streams"

type EventStoreConfig struct {
	Connect       Connector    // Connect creates the underlying NATS connection. If nil, ConnectDefault() is used.
	Log           *slog.Logger // Log for diagnostics (optional)
	StreamName    string
	SubjectPrefix string
}

// EventStore persists aggregate streams on a JetStream stream, one
// subject per aggregate. The optimistic version check rides on
// JetStream's expected-last-subject-sequence guard, so two writers
// racing the same expected version cannot both land.
type EventStore struct {
	nc            *natsgo.Conn
	closeNc       closeFunc
	js            jetstream.JetStream
	stream        jetstream.Stream
	log           *slog.Logger
	subjectPrefix string
	streamName    string
}

func NewEventStore(cfg EventStoreConfig) (*EventStore, error) {
	doConnect := cfg.Connect
	if doConnect == nil {
		doConnect = ConnectDefault()
	}

	nc, closeNatsCon, err := doConnect()
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		return nil, err
	}

	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	streamName := strings.ToUpper(cfg.StreamName)
	if streamName == "" {
		streamName = "EVENTCORE"
	}

	subjectPrefix := cfg.SubjectPrefix
	if subjectPrefix == "" {
		subjectPrefix = defaultSubjectPrefix
	}

	log = log.With(
		slog.String("store", "nats_js"),
		slog.String("stream", streamName),
	)

	stream, streamInfo, err := ensureStream(js, jetstream.StreamConfig{
		Name:     streamName,
		Subjects: []string{subjectPrefix + ".>"},
		Storage:  jetstream.FileStorage,
		FirstSeq: 1,
	})
	if err != nil {
		return nil, err
	}

	log.Debug("ensured stream", slog.Any("info", streamInfo.Config))

	return &EventStore{
		nc:            nc,
		closeNc:       closeNatsCon,
		js:            js,
		log:           log,
		stream:        stream,
		subjectPrefix: subjectPrefix,
		streamName:    streamName,
	}, nil
}

func (e *EventStore) Close() error {
	e.js.CleanupPublisher()
	e.closeNc()
	e.log.Debug("closed event store")
	return nil
}

func (e *EventStore) Append(
	ctx context.Context,
	aggregateID string,
	expectedVersion es.Version,
	events []es.Envelope,
) ([]es.Envelope, error) {
	if len(events) == 0 {
		return nil, es.ErrNoEvents
	}
	for _, ev := range events {
		if err := ev.Validate(); err != nil {
			return nil, err
		}
		if ev.AggregateID != aggregateID {
			return nil, &es.ValidationError{Field: "aggregate_id", Reason: "does not match the stream being appended to"}
		}
	}

	last, err := e.lastEnvelope(ctx, aggregateID)
	if err != nil {
		return nil, err
	}

	var (
		current     es.Version
		lastSubjSeq uint64
		lastAt      time.Time
	)
	if last != nil {
		current = last.Version
		lastSubjSeq = last.Seq
		lastAt = last.OccurredAt
	}
	if current != expectedVersion {
		return nil, &es.ConflictError{
			AggregateID: aggregateID,
			Expected:    expectedVersion,
			Current:     current,
		}
	}

	subject := e.subjectFor(aggregateID)
	committed := make([]es.Envelope, 0, len(events))

	for i, ev := range events {
		ev.Version = expectedVersion + es.Version(i+1)
		if ev.OccurredAt.Before(lastAt) {
			ev.OccurredAt = lastAt
		}
		lastAt = ev.OccurredAt

		msg := natsgo.NewMsg(subject)
		msg.Header.Set("x-event-type", ev.Type)
		msg.Header.Set("x-aggregate-type", ev.AggregateType)
		msg.Data, err = json.Marshal(ev)
		if err != nil {
			return nil, err
		}

		// The broker-side CAS: the publish only lands if the subject's
		// last sequence is still the one we read, so racing writers get
		// a wrong-sequence rejection instead of a torn stream.
		ack, pubErr := e.js.PublishMsg(
			ctx,
			msg,
			jetstream.WithMsgID(ev.ID),
			jetstream.WithExpectLastSequencePerSubject(lastSubjSeq),
		)
		if pubErr != nil {
			var apiErr *jetstream.APIError
			if errors.As(pubErr, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence {
				cur, lookupErr := e.currentVersion(ctx, aggregateID)
				if lookupErr != nil {
					cur = current
				}
				return nil, &es.ConflictError{
					AggregateID: aggregateID,
					Expected:    expectedVersion,
					Current:     cur,
				}
			}
			return nil, &es.TransientError{Op: "append", Err: pubErr}
		}

		ev.Seq = ack.Sequence
		lastSubjSeq = ack.Sequence
		committed = append(committed, ev)
	}

	e.log.Debug(
		"append",
		slog.String("aggregate_id", aggregateID),
		slog.Int("num_events", len(committed)),
		committed[len(committed)-1].Version.SlogAttr(),
	)

	return committed, nil
}

func (e *EventStore) Read(
	ctx context.Context,
	aggregateID string,
	opts ...es.ReadOption,
) ([]es.Envelope, error) {
	readOpts := es.ReadOptions{}
	for _, opt := range opts {
		opt(&readOpts)
	}

	last, err := e.lastEnvelope(ctx, aggregateID)
	if err != nil {
		return nil, err
	}
	if last == nil {
		return nil, &es.NotFoundError{Kind: "aggregate", ID: aggregateID}
	}

	all, err := e.scanSubject(ctx, e.subjectFor(aggregateID), last.Seq)
	if err != nil {
		return nil, err
	}

	out := make([]es.Envelope, 0, len(all))
	for _, ev := range all {
		if readOpts.FromVersion > 0 && ev.Version < readOpts.FromVersion {
			continue
		}
		if readOpts.ToVersion > 0 && ev.Version > readOpts.ToVersion {
			break
		}
		out = append(out, ev)
	}
	return out, nil
}

func (e *EventStore) Query(ctx context.Context, q es.Query) (*es.QueryResult, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = es.DefaultQueryLimit
	}

	var after *es.Cursor
	if q.Cursor != "" {
		c, err := es.DecodeCursor(q.Cursor)
		if err != nil {
			return nil, err
		}
		after = &c
	}

	info, err := e.stream.Info(ctx)
	if err != nil {
		return nil, &es.TransientError{Op: "query", Err: err}
	}
	if info.State.Msgs == 0 {
		return &es.QueryResult{Events: []es.Envelope{}}, nil
	}

	all, err := e.scanSubject(ctx, e.subjectPrefix+".>", info.State.LastSeq)
	if err != nil {
		return nil, err
	}

	matched := make([]es.Envelope, 0)
	for _, ev := range all {
		if q.Matches(ev) {
			matched = append(matched, ev)
		}
	}

	sort.SliceStable(matched, func(i, j int) bool {
		if !matched[i].OccurredAt.Equal(matched[j].OccurredAt) {
			return matched[i].OccurredAt.Before(matched[j].OccurredAt)
		}
		return matched[i].Seq < matched[j].Seq
	})

	start := 0
	if after != nil {
		for start < len(matched) && !after.Before(matched[start]) {
			start++
		}
	}
	end := start + limit
	if end > len(matched) {
		end = len(matched)
	}

	res := &es.QueryResult{
		Events:     matched[start:end],
		TotalCount: len(matched),
		HasMore:    end < len(matched),
	}
	if res.HasMore && len(res.Events) > 0 {
		res.NextCursor = es.EncodeCursor(res.Events[len(res.Events)-1])
	}
	return res, nil
}

func (e *EventStore) Meta(ctx context.Context, aggregateID string) (*es.StreamMeta, error) {
	last, err := e.lastEnvelope(ctx, aggregateID)
	if err != nil {
		return nil, err
	}
	if last == nil {
		return nil, &es.NotFoundError{Kind: "aggregate", ID: aggregateID}
	}

	first, err := e.firstEnvelope(ctx, aggregateID)
	if err != nil {
		return nil, err
	}

	// Versions are gap-free, so the head version doubles as the count.
	return &es.StreamMeta{
		AggregateID:     aggregateID,
		AggregateType:   last.AggregateType,
		Version:         last.Version,
		EventCount:      int(last.Version),
		FirstOccurredAt: first.OccurredAt,
		LastOccurredAt:  last.OccurredAt,
	}, nil
}

var _ es.EventStore = (*EventStore)(nil)

// --- helpers ---

func (e *EventStore) subjectFor(aggregateID string) string {
	return e.subjectPrefix + "." + aggregateID
}

func (e *EventStore) lastEnvelope(ctx context.Context, aggregateID string) (*es.Envelope, error) {
	lm, err := e.stream.GetLastMsgForSubject(ctx, e.subjectFor(aggregateID))
	if err != nil {
		if errors.Is(err, jetstream.ErrMsgNotFound) {
			return nil, nil
		}
		return nil, &es.TransientError{Op: "last_msg", Err: err}
	}

	env := &es.Envelope{}
	if err := json.Unmarshal(lm.Data, env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal last message for %q: %w", aggregateID, err)
	}
	env.Seq = lm.Sequence
	return env, nil
}

func (e *EventStore) firstEnvelope(ctx context.Context, aggregateID string) (*es.Envelope, error) {
	cc, err := e.stream.OrderedConsumer(ctx, jetstream.OrderedConsumerConfig{
		DeliverPolicy:  jetstream.DeliverAllPolicy,
		FilterSubjects: []string{e.subjectFor(aggregateID)},
	})
	if err != nil {
		return nil, &es.TransientError{Op: "first_msg", Err: err}
	}

	msgs, err := cc.Fetch(1)
	if err != nil {
		return nil, &es.TransientError{Op: "first_msg", Err: err}
	}
	for msg := range msgs.Messages() {
		return decodeMsg(msg)
	}
	if msgs.Error() != nil {
		return nil, &es.TransientError{Op: "first_msg", Err: msgs.Error()}
	}
	return nil, &es.NotFoundError{Kind: "aggregate", ID: aggregateID}
}

// scanSubject reads every message on the subject up to endSeq, in stream
// order.
func (e *EventStore) scanSubject(ctx context.Context, subject string, endSeq uint64) ([]es.Envelope, error) {
	cc, err := e.stream.OrderedConsumer(ctx, jetstream.OrderedConsumerConfig{
		DeliverPolicy:  jetstream.DeliverAllPolicy,
		FilterSubjects: []string{subject},
	})
	if err != nil {
		return nil, &es.TransientError{Op: "scan", Err: err}
	}

	var out []es.Envelope

outer:
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		mb, err := cc.FetchNoWait(100)
		if err != nil {
			return nil, &es.TransientError{Op: "scan", Err: err}
		}
		if mb.Error() != nil {
			return nil, &es.TransientError{Op: "scan", Err: mb.Error()}
		}

		empty := true
		for msg := range mb.Messages() {
			empty = false
			ev, err := decodeMsg(msg)
			if err != nil {
				return nil, err
			}
			out = append(out, *ev)

			if endSeq > 0 && ev.Seq >= endSeq {
				break outer
			}
		}
		if empty {
			break
		}
	}

	return out, nil
}

func (e *EventStore) currentVersion(ctx context.Context, aggregateID string) (es.Version, error) {
	last, err := e.lastEnvelope(ctx, aggregateID)
	if err != nil {
		return 0, err
	}
	if last == nil {
		return 0, nil
	}
	return last.Version, nil
}

func decodeMsg(msg jetstream.Msg) (*es.Envelope, error) {
	md, err := msg.Metadata()
	if err != nil {
		return nil, err
	}

	env := &es.Envelope{}
	if err := json.Unmarshal(msg.Data(), env); err != nil {
		return nil, err
	}
	env.Seq = md.Sequence.Stream
	return env, nil
}

func ensureStream(js jetstream.JetStream, cfg jetstream.StreamConfig) (jetstream.Stream, *jetstream.StreamInfo, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*natsgo.DefaultTimeout)
	defer cancel()

	s, err := js.CreateOrUpdateStream(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	si, err := s.Info(ctx)
	if err != nil {
		return nil, nil, err
	}
	return s, si, nil
}
