package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/widgetchat/pkg/logging"
)

func sampleEvent() Event {
	e := New(TypeChatRequest)
	e.Tenant = "a1b2c3d4e5"
	e.Action = "chat"
	e.Outcome = "OK"
	e.DurationMS = 42
	e.Turn = 3
	return e
}

type fakeSQS struct {
	input *sqs.SendMessageInput
	err   error
}

func (f *fakeSQS) SendMessage(_ context.Context, params *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.input = params
	if f.err != nil {
		return nil, f.err
	}
	return &sqs.SendMessageOutput{MessageId: aws.String("m-1")}, nil
}

func TestSQSSinkSendsJSONBody(t *testing.T) {
	client := &fakeSQS{}
	sink := NewSQSSink(client, "https://sqs.local/queue")
	e := sampleEvent()

	require.NoError(t, sink.Emit(context.Background(), e))

	assert.Equal(t, "https://sqs.local/queue", aws.ToString(client.input.QueueUrl))
	var decoded Event
	require.NoError(t, json.Unmarshal([]byte(aws.ToString(client.input.MessageBody)), &decoded))
	assert.Equal(t, e.ID, decoded.ID)
	assert.Equal(t, TypeChatRequest, aws.ToString(client.input.MessageAttributes["event_type"].StringValue))
}

func TestSQSSinkWrapsErrors(t *testing.T) {
	boom := errors.New("throttled")
	sink := NewSQSSink(&fakeSQS{err: boom}, "q")

	err := sink.Emit(context.Background(), sampleEvent())
	assert.True(t, errors.Is(err, boom))
}

func TestPostgresSinkInsertsAuditRow(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	sink := newPostgresSinkWithExec(mock)
	e := sampleEvent()

	mock.ExpectExec("INSERT INTO audit_events").
		WithArgs(e.ID, e.Type, e.Tenant, e.Action, e.Outcome, e.DurationMS, pgxmock.AnyArg(), e.OccurredAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, sink.Emit(context.Background(), e))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSinkPropagatesErrors(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	sink := newPostgresSinkWithExec(mock)
	mock.ExpectExec("INSERT INTO audit_events").WillReturnError(errors.New("db down"))

	err = sink.Emit(context.Background(), sampleEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert audit event")
}

func TestLogSinkOmitsContent(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(logging.NewWithWriter("info", &buf))

	require.NoError(t, sink.Emit(context.Background(), sampleEvent()))

	line := buf.String()
	assert.Contains(t, line, `"event_type":"chat.request"`)
	assert.Contains(t, line, `"tenant":"a1b2c3d4e5"`)
	assert.NotContains(t, line, "content")
}

type failingSink struct{ err error }

func (f failingSink) Emit(context.Context, Event) error { return f.err }

type recordingSink struct{ events []Event }

func (r *recordingSink) Emit(_ context.Context, e Event) error {
	r.events = append(r.events, e)
	return nil
}

type failureCounter map[string]int

func (f failureCounter) ObserveSinkFailure(sink string) { f[sink]++ }

func TestFanoutContinuesPastFailingSink(t *testing.T) {
	rec := &recordingSink{}
	counter := failureCounter{}
	var buf bytes.Buffer
	fan := NewFanout(counter, logging.NewWithWriter("info", &buf)).
		Add("sqs", failingSink{err: errors.New("queue gone")}).
		Add("memory", rec)

	err := fan.Emit(context.Background(), sampleEvent())

	require.Error(t, err)
	assert.Len(t, rec.events, 1)
	assert.Equal(t, 1, counter["sqs"])
	assert.Equal(t, 2, fan.Len())
	assert.True(t, strings.Contains(buf.String(), "event sink failed"))
}

func TestNewStampsEvent(t *testing.T) {
	before := time.Now().UTC().Add(-time.Second)
	e := New(TypeTurnCompleted)
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, TypeTurnCompleted, e.Type)
	assert.True(t, e.OccurredAt.After(before))
}
