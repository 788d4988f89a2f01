package calls

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

type recordingStarter struct {
	mu   sync.Mutex
	reqs []Request
	err  error
	done chan struct{}
}

func (r *recordingStarter) Start(_ context.Context, req Request) (*Result, error) {
	r.mu.Lock()
	r.reqs = append(r.reqs, req)
	r.mu.Unlock()
	if r.done != nil {
		r.done <- struct{}{}
	}
	return &Result{InteractionID: "it_1"}, r.err
}

func TestPublisherAndWorkerRoundTrip(t *testing.T) {
	queue := NewMemoryQueue(4)
	starter := &recordingStarter{done: make(chan struct{}, 1)}
	worker := NewWorker(starter, queue, nil, WithWorkerCount(1), WithReceiveWaitSeconds(1))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	worker.Start(ctx)

	if err := NewPublisher(queue, nil).Enqueue(ctx, "chat", "it_9", Request{Phone: "+15551234567", TenantSlug: "acme"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	select {
	case <-starter.done:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for job")
	}
	cancel()
	worker.Wait()

	if len(starter.reqs) != 1 || starter.reqs[0].TenantSlug != "acme" {
		t.Fatalf("unexpected requests %#v", starter.reqs)
	}
}

func TestProcessMalformedJob(t *testing.T) {
	w := NewWorker(&recordingStarter{}, NewMemoryQueue(1), nil)
	err := w.Process(context.Background(), "{not json")
	if !errors.Is(err, ErrMalformedJob) {
		t.Fatalf("expected malformed job, got %v", err)
	}
	if Retryable(err) {
		t.Fatal("malformed jobs are not retryable")
	}
}

func TestRetryable(t *testing.T) {
	if Retryable(ErrInvalidPhone) || Retryable(ErrChannelUnavailable) || Retryable(ErrChannelMisconfigured) {
		t.Fatal("validation errors are permanent")
	}
	if !Retryable(errors.New("retell 503")) {
		t.Fatal("provider errors should retry")
	}
}

func TestMemoryQueueReceiveTimeout(t *testing.T) {
	q := NewMemoryQueue(1)
	msgs, err := q.Receive(context.Background(), 1, 1)
	if err != nil || msgs != nil {
		t.Fatalf("expected empty receive, got %v %v", msgs, err)
	}
}

type fakeSQS struct {
	sent    []string
	deleted []string
}

func (f *fakeSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.sent = append(f.sent, aws.ToString(in.MessageBody))
	return &sqs.SendMessageOutput{MessageId: aws.String("m1")}, nil
}

func (f *fakeSQS) ReceiveMessage(context.Context, *sqs.ReceiveMessageInput, ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	out := &sqs.ReceiveMessageOutput{}
	for i, body := range f.sent {
		out.Messages = append(out.Messages, sqstypes.Message{
			MessageId:     aws.String("m1"),
			Body:          aws.String(body),
			ReceiptHandle: aws.String("rh" + string(rune('0'+i))),
		})
	}
	return out, nil
}

func (f *fakeSQS) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.deleted = append(f.deleted, aws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func TestSQSQueue(t *testing.T) {
	api := &fakeSQS{}
	q := NewSQSQueue(api, "https://sqs.us-east-1.amazonaws.com/123/calls")
	ctx := context.Background()

	if err := q.Send(ctx, `{"id":"j1"}`); err != nil {
		t.Fatalf("send: %v", err)
	}
	msgs, err := q.Receive(ctx, 5, 0)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Body != `{"id":"j1"}` || msgs[0].ReceiptHandle != "rh0" {
		t.Fatalf("unexpected messages %#v", msgs)
	}
	if err := q.Delete(ctx, "rh0"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := q.Delete(ctx, ""); err != nil {
		t.Fatalf("empty delete: %v", err)
	}
	if len(api.deleted) != 1 {
		t.Fatalf("expected one delete, got %#v", api.deleted)
	}
}
