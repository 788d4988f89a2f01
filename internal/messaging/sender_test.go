package messaging

import (
	"context"
	"errors"
	"testing"

	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/wolfman30/receptionist-relay/internal/channel"
	"github.com/wolfman30/receptionist-relay/internal/messaging/telnyxclient"
)

type fakeTwilioAPI struct {
	params *twilioApi.CreateMessageParams
	sid    string
	err    error
}

func (f *fakeTwilioAPI) CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error) {
	f.params = params
	if f.err != nil {
		return nil, f.err
	}
	sid := f.sid
	return &twilioApi.ApiV2010Message{Sid: &sid}, nil
}

func TestTwilioSenderSend(t *testing.T) {
	api := &fakeTwilioAPI{sid: "SMout1"}
	sender := newTwilioSenderWithAPI(api, "+15550000000", nil, nil)

	id, err := sender.Send(context.Background(), OutboundSMS{From: "+15559876543", To: "+15551234567", Body: "Hello"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if id != "SMout1" {
		t.Fatalf("unexpected id %q", id)
	}
	if *api.params.From != "+15559876543" || *api.params.To != "+15551234567" || *api.params.Body != "Hello" {
		t.Fatalf("unexpected params %+v", api.params)
	}

	if _, err := sender.Send(context.Background(), OutboundSMS{To: "+15551234567", Body: "  "}); err == nil {
		t.Fatal("expected body validation error")
	}

	api.err = errors.New("20003 auth")
	if _, err := sender.Send(context.Background(), OutboundSMS{To: "+15551234567", Body: "x"}); err == nil {
		t.Fatal("expected send error")
	}
	if *api.params.From != "+15550000000" {
		t.Fatalf("expected default from, got %s", *api.params.From)
	}
}

type fakeTelnyxAPI struct {
	req  telnyxclient.SendMessageRequest
	resp *telnyxclient.MessageResponse
	err  error
}

func (f *fakeTelnyxAPI) SendMessage(_ context.Context, req telnyxclient.SendMessageRequest) (*telnyxclient.MessageResponse, error) {
	f.req = req
	return f.resp, f.err
}

func TestTelnyxSenderSend(t *testing.T) {
	api := &fakeTelnyxAPI{resp: &telnyxclient.MessageResponse{ID: "msg_out"}}
	sender := NewTelnyxSender(api, "profile_1", nil, nil)

	id, err := sender.Send(context.Background(), OutboundSMS{From: "+15559876543", To: "+15551234567", Body: "Hello"})
	if err != nil || id != "msg_out" {
		t.Fatalf("send: %q %v", id, err)
	}
	if api.req.MessagingProfileID != "profile_1" || api.req.Body != "Hello" {
		t.Fatalf("unexpected request %#v", api.req)
	}

	api.resp = &telnyxclient.MessageResponse{}
	if _, err := sender.Send(context.Background(), OutboundSMS{From: "+1", To: "+2", Body: "x"}); err == nil {
		t.Fatal("expected missing id error")
	}
}

type stubSender struct {
	id    string
	err   error
	calls int
}

func (s *stubSender) Send(context.Context, OutboundSMS) (string, error) {
	s.calls++
	return s.id, s.err
}

func TestFailoverSender(t *testing.T) {
	primary := &stubSender{err: errors.New("primary down")}
	secondary := &stubSender{id: "fallback-id"}
	f := NewFailoverSender(primary, "telnyx", secondary, "twilio", nil)

	id, err := f.Send(context.Background(), OutboundSMS{To: "+15551234567", Body: "hi"})
	if err != nil || id != "fallback-id" {
		t.Fatalf("expected fallback, got %q %v", id, err)
	}

	secondary.err = errors.New("secondary down")
	if _, err := f.Send(context.Background(), OutboundSMS{To: "+15551234567", Body: "hi"}); err == nil {
		t.Fatal("expected combined failure")
	}

	ok := &stubSender{id: "primary-id"}
	if id, _ := NewFailoverSender(ok, "telnyx", secondary, "twilio", nil).Send(context.Background(), OutboundSMS{}); id != "primary-id" {
		t.Fatalf("expected primary id, got %q", id)
	}
}

func TestRouterPicksTransport(t *testing.T) {
	twilio := &stubSender{id: "tw"}
	telnyx := &stubSender{id: "tx"}
	r := NewRouter(map[channel.Transport]Sender{channel.Twilio: twilio}, telnyx)

	if id, _ := r.Send(context.Background(), OutboundSMS{Transport: channel.Twilio}); id != "tw" {
		t.Fatalf("expected twilio, got %q", id)
	}
	if id, _ := r.Send(context.Background(), OutboundSMS{Transport: channel.Telnyx}); id != "tx" {
		t.Fatalf("expected fallback, got %q", id)
	}
	if _, err := NewRouter(nil, nil).Send(context.Background(), OutboundSMS{}); err == nil {
		t.Fatal("expected error without senders")
	}
}

func TestBuildSender(t *testing.T) {
	if sender, _, reason := BuildSender(ProviderSelectionConfig{}, nil); sender != nil || reason == "" {
		t.Fatalf("expected no sender with reason, got %v %q", sender, reason)
	}

	sender, selected, _ := BuildSender(ProviderSelectionConfig{TwilioAccountSID: "AC1", TwilioAuthToken: "tok"}, nil)
	if sender == nil || selected != SMSProviderTwilio {
		t.Fatalf("expected twilio, got %q", selected)
	}

	_, selected, _ = BuildSender(ProviderSelectionConfig{TwilioAccountSID: "AC1", TwilioAuthToken: "tok", TelnyxAPIKey: "key"}, nil)
	if selected != "telnyx+twilio" {
		t.Fatalf("expected failover selection, got %q", selected)
	}

	if _, _, reason := BuildSender(ProviderSelectionConfig{Preference: "telnyx", TwilioAccountSID: "AC1", TwilioAuthToken: "tok"}, nil); reason == "" {
		t.Fatal("expected missing telnyx reason")
	}
}

func TestDisabledSender(t *testing.T) {
	if _, err := (DisabledSender{Reason: "none"}).Send(context.Background(), OutboundSMS{}); !errors.Is(err, ErrNoSender) {
		t.Fatalf("expected ErrNoSender, got %v", err)
	}
}
