package voice

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/ashureev/onboarding-voice/internal/backend"
)

type fakeClient struct {
	mu         sync.Mutex
	events     chan Event
	starts     []SessionConfig
	startErr   error
	externalID string
	endCalls   int
	endErr     error
	sent       []string
	activity   int
	speaking   bool
}

func newFakeClient() *fakeClient {
	return &fakeClient{events: make(chan Event, 16), externalID: "el-1"}
}

func (f *fakeClient) StartSession(_ context.Context, cfg SessionConfig) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts = append(f.starts, cfg)
	if f.startErr != nil {
		return "", f.startErr
	}
	return f.externalID, nil
}

func (f *fakeClient) EndSession(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.endCalls++
	return f.endErr
}

func (f *fakeClient) SendUserMessage(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeClient) SendUserActivity(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activity++
	return nil
}

func (f *fakeClient) IsSpeaking() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.speaking
}

func (f *fakeClient) Events() <-chan Event {
	return f.events
}

func (f *fakeClient) startConfigs() []SessionConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SessionConfig(nil), f.starts...)
}

func (f *fakeClient) ends() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.endCalls
}

type fakeBackend struct {
	mu          sync.Mutex
	initResp    *backend.InitializeSessionResponse
	initErr     error
	initCalls   int
	completeErr error
	completes   int
	linkErr     error
	links       []string
	questions   []backend.QuestionRequest
	questionErr error
	questionMsg string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{initResp: &backend.InitializeSessionResponse{
		ConversationID: "c1",
		AgentConfig:    backend.AgentConfig{AgentID: "a1"},
	}}
}

func (f *fakeBackend) InitializeSession(context.Context, string) (*backend.InitializeSessionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initCalls++
	if f.initErr != nil {
		return nil, f.initErr
	}
	return f.initResp, nil
}

func (f *fakeBackend) CompleteSession(_ context.Context, _, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completes++
	return f.completeErr
}

func (f *fakeBackend) LinkExternal(_ context.Context, _, externalID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.links = append(f.links, externalID)
	return f.linkErr
}

func (f *fakeBackend) SubmitQuestion(_ context.Context, _ string, q backend.QuestionRequest) (*backend.QuestionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.questions = append(f.questions, q)
	if f.questionErr != nil {
		return nil, f.questionErr
	}
	return &backend.QuestionResponse{Message: f.questionMsg}, nil
}

func (f *fakeBackend) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.initCalls + f.completes + len(f.links) + len(f.questions)
}

type fakeSigner struct {
	url   string
	err   error
	calls int
}

func (f *fakeSigner) SignedURL(context.Context) (string, error) {
	f.calls++
	return f.url, f.err
}

type recordingListener struct {
	mu      sync.Mutex
	alerts  []Alert
	updates int
}

func (r *recordingListener) OnUpdate(Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates++
}

func (r *recordingListener) OnAlert(a Alert) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
}

func (r *recordingListener) alertKinds() []AlertKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]AlertKind, 0, len(r.alerts))
	for _, a := range r.alerts {
		kinds = append(kinds, a.Kind)
	}
	return kinds
}

var errProxy = errors.New("proxy returned 500")

func granted() Microphone {
	return MicrophoneFunc(func(context.Context) error { return nil })
}

func denied() Microphone {
	return MicrophoneFunc(func(context.Context) error { return ErrMicrophoneDenied })
}

func messageEvent(v any) Event {
	data, _ := json.Marshal(v)
	return Event{Kind: EventMessage, Payload: data}
}
