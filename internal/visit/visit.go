// Package visit owns the per-connection application state of a join page
// visit and the registry that keeps one live visit per session token.
package visit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/onboarding-voice/internal/domain"
	"github.com/ashureev/onboarding-voice/internal/transcript"
	"github.com/ashureev/onboarding-voice/internal/voice"
	"github.com/google/uuid"
)

// AudioClient is a voice client that also relays raw audio.
type AudioClient interface {
	voice.Client
	SendAudio(ctx context.Context, chunk []byte) error
	Audio() <-chan []byte
	Close() error
}

// Backend is everything a visit needs from the onboarding API.
type Backend interface {
	voice.Backend
	transcript.Mirror
}

// Deps builds visits.
type Deps struct {
	Backend        Backend
	SignedURLs     voice.SignedURLSource
	Journal        transcript.Journal
	JournalQueue   int
	NewClient      func() AudioClient
	ConnectTimeout time.Duration
	Logger         *slog.Logger
}

// Visit is the application state for one join page connection: the
// validated session, the language toggle, the message log and the
// controller.
type Visit struct {
	ID         string
	Session    domain.Session
	Controller *voice.Controller
	Client     AudioClient

	log    *transcript.Log
	logger *slog.Logger
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// New creates a visit and starts its event loop. Close releases it.
func (d Deps) New(session domain.Session, listener voice.Listener) *Visit {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	id := uuid.NewString()
	logger = logger.With("visit_id", id)

	opts := []transcript.Option{transcript.WithLogger(logger)}
	if d.Journal != nil {
		opts = append(opts, transcript.WithJournal(d.Journal, session.SessionID, id, d.JournalQueue))
	}
	log := transcript.New(d.Backend, opts...)

	client := d.NewClient()
	ctrl := voice.NewController(voice.ControllerConfig{
		Session:        session,
		Log:            log,
		Backend:        d.Backend,
		SignedURLs:     d.SignedURLs,
		Client:         client,
		Listener:       listener,
		Logger:         logger,
		ConnectTimeout: d.ConnectTimeout,
	})

	ctx, cancel := context.WithCancel(context.Background())
	v := &Visit{
		ID:         id,
		Session:    session,
		Controller: ctrl,
		Client:     client,
		log:        log,
		logger:     logger,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	go ctrl.Run(ctx)

	logger.Info("Visit created", "session_token", session.SessionID, "valid", session.Valid)
	return v
}

// Token returns the session token the visit belongs to.
func (v *Visit) Token() string {
	return v.Session.SessionID
}

// Done is closed when the visit has been torn down.
func (v *Visit) Done() <-chan struct{} {
	return v.done
}

// Close tears the visit down: the external session is closed, pending
// journal writes are flushed and the event loop stops. A backend
// conversation left active is not completed. Safe to call repeatedly.
func (v *Visit) Close() {
	v.once.Do(func() {
		v.Controller.Close()
		if err := v.Client.Close(); err != nil {
			v.logger.Warn("Failed to close voice client", "error", err)
		}
		v.cancel()
		if err := v.log.Close(); err != nil {
			v.logger.Warn("Failed to close message log", "error", err)
		}
		close(v.done)
		v.logger.Info("Visit closed", "session_token", v.Session.SessionID, "messages", v.log.Len())
	})
}
