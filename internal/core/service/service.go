// Package service ties the state trees, the component catalog and the
// message writer together behind one API that transports call into. It
// owns the live session table, drives flush cycles and persists session
// checkpoints so clients survive a server restart.
package service

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/treesync/treesync/internal/config"
	"github.com/treesync/treesync/internal/core/component"
	"github.com/treesync/treesync/internal/core/events/bus"
	"github.com/treesync/treesync/internal/core/observability/log"
	"github.com/treesync/treesync/internal/core/session"
	"github.com/treesync/treesync/internal/core/uidl"
	"github.com/treesync/treesync/pkg/concurrent"
)

// DeliverFunc pushes a flushed message to one UI's client. It runs
// under the session lock; implementations should honor their own write
// deadlines. A non-nil error marks the delivery lost and schedules a
// resynchronization, it never fails the flush cycle.
type DeliverFunc func(sess *session.Session, u *session.UI, msg *uidl.Message) error

// Service is the root object of the sync server.
type Service struct {
	cfg       *config.Config
	registry  *component.Registry
	resources uidl.ResourceProvider
	writer    *uidl.Writer
	store     *session.Store
	events    bus.Bus
	log       log.Log

	mu       sync.RWMutex
	sessions map[string]*session.Session
}

// New assembles a service. The store may be nil, in which case sessions
// live only as long as the process; a nil events bus turns lifecycle
// and pending-work notifications off.
func New(cfg *config.Config, registry *component.Registry, resources uidl.ResourceProvider, store *session.Store, events bus.Bus, logger log.Log) *Service {
	if logger == nil {
		logger = log.Nop()
	}
	return &Service{
		cfg:       cfg,
		registry:  registry,
		resources: resources,
		writer:    uidl.NewWriter(cfg, registry, resources, logger),
		store:     store,
		events:    events,
		log:       logger,
		sessions:  make(map[string]*session.Session),
	}
}

// Registry exposes the component catalog for application wiring.
func (s *Service) Registry() *component.Registry { return s.registry }

// Events exposes the notification bus push transports subscribe to.
func (s *Service) Events() bus.Bus { return s.events }

// publish hands an event to the bus, if one is wired. Handler errors
// are diagnostics; the triggering operation has already succeeded.
func (s *Service) publish(typ, sessionID string, ui int) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(bus.NewEvent(typ, sessionID, ui)); err != nil {
		s.log.Warn("event handler failed",
			log.String("event", typ),
			log.String("session", sessionID),
			log.Error(err))
	}
}

// CreateSession starts a fresh session and registers it in the live
// table.
func (s *Service) CreateSession() *session.Session {
	sess := session.New(s.log)
	s.watchPendingWork(sess)

	s.mu.Lock()
	s.sessions[sess.ID()] = sess
	s.mu.Unlock()

	s.log.Info("session created", log.String("session", sess.ID()))
	s.publish(bus.SessionCreated, sess.ID(), 0)
	return sess
}

// watchPendingWork turns unlock-with-work-left into flush.pending
// events. Wired before the session is shared.
func (s *Service) watchPendingWork(sess *session.Session) {
	if s.events == nil {
		return
	}
	sess.OnPendingWork(func(sessionID string, uiID int) {
		s.publish(bus.FlushPending, sessionID, uiID)
	})
}

// ResumeSession brings a checkpointed session back after a restart. The
// restored session knows its sequence counters and everything the
// client already loaded; the first flush resynchronizes the trees.
func (s *Service) ResumeSession(id string) (*session.Session, error) {
	s.mu.RLock()
	live, ok := s.sessions[id]
	s.mu.RUnlock()
	if ok {
		return live, nil
	}
	if s.store == nil {
		return nil, ErrUnknownSession
	}

	cp, found, err := s.store.Load(id)
	if err != nil {
		return nil, errors.Wrapf(err, "resume session %s", id)
	}
	if !found {
		return nil, ErrUnknownSession
	}

	sess := session.NewWithID(id, s.log)
	s.watchPendingWork(sess)
	sess.Lock()
	sess.Restore(cp)
	sess.Unlock()

	s.mu.Lock()
	// A concurrent resume may have won; keep the first one.
	if existing, ok := s.sessions[id]; ok {
		s.mu.Unlock()
		return existing, nil
	}
	s.sessions[id] = sess
	s.mu.Unlock()

	s.log.Info("session resumed", log.String("session", id))
	s.publish(bus.SessionResumed, id, 0)
	return sess, nil
}

// Session looks up a live session.
func (s *Service) Session(id string) (*session.Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrUnknownSession
	}
	return sess, nil
}

// Sessions snapshots the live sessions, oldest first.
func (s *Service) Sessions() []*session.Session {
	s.mu.RLock()
	out := make([]*session.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt().Equal(out[j].CreatedAt()) {
			return out[i].CreatedAt().Before(out[j].CreatedAt())
		}
		return out[i].ID() < out[j].ID()
	})
	return out
}

// CloseSession drops a session and its checkpoint. The record of what
// the client loaded dies with it; a returning client starts over.
func (s *Service) CloseSession(id string) error {
	s.mu.Lock()
	_, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		return ErrUnknownSession
	}

	if s.store != nil {
		if err := s.store.Delete(id); err != nil {
			return errors.Wrapf(err, "drop checkpoint %s", id)
		}
	}
	s.log.Info("session closed", log.String("session", id))
	s.publish(bus.SessionClosed, id, 0)
	return nil
}

// CreateUI instantiates a registered component type as the root of a
// new UI in the given session.
func (s *Service) CreateUI(sessionID, componentName string) (*session.UI, error) {
	sess, err := s.Session(sessionID)
	if err != nil {
		return nil, err
	}
	t, ok := s.registry.Get(componentName)
	if !ok {
		return nil, errors.Wrap(component.ErrUnknownType, componentName)
	}
	if t.Kind == component.KindMixin {
		return nil, errors.Wrap(ErrNotInstantiable, componentName)
	}

	tag := t.Tag
	if tag == "" {
		tag = s.cfg.RootTag
	}

	sess.Lock()
	u := sess.CreateUI(tag, componentName)
	sess.Unlock()
	return u, nil
}

// Flush runs one sync cycle for a single UI and returns the message to
// ship. A pending resynchronization is consumed here; if the write
// fails the flag is re-raised so nothing is lost.
func (s *Service) Flush(sessionID string, uiID int) (*uidl.Message, error) {
	sess, err := s.Session(sessionID)
	if err != nil {
		return nil, err
	}

	sess.Lock()
	defer sess.Unlock()

	u, ok := sess.UI(uiID)
	if !ok {
		return nil, session.ErrUnknownUI
	}
	return s.flushLocked(sess, u)
}

// HandleSync services one client sync request: record which message the
// client last processed, honor a client-requested resynchronization and
// flush. This is the HTTP transport's entry point.
func (s *Service) HandleSync(sessionID string, uiID, clientID int, resync bool) (*uidl.Message, error) {
	sess, err := s.Session(sessionID)
	if err != nil {
		return nil, err
	}
	if resync {
		sess.RequireResync()
	}

	sess.Lock()
	defer sess.Unlock()

	u, ok := sess.UI(uiID)
	if !ok {
		return nil, session.ErrUnknownUI
	}
	u.SetLastProcessedClientID(clientID)
	return s.flushLocked(sess, u)
}

// FlushIfPending flushes a UI only when it has something to send. Push
// transports poll this on their heartbeat; the ok result distinguishes
// "nothing to do" from a produced message.
func (s *Service) FlushIfPending(sessionID string, uiID int) (*uidl.Message, bool, error) {
	sess, err := s.Session(sessionID)
	if err != nil {
		return nil, false, err
	}

	sess.Lock()
	defer sess.Unlock()

	u, ok := sess.UI(uiID)
	if !ok {
		return nil, false, session.ErrUnknownUI
	}
	if !sess.ResyncRequired() && !u.Dirty() && !u.PendingJS() {
		return nil, false, nil
	}
	msg, err := s.flushLocked(sess, u)
	if err != nil {
		return nil, false, err
	}
	return msg, true, nil
}

// flushLocked consumes the resync flag, writes the message and persists
// the checkpoint. Callers hold the session lock.
func (s *Service) flushLocked(sess *session.Session, u *session.UI) (*uidl.Message, error) {
	resync := sess.ConsumeResync()
	msg, err := s.writer.Write(u, resync)
	if err != nil {
		if resync {
			sess.RequireResync()
		}
		return nil, err
	}
	s.saveCheckpoint(sess)
	return msg, nil
}

// FlushAll runs a flush cycle across every live session and hands the
// messages to deliver. Sessions are walked concurrently; within one
// session UIs flush in order under the session lock. Failed deliveries
// schedule a resynchronization and skip the session's remaining UIs,
// the cycle itself keeps going.
func (s *Service) FlushAll(ctx context.Context, deliver DeliverFunc) error {
	return concurrent.ForEach(ctx, s.Sessions(), func(ctx context.Context, sess *session.Session) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		sess.Lock()
		defer sess.Unlock()

		resync := sess.ConsumeResync()
		flushed := false
		for _, u := range sess.UIs() {
			if !resync && !u.Dirty() && !u.PendingJS() {
				continue
			}
			msg, err := s.writer.Write(u, resync)
			if err != nil {
				s.log.Error("flush failed",
					log.String("session", sess.ID()),
					log.Int("ui", u.ID()),
					log.Error(err))
				if resync {
					sess.RequireResync()
				}
				continue
			}
			flushed = true
			if err := deliver(sess, u, msg); err != nil {
				s.log.Warn("delivery failed, resynchronization scheduled",
					log.String("session", sess.ID()),
					log.Int("ui", u.ID()),
					log.Error(err))
				sess.RequireResync()
				break
			}
		}
		if flushed {
			s.saveCheckpoint(sess)
		}
		return nil
	})
}

// SessionStats is a point-in-time view of one session for operators.
type SessionStats struct {
	ID             string `json:"id"`
	UIs            int    `json:"uis"`
	PendingDeps    int    `json:"pendingDependencies"`
	SentDeps       int    `json:"sentDependencies"`
	ResyncRequired bool   `json:"resyncRequired"`
}

// Stats gathers per-session statistics concurrently.
func (s *Service) Stats(ctx context.Context) ([]SessionStats, error) {
	return concurrent.Map(ctx, s.Sessions(), func(_ context.Context, sess *session.Session) (SessionStats, error) {
		sess.Lock()
		defer sess.Unlock()
		return SessionStats{
			ID:             sess.ID(),
			UIs:            len(sess.UIs()),
			PendingDeps:    len(sess.Dependencies().Pending()),
			SentDeps:       sess.Dependencies().Len(),
			ResyncRequired: sess.ResyncRequired(),
		}, nil
	})
}

// Shutdown checkpoints every live session and closes the store. Safe to
// call with no store configured.
func (s *Service) Shutdown(ctx context.Context) error {
	if s.store == nil {
		return nil
	}

	err := concurrent.ForEachLimit(ctx, s.Sessions(), 8, func(_ context.Context, sess *session.Session) error {
		sess.Lock()
		cp := sess.Checkpoint()
		sess.Unlock()
		return s.store.Save(cp)
	})
	if err != nil {
		s.log.Error("checkpointing on shutdown failed", log.Error(err))
	}

	if cerr := s.store.Close(); cerr != nil {
		return errors.Wrap(cerr, "close session store")
	}
	return err
}

// saveCheckpoint persists the session if a store is configured. Callers
// hold the session lock. Persistence failures are reported but never
// fail a flush, the client still gets its message.
func (s *Service) saveCheckpoint(sess *session.Session) {
	if s.store == nil {
		return
	}
	if err := s.store.Save(sess.Checkpoint()); err != nil {
		s.log.Error("checkpoint save failed",
			log.String("session", sess.ID()),
			log.Error(err))
	}
}
