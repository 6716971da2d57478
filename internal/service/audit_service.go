package service

import (
	"context"
	"sync"
	"time"

	"marketplace-escrow/internal/core/domain"
	"marketplace-escrow/internal/core/ports"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const auditWriteTimeout = 5 * time.Second

// AuditServiceImpl writes audit entries off the request path. Every entry
// is logged; it is also persisted when a repository is configured.
type AuditServiceImpl struct {
	repo ports.AuditRepository
	log  zerolog.Logger
	wg   sync.WaitGroup
}

func NewAuditService(repo ports.AuditRepository, log zerolog.Logger) *AuditServiceImpl {
	return &AuditServiceImpl{repo: repo, log: log}
}

// Log never blocks the caller and never fails the audited request.
func (s *AuditServiceImpl) Log(ctx context.Context, entry *domain.AuditLog) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.write(context.WithoutCancel(ctx), entry)
	}()
}

func (s *AuditServiceImpl) write(ctx context.Context, entry *domain.AuditLog) {
	ev := s.log.Info().
		Str("audit_id", entry.ID.String()).
		Str("action", string(entry.Action)).
		Str("resource", entry.ResourceType+"/"+entry.ResourceID).
		Str("ip", entry.IPAddress)
	if entry.ActorID != nil {
		ev = ev.Str("actor_id", entry.ActorID.String()).Str("actor_role", string(entry.ActorRole))
	}
	ev.Msg("audit")

	if s.repo == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, auditWriteTimeout)
	defer cancel()
	if err := s.repo.Create(ctx, entry); err != nil {
		s.log.Warn().Err(err).
			Str("audit_id", entry.ID.String()).
			Str("action", string(entry.Action)).
			Msg("audit entry not persisted")
	}
}

// Wait blocks until queued entries are written or ctx ends.
func (s *AuditServiceImpl) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
