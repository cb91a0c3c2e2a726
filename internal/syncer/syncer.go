// Package syncer drives the per-user sync pipeline: resolve the target
// calendar and stored credential, discover remote containers, then pull
// pages of events through normalization into the reconciler.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"notionflow/internal/models"
	"notionflow/internal/store"
)

const (
	// Batch size for reconciler writes. Small batches bound memory and
	// amortize datastore round trips.
	defaultBatchSize = 10

	// Events synced inline before the remainder is handed to a background
	// continuation, keeping the caller's request fast on first sync.
	defaultInitialCap = 50

	// Consecutive failed syncs before a connection is disabled.
	failureThreshold = 3

	backgroundTimeout = 5 * time.Minute
)

var (
	// ErrNoCalendar means the user has no calendar to sync into.
	ErrNoCalendar = errors.New("no calendar selected")

	// ErrNotConnected means the platform has no enabled credential.
	ErrNotConnected = errors.New("platform not connected")
)

// Options configures a sync service.
type Options struct {
	Store      store.Store
	Registry   *Registry
	Logger     *slog.Logger
	DryRun     bool
	BatchSize  int
	InitialCap int
}

// Service is the per-user sync entry point.
type Service struct {
	store      store.Store
	registry   *Registry
	logger     *slog.Logger
	reconciler *Reconciler
	batchSize  int
	initialCap int

	bg sync.WaitGroup
}

func NewService(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	initialCap := opts.InitialCap
	if initialCap <= 0 {
		initialCap = defaultInitialCap
	}
	return &Service{
		store:      opts.Store,
		registry:   opts.Registry,
		logger:     logger,
		reconciler: NewReconciler(opts.Store, logger, opts.DryRun),
		batchSize:  batchSize,
		initialCap: initialCap,
	}
}

// SyncToCalendar syncs one platform for one user into the given calendar,
// or into the user's first active calendar when calendarID is empty.
//
// The method never panics or returns an error to the caller: every failure
// inside the pipeline comes back as a SyncResult with Success false.
// Partial progress already written to the datastore is kept.
func (s *Service) SyncToCalendar(ctx context.Context, userID string, platform models.Platform, calendarID string) (result models.SyncResult) {
	started := time.Now()
	log := s.logger.With("user_id", userID, "platform", platform)

	var cred *models.SyncCredential
	defer func() {
		if r := recover(); r != nil {
			log.Error("sync panicked", "panic", r)
			result = models.SyncResult{CalendarID: calendarID, Error: fmt.Sprintf("sync failed: %v", r)}
			// A panicking pipeline is a failed attempt like any other and
			// counts toward the disable threshold.
			if cred != nil {
				s.recordOutcome(ctx, log, cred, false)
			}
		}
		result.Duration = time.Since(started)
	}()

	if calendarID == "" {
		calendars, err := s.store.ActiveCalendars(ctx, userID)
		if err != nil {
			return models.SyncResult{Error: fmt.Sprintf("resolve calendar: %v", err)}
		}
		if len(calendars) == 0 {
			return models.SyncResult{Error: ErrNoCalendar.Error()}
		}
		calendarID = calendars[0].ID
	}

	loaded, err := s.store.Credential(ctx, userID, platform)
	if errors.Is(err, store.ErrNotFound) {
		return models.SyncResult{CalendarID: calendarID, Error: ErrNotConnected.Error()}
	}
	if err != nil {
		return models.SyncResult{CalendarID: calendarID, Error: fmt.Sprintf("load credential: %v", err)}
	}
	if !loaded.Enabled {
		return models.SyncResult{CalendarID: calendarID, Error: ErrNotConnected.Error()}
	}
	cred = loaded

	result = s.runPipeline(ctx, log, cred, calendarID)
	s.recordOutcome(ctx, log, cred, result.Success)
	return result
}

// resumePoint marks where the foreground pass stopped when the initial
// load cap was hit. Leftover holds already-fetched events of the capped
// page; ContainerIdx/Cursor say where fetching resumes.
type resumePoint struct {
	containerIdx int
	cursor       string
	leftover     []*models.CanonicalEvent
}

func (s *Service) runPipeline(ctx context.Context, log *slog.Logger, cred *models.SyncCredential, calendarID string) models.SyncResult {
	provider, err := s.registry.Build(ctx, log, cred)
	if err != nil {
		return models.SyncResult{CalendarID: calendarID, Error: fmt.Sprintf("build provider: %v", err)}
	}

	containers, err := provider.Containers(ctx)
	if err != nil {
		// The credential already checked out, so a discovery error is a
		// transient remote outage. Treat it like an empty account and let
		// the next attempt pick the events up; only credential and
		// provider construction errors count toward disabling.
		log.Warn("container discovery failed, treating as empty", "error", err)
		return models.SyncResult{Success: true, CalendarID: calendarID}
	}
	if len(containers) == 0 {
		// Nothing to sync is a valid outcome, distinct from misconfiguration.
		log.Info("no calendar-like containers found")
		return models.SyncResult{Success: true, CalendarID: calendarID}
	}

	var (
		userID   = cred.UserID
		platform = cred.Platform
		synced   int
		total    int
		pending  []*models.CanonicalEvent
		capped   bool
		resume   resumePoint
	)
	flush := func() {
		synced += s.reconciler.Persist(ctx, userID, platform, calendarID, pending)
		pending = pending[:0]
	}

outer:
	for idx, container := range containers {
		cursor := ""
		for {
			events, next, err := provider.Events(ctx, container, cursor)
			if err != nil {
				// A failing container degrades to zero items; the rest of
				// the sync carries on.
				log.Warn("container fetch failed, skipping",
					"container", container.Title, "error", err)
				break
			}
			for i, ev := range events {
				pending = append(pending, ev)
				total++
				if len(pending) >= s.batchSize {
					flush()
				}
				if total >= s.initialCap {
					capped = true
					resume = resumePoint{containerIdx: idx, cursor: next, leftover: events[i+1:]}
					if next == "" {
						resume.containerIdx = idx + 1
					}
					break outer
				}
			}
			if next == "" {
				break
			}
			cursor = next
		}
	}
	flush()

	remainder := len(resume.leftover) > 0 || resume.cursor != "" || resume.containerIdx < len(containers)
	if capped && remainder {
		log.Info("initial load cap reached, continuing in background",
			"cap", s.initialCap, "synced", synced)
		s.continueInBackground(provider, containers, resume, userID, platform, calendarID)
	}

	return models.SyncResult{
		Success:      true,
		SyncedEvents: synced,
		TotalEvents:  total,
		CalendarID:   calendarID,
	}
}

// continueInBackground syncs everything past the initial cap without
// blocking the caller. The continuation is best effort: it is tracked by
// Wait for orderly shutdown, but a process restart before it finishes
// loses the remainder until the next sync.
func (s *Service) continueInBackground(provider Provider, containers []models.RemoteContainer, resume resumePoint, userID string, platform models.Platform, calendarID string) {
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("background continuation panicked", "panic", r)
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), backgroundTimeout)
		defer cancel()

		synced, total := s.drain(ctx, provider, containers, resume, userID, platform, calendarID)
		s.logger.Info("background continuation finished",
			"user_id", userID, "platform", platform, "synced", synced, "total", total)
	}()
}

func (s *Service) drain(ctx context.Context, provider Provider, containers []models.RemoteContainer, resume resumePoint, userID string, platform models.Platform, calendarID string) (synced, total int) {
	var pending []*models.CanonicalEvent
	flush := func() {
		synced += s.reconciler.Persist(ctx, userID, platform, calendarID, pending)
		pending = pending[:0]
	}
	emit := func(ev *models.CanonicalEvent) {
		pending = append(pending, ev)
		total++
		if len(pending) >= s.batchSize {
			flush()
		}
	}

	for _, ev := range resume.leftover {
		emit(ev)
	}
	for idx := resume.containerIdx; idx < len(containers); idx++ {
		cursor := ""
		if idx == resume.containerIdx {
			cursor = resume.cursor
		}
		for {
			events, next, err := provider.Events(ctx, containers[idx], cursor)
			if err != nil {
				s.logger.Warn("background container fetch failed, skipping",
					"container", containers[idx].Title, "error", err)
				break
			}
			for _, ev := range events {
				emit(ev)
			}
			if next == "" {
				break
			}
			cursor = next
		}
	}
	flush()
	return synced, total
}

// recordOutcome applies the consecutive-failure policy after every attempt:
// success resets the counter and stamps the sync time; a failure increments
// it, and the connection is disabled once the threshold is reached.
func (s *Service) recordOutcome(ctx context.Context, log *slog.Logger, cred *models.SyncCredential, success bool) {
	if s.reconciler.dryRun {
		return
	}
	if success {
		cred.ConsecutiveFailures = 0
		cred.LastSyncedAt = time.Now().UTC()
	} else {
		cred.ConsecutiveFailures++
		if cred.ConsecutiveFailures >= failureThreshold && cred.Enabled {
			cred.Enabled = false
			log.Warn("disabling connection after repeated failures",
				"failures", cred.ConsecutiveFailures)
		}
	}
	if err := s.store.SaveCredential(ctx, cred); err != nil {
		log.Error("failed to record sync outcome", "error", err)
	}
}

// Wait blocks until all background continuations have finished.
func (s *Service) Wait() {
	s.bg.Wait()
}
