package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/frontrow/suitesync/internal/errors"
	"github.com/frontrow/suitesync/internal/metrics"
	"github.com/frontrow/suitesync/internal/model"
	"github.com/frontrow/suitesync/internal/notify"
	"github.com/frontrow/suitesync/internal/remote"
)

// InviteLinkPrefix is the deep-link scheme for invitation codes.
const InviteLinkPrefix = "app://invite/"

// ConcertSyncer is the slice of the concert repository the engine drives.
// The repository is injected after construction to break the cycle between
// the two components.
type ConcertSyncer interface {
	// Reconcile merges a freshly fetched remote concert set into the
	// local authoritative copy.
	Reconcile(ctx context.Context, remoteConcerts []*model.Concert) error
	// MigrateUnshared moves personal concerts into the suite and returns
	// their ids.
	MigrateUnshared(ctx context.Context, suiteID string) ([]int, error)
	// UnshareAll strips the suite association but keeps local copies.
	UnshareAll(ctx context.Context) error
	// ClearShared drops all local concerts belonging to the suite.
	ClearShared(ctx context.Context, reason string) error
	// PushAll pushes every local suite concert to the remote store.
	PushAll(ctx context.Context) error
}

// Permission gates as pure functions of (isShared, role). Personal,
// unshared data is always editable by its owner; member management only
// exists for shared suites.

// CanModifySeats reports whether seats may be edited.
func CanModifySeats(isShared bool, role model.Role) bool {
	return !isShared || role.CanModifySeats()
}

// CanManageMembers reports whether members may be invited or removed.
func CanManageMembers(isShared bool, role model.Role) bool {
	return isShared && role.CanManageMembers()
}

// CanDeleteConcerts reports whether concerts may be deleted.
func CanDeleteConcerts(isShared bool, role model.Role) bool {
	return !isShared || role.CanDeleteConcerts()
}

// SyncService orchestrates the suite lifecycle: create/join/leave/delete,
// membership and role state, reconciliation, and the wiring between the
// token service, conflict resolver, and offline queue. All remote
// consistency lives here and in its collaborators; the record store is
// passive.
type SyncService struct {
	store     remote.Store
	tokens    *TokenService
	queue     *OfflineQueue
	publisher notify.Publisher
	logger    *zap.Logger
	metrics   *metrics.Metrics

	userID   string
	userName string

	retry     RetryPolicy
	opTimeout time.Duration

	mu            sync.Mutex
	currentSuite  *model.SuiteInfo
	role          model.Role
	syncing       bool
	offline       bool
	noticeRaised  bool
	concerts      ConcertSyncer
	onSuiteDelete func(suiteID string)

	now func() time.Time
}

// NewSyncService creates the engine. The concert syncer is attached later
// with SetConcertSyncer.
func NewSyncService(
	store remote.Store,
	tokens *TokenService,
	queue *OfflineQueue,
	publisher notify.Publisher,
	userID, userName string,
	logger *zap.Logger,
	m *metrics.Metrics,
) *SyncService {
	return &SyncService{
		store:     store,
		tokens:    tokens,
		queue:     queue,
		publisher: publisher,
		userID:    userID,
		userName:  userName,
		logger:    logger,
		metrics:   m,
		retry:     DefaultRetryPolicy,
		role:      model.RoleViewer,
		now:       time.Now,
	}
}

// SetRemoteRetry configures the backoff policy and per-operation timeout
// applied to every remote store call. Called once at wiring time.
func (s *SyncService) SetRemoteRetry(policy RetryPolicy, opTimeout time.Duration) {
	if policy.MaxAttempts > 0 {
		s.retry = policy
	}
	s.opTimeout = opTimeout
}

// SetConcertSyncer attaches the concert repository (called after
// construction to avoid a circular dependency).
func (s *SyncService) SetConcertSyncer(cs ConcertSyncer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.concerts = cs
}

// SetSuiteDeletionHandler registers the one-time notice raised when the
// suite is found deleted by its owner.
func (s *SyncService) SetSuiteDeletionHandler(fn func(suiteID string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onSuiteDelete = fn
}

// UserID returns the stable device identity.
func (s *SyncService) UserID() string { return s.userID }

// CurrentSuite returns a copy of the current suite, or nil.
func (s *SyncService) CurrentSuite() *model.SuiteInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.currentSuite == nil {
		return nil
	}
	return s.currentSuite.Clone()
}

// Role returns the current user's derived role.
func (s *SyncService) Role() model.Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role
}

// IsShared reports whether the device is currently in a shared suite.
func (s *SyncService) IsShared() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentSuite != nil
}

// IsSyncing reports whether a sync pass is in flight.
func (s *SyncService) IsSyncing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.syncing
}

// IsOffline reports whether the last remote operation failed for a
// transient reason.
func (s *SyncService) IsOffline() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offline
}

// Gate methods over the current state.

func (s *SyncService) CanModifySeatsNow() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return CanModifySeats(s.currentSuite != nil, s.role)
}

func (s *SyncService) CanManageMembersNow() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return CanManageMembers(s.currentSuite != nil, s.role)
}

func (s *SyncService) CanDeleteConcertsNow() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return CanDeleteConcerts(s.currentSuite != nil, s.role)
}

// CreateSuite builds a new suite with this user as owner and sole member,
// persists it remotely, and migrates any pre-existing personal concerts
// into the suite. A transient remote failure leaves the suite active
// locally and queues the create for replay.
func (s *SyncService) CreateSuite(ctx context.Context, name, venue string) (*model.SuiteInfo, error) {
	now := s.now()
	suite := &model.SuiteInfo{
		SuiteID:      uuid.New().String(),
		Name:         name,
		Venue:        venue,
		OwnerID:      s.userID,
		CreatedDate:  now,
		LastModified: now,
		Members: []model.SuiteMember{{
			UserID:      s.userID,
			DisplayName: s.userName,
			Role:        model.RoleOwner,
			JoinedDate:  now,
			LastActive:  now,
		}},
	}

	s.mu.Lock()
	concerts := s.concerts
	s.mu.Unlock()

	if concerts != nil {
		ids, err := concerts.MigrateUnshared(ctx, suite.SuiteID)
		if err != nil {
			return nil, fmt.Errorf("failed to migrate local concerts: %w", err)
		}
		for _, id := range ids {
			suite.AddConcertID(id)
		}
	}

	if err := s.saveSuite(ctx, suite); err != nil {
		if !s.queue.Classify(err) {
			return nil, err
		}
		s.setOffline(true)
		if qErr := s.enqueueSuiteOp(model.OpCreateSuite, suite); qErr != nil {
			return nil, qErr
		}
	} else {
		s.setOffline(false)
	}

	s.setSuite(suite)

	if concerts != nil {
		if err := concerts.PushAll(ctx); err != nil {
			s.logger.Warn("Initial concert push failed after suite creation",
				zap.String("suite_id", suite.SuiteID),
				zap.Error(err))
		}
	}

	s.publishChange(ctx, suite.SuiteID)
	s.logger.Info("Suite created",
		zap.String("suite_id", suite.SuiteID),
		zap.String("name", name),
		zap.String("venue", venue))
	return suite.Clone(), nil
}

// JoinSuite adds this user to the suite's member list. Rejoining a suite
// the user already belongs to is an idempotent state refresh. Membership
// is written with a fetch-modify-save pattern (re-fetch immediately before
// the write) to shrink the lost-update window on the shared member list; a
// permission failure on that write is tolerated - the join still succeeds
// locally.
func (s *SyncService) JoinSuite(ctx context.Context, suiteID string, asRole model.Role) error {
	suite, err := s.fetchSuite(ctx, suiteID)
	if err != nil {
		return err
	}

	if suite.IsMember(s.userID) {
		s.setSuite(suite)
		s.logger.Info("Already a suite member, state refreshed",
			zap.String("suite_id", suiteID))
		return s.pullConcerts(ctx, suiteID)
	}

	if !asRole.Valid() || asRole == model.RoleOwner {
		asRole = model.RoleViewer
	}

	// Re-fetch immediately before writing to reduce lost-update races on
	// the member list.
	fresh, err := s.fetchSuite(ctx, suiteID)
	if err == nil {
		suite = fresh
	}

	now := s.now()
	suite.AddMember(model.SuiteMember{
		UserID:      s.userID,
		DisplayName: s.userName,
		Role:        asRole,
		JoinedDate:  now,
		LastActive:  now,
	})
	suite.Touch(now)

	if err := s.saveSuite(ctx, suite); err != nil {
		if errors.IsPermissionDenied(err) {
			// Non-owners may not be allowed to write membership. The
			// join still succeeds locally; the owner's next sync will
			// pick the member up from its own refresh.
			s.logger.Warn("Membership write denied, join succeeds locally",
				zap.String("suite_id", suiteID))
		} else {
			return err
		}
	}

	s.setSuite(suite)
	s.publishChange(ctx, suiteID)
	s.logger.Info("Joined suite",
		zap.String("suite_id", suiteID),
		zap.String("role", string(asRole)))

	return s.pullConcerts(ctx, suiteID)
}

// RedeemInvitation consumes an invitation token and joins the suite it
// grants, at the role the token grants. This is the deep-link entry point.
func (s *SyncService) RedeemInvitation(ctx context.Context, tokenID string) (*model.SuiteInfo, error) {
	// Read the granted role before consumption; the consume flips the
	// remote used flag.
	grantedRole := model.RoleViewer
	if rec, err := s.store.Fetch(ctx, remote.TypeToken, tokenID); err == nil {
		if token, err := remote.DecodeToken(rec); err == nil && token.Role.Valid() {
			grantedRole = token.Role
		}
	}

	suite, err := s.tokens.ValidateAndConsume(ctx, tokenID, s.userID)
	if err != nil {
		return nil, err
	}

	if err := s.JoinSuite(ctx, suite.SuiteID, grantedRole); err != nil {
		return nil, err
	}
	return s.CurrentSuite(), nil
}

// Invite issues an invitation token for the current suite and returns the
// shareable deep link.
func (s *SyncService) Invite(ctx context.Context, grantedRole model.Role, validForDays int) (string, error) {
	s.mu.Lock()
	suite := s.currentSuite
	role := s.role
	s.mu.Unlock()

	if suite == nil {
		return "", errors.PermissionDenied("no active suite to invite into")
	}

	tokenID, err := s.tokens.Issue(ctx, suite.SuiteID, s.userID, role, grantedRole, validForDays)
	if err != nil {
		return "", err
	}
	return InviteLink(tokenID), nil
}

// InviteLink formats a token id as a shareable deep link.
func InviteLink(tokenID string) string {
	return InviteLinkPrefix + tokenID
}

// ParseInviteLink extracts the token id from an app://invite/ deep link.
func ParseInviteLink(link string) (string, error) {
	if !strings.HasPrefix(link, InviteLinkPrefix) {
		return "", fmt.Errorf("not an invitation link: %q", link)
	}
	tokenID := strings.TrimPrefix(link, InviteLinkPrefix)
	if tokenID == "" {
		return "", fmt.Errorf("invitation link has no token")
	}
	return tokenID, nil
}

// LeaveSuite removes this user from the member list, invalidates tokens
// the user redeemed, clears the local shared concert cache, and resets
// suite state. A suite that is already gone remotely is a benign outcome.
func (s *SyncService) LeaveSuite(ctx context.Context) error {
	s.mu.Lock()
	suite := s.currentSuite
	concerts := s.concerts
	s.mu.Unlock()

	if suite == nil {
		return nil
	}
	suiteID := suite.SuiteID

	fresh, err := s.fetchSuite(ctx, suiteID)
	switch {
	case err == nil:
		if fresh.RemoveMember(s.userID) {
			fresh.Touch(s.now())
			if saveErr := s.saveSuite(ctx, fresh); saveErr != nil && !errors.IsPermissionDenied(saveErr) {
				s.logger.Warn("Failed to write self-removal, leaving locally anyway",
					zap.String("suite_id", suiteID),
					zap.Error(saveErr))
			}
		}
	case errors.IsNotFound(err):
		// Suite already deleted by the owner; nothing to remove.
	default:
		s.logger.Warn("Could not fetch suite while leaving",
			zap.String("suite_id", suiteID),
			zap.Error(err))
	}

	if err := s.tokens.InvalidateTokensRedeemedBy(ctx, suiteID, s.userID); err != nil {
		s.logger.Warn("Token invalidation on leave failed",
			zap.String("suite_id", suiteID),
			zap.Error(err))
	}
	s.tokens.RecordSuiteAccess(s.userID, suiteID)

	if concerts != nil {
		if err := concerts.ClearShared(ctx, "left suite"); err != nil {
			s.logger.Warn("Failed to clear local concerts on leave", zap.Error(err))
		}
	}

	s.clearSuite()
	s.publishChange(ctx, suiteID)
	s.logger.Info("Left suite", zap.String("suite_id", suiteID))
	return nil
}

// DeleteSuite deletes the suite record and cascades deletion of its
// invitation tokens and concert records. Owner only. The owner's local
// concert copies are preserved and un-shared, not destroyed.
func (s *SyncService) DeleteSuite(ctx context.Context) error {
	s.mu.Lock()
	suite := s.currentSuite
	role := s.role
	concerts := s.concerts
	s.mu.Unlock()

	if suite == nil {
		return errors.PermissionDenied("no active suite to delete")
	}
	if role != model.RoleOwner {
		return errors.PermissionDenied("only the owner can delete the suite")
	}
	suiteID := suite.SuiteID

	// Cascade: concerts, tokens, then the suite record itself.
	recs, err := s.queryRecords(ctx, remote.TypeConcert, "suiteId", suiteID)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		if err := s.deleteRecord(ctx, remote.TypeConcert, rec.ID); err != nil && !errors.IsNotFound(err) {
			return err
		}
	}

	if err := s.tokens.DeleteTokensForSuite(ctx, suiteID); err != nil {
		return err
	}

	if err := s.deleteRecord(ctx, remote.TypeSuite, suiteID); err != nil && !errors.IsNotFound(err) {
		return err
	}

	if concerts != nil {
		if err := concerts.UnshareAll(ctx); err != nil {
			s.logger.Warn("Failed to un-share local concerts after deletion", zap.Error(err))
		}
	}

	s.clearSuite()
	s.publishChange(ctx, suiteID)
	s.logger.Info("Suite deleted",
		zap.String("suite_id", suiteID),
		zap.Int("concerts_removed", len(recs)))
	return nil
}

// SyncSuiteInfo pulls the remote suite record and reconciles concerts.
// A RecordNotFound on the suite fetch means the owner deleted the suite:
// that is a detected state transition, not an error, and runs the cleanup
// path with a one-time deletion notice.
func (s *SyncService) SyncSuiteInfo(ctx context.Context) error {
	s.mu.Lock()
	suite := s.currentSuite
	if suite == nil || s.syncing {
		s.mu.Unlock()
		return nil
	}
	s.syncing = true
	suiteID := suite.SuiteID
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.syncing = false
		s.mu.Unlock()
	}()

	start := s.now()
	s.metrics.SyncsTotal.Inc()

	fresh, err := s.fetchSuite(ctx, suiteID)
	if err != nil {
		if errors.IsNotFound(err) {
			s.handleSuiteDeleted(ctx, suiteID)
			return nil
		}
		s.metrics.SyncFailures.Inc()
		if s.queue.Classify(err) {
			s.setOffline(true)
		}
		return err
	}

	s.setOffline(false)
	s.setSuite(fresh)

	if err := s.pullConcerts(ctx, suiteID); err != nil {
		s.metrics.SyncFailures.Inc()
		return err
	}

	s.metrics.SyncDuration.Observe(s.now().Sub(start).Seconds())
	s.logger.Debug("Suite synced",
		zap.String("suite_id", suiteID),
		zap.Int("members", len(fresh.Members)))
	return nil
}

// UpdateSuiteSettings persists owner-editable suite settings (pricing
// overrides). A transient failure queues the update for replay.
func (s *SyncService) UpdateSuiteSettings(ctx context.Context, familyTicketPrice, defaultSeatCost *float64) error {
	s.mu.Lock()
	suite := s.currentSuite
	role := s.role
	s.mu.Unlock()

	if suite == nil {
		return errors.PermissionDenied("no active suite")
	}
	if role != model.RoleOwner {
		return errors.PermissionDenied("only the owner can change suite settings")
	}

	fresh, err := s.fetchSuite(ctx, suite.SuiteID)
	if err != nil {
		if !errors.IsNotFound(err) && s.queue.Classify(err) {
			fresh = suite.Clone()
		} else {
			return err
		}
	}

	fresh.FamilyTicketPrice = familyTicketPrice
	fresh.DefaultSeatCost = defaultSeatCost
	fresh.Touch(s.now())

	if err := s.saveSuite(ctx, fresh); err != nil {
		if !s.queue.Classify(err) {
			return err
		}
		s.setOffline(true)
		if qErr := s.enqueueSuiteOp(model.OpUpdateSuiteInfo, fresh); qErr != nil {
			return qErr
		}
	}

	s.setSuite(fresh)
	s.publishChange(ctx, fresh.SuiteID)
	return nil
}

// AddSuiteConcert records a newly shared concert id on the suite record,
// keeping the suite's concert index in step with the repository.
func (s *SyncService) AddSuiteConcert(ctx context.Context, suiteID string, concertID int) error {
	return s.updateSuiteConcertIndex(ctx, suiteID, func(suite *model.SuiteInfo) {
		suite.AddConcertID(concertID)
	})
}

// RemoveSuiteConcert drops a deleted concert id from the suite record.
func (s *SyncService) RemoveSuiteConcert(ctx context.Context, suiteID string, concertID int) error {
	return s.updateSuiteConcertIndex(ctx, suiteID, func(suite *model.SuiteInfo) {
		suite.RemoveConcertID(concertID)
	})
}

func (s *SyncService) updateSuiteConcertIndex(ctx context.Context, suiteID string, mutate func(*model.SuiteInfo)) error {
	s.mu.Lock()
	suite := s.currentSuite
	s.mu.Unlock()
	if suite == nil || suite.SuiteID != suiteID {
		return nil
	}

	fresh, err := s.fetchSuite(ctx, suiteID)
	if err != nil {
		if !errors.IsNotFound(err) && s.queue.Classify(err) {
			fresh = suite.Clone()
		} else {
			return err
		}
	}

	mutate(fresh)
	fresh.Touch(s.now())

	if err := s.saveSuite(ctx, fresh); err != nil {
		if !s.queue.Classify(err) {
			return err
		}
		s.setOffline(true)
		if qErr := s.enqueueSuiteOp(model.OpUpdateSuiteInfo, fresh); qErr != nil {
			return qErr
		}
	}
	s.setSuite(fresh)
	return nil
}

// HandleChangeSignal is the entry point for the external resync trigger.
// Signals from this device or for other suites are ignored.
func (s *SyncService) HandleChangeSignal(ctx context.Context, sig notify.Signal) {
	if sig.Origin == s.userID {
		return
	}

	s.mu.Lock()
	suite := s.currentSuite
	s.mu.Unlock()
	if suite == nil || sig.SuiteID != suite.SuiteID {
		return
	}

	if err := s.SyncSuiteInfo(ctx); err != nil {
		s.logger.Warn("Resync after change signal failed",
			zap.String("suite_id", sig.SuiteID),
			zap.Error(err))
	}
}

// ExecuteOperation replays a queued offline operation. Implements the
// queue's executor. Effects are applied only if the operation still
// matches the current membership state, so a late replay after leaving a
// suite is harmless.
func (s *SyncService) ExecuteOperation(ctx context.Context, op *model.OfflineOperation) error {
	switch op.Type {
	case model.OpCreateSuite, model.OpUpdateSuiteInfo:
		var suite model.SuiteInfo
		if err := json.Unmarshal(op.Payload, &suite); err != nil {
			return errors.ServerError("corrupt queued suite payload", err)
		}
		if !s.stillRelevant(suite.SuiteID) {
			s.logger.Info("Skipping stale queued suite operation",
				zap.String("operation_id", op.ID),
				zap.String("suite_id", suite.SuiteID))
			return nil
		}
		if err := s.saveSuite(ctx, &suite); err != nil {
			return err
		}
		s.setOffline(false)
		s.publishChange(ctx, suite.SuiteID)
		return nil

	case model.OpUpdateConcert, model.OpUpdateSeat:
		var concert model.Concert
		if err := json.Unmarshal(op.Payload, &concert); err != nil {
			return errors.ServerError("corrupt queued concert payload", err)
		}
		if !s.stillRelevant(concert.SuiteID) {
			s.logger.Info("Skipping stale queued concert operation",
				zap.String("operation_id", op.ID),
				zap.Int("concert_id", concert.ID))
			return nil
		}
		rec, err := remote.EncodeConcert(&concert)
		if err != nil {
			return err
		}
		if err := s.saveRecord(ctx, rec); err != nil {
			return err
		}
		s.setOffline(false)
		s.publishChange(ctx, concert.SuiteID)
		return nil

	case model.OpDeleteConcert:
		var payload struct {
			ConcertID int    `json:"concertId"`
			SuiteID   string `json:"suiteId"`
		}
		if err := json.Unmarshal(op.Payload, &payload); err != nil {
			return errors.ServerError("corrupt queued delete payload", err)
		}
		if !s.stillRelevant(payload.SuiteID) {
			return nil
		}
		err := s.deleteRecord(ctx, remote.TypeConcert, remote.ConcertRecordID(payload.ConcertID))
		if err != nil && !errors.IsNotFound(err) {
			return err
		}
		s.setOffline(false)
		s.publishChange(ctx, payload.SuiteID)
		return nil
	}

	return errors.ServerError(fmt.Sprintf("unknown queued operation type %q", op.Type), nil)
}

// EnqueueConcertPush queues a concert write that failed transiently.
// Called by the concert repository's push path.
func (s *SyncService) EnqueueConcertPush(concert *model.Concert) error {
	op, err := model.NewOfflineOperation(model.OpUpdateConcert, concert, s.now())
	if err != nil {
		return err
	}
	return s.queue.Enqueue(op)
}

// EnqueueConcertDelete queues a concert deletion that failed transiently.
func (s *SyncService) EnqueueConcertDelete(concertID int, suiteID string) error {
	op, err := model.NewOfflineOperation(model.OpDeleteConcert, map[string]interface{}{
		"concertId": concertID,
		"suiteId":   suiteID,
	}, s.now())
	if err != nil {
		return err
	}
	return s.queue.Enqueue(op)
}

// PublishChange announces a remote mutation to other devices.
func (s *SyncService) PublishChange(ctx context.Context, suiteID string) {
	s.publishChange(ctx, suiteID)
}

// Internal helpers

func (s *SyncService) stillRelevant(suiteID string) bool {
	if suiteID == "" {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentSuite != nil && s.currentSuite.SuiteID == suiteID
}

func (s *SyncService) handleSuiteDeleted(ctx context.Context, suiteID string) {
	s.metrics.SuiteDeletionsDetected.Inc()

	s.mu.Lock()
	alreadyRaised := s.noticeRaised
	s.noticeRaised = true
	concerts := s.concerts
	handler := s.onSuiteDelete
	s.mu.Unlock()

	// Suite state is cleared before the zero-length concert update so the
	// reconcile runs without a role attached; an owner-role reconcile
	// would push local concerts back up for a suite that no longer
	// exists.
	s.clearSuite()
	if concerts != nil {
		if err := concerts.Reconcile(ctx, nil); err != nil {
			s.logger.Warn("Concert cleanup after suite deletion failed", zap.Error(err))
		}
	}

	if !alreadyRaised && handler != nil {
		handler(suiteID)
	}
	s.logger.Info("Suite deleted by owner, local state cleared",
		zap.String("suite_id", suiteID))
}

func (s *SyncService) pullConcerts(ctx context.Context, suiteID string) error {
	s.mu.Lock()
	concerts := s.concerts
	s.mu.Unlock()
	if concerts == nil {
		return nil
	}

	recs, err := s.queryRecords(ctx, remote.TypeConcert, "suiteId", suiteID)
	if err != nil {
		return err
	}

	remoteConcerts := make([]*model.Concert, 0, len(recs))
	for _, rec := range recs {
		c, err := remote.DecodeConcert(rec)
		if err != nil {
			s.logger.Warn("Skipping corrupt remote concert record",
				zap.String("record_id", rec.ID),
				zap.Error(err))
			continue
		}
		remoteConcerts = append(remoteConcerts, c)
	}

	return concerts.Reconcile(ctx, remoteConcerts)
}

func (s *SyncService) fetchSuite(ctx context.Context, suiteID string) (*model.SuiteInfo, error) {
	rec, err := s.fetchRecord(ctx, remote.TypeSuite, suiteID)
	if err != nil {
		return nil, err
	}
	return remote.DecodeSuite(rec)
}

func (s *SyncService) saveSuite(ctx context.Context, suite *model.SuiteInfo) error {
	rec, err := remote.EncodeSuite(suite)
	if err != nil {
		return err
	}
	return s.saveRecord(ctx, rec)
}

// remoteOp instruments one attempt of a remote store call and applies the
// per-operation timeout when one is configured.
func (s *SyncService) remoteOp(ctx context.Context, label string, op func(context.Context) error) error {
	attempt := func(opCtx context.Context) error {
		start := s.now()
		err := op(opCtx)
		s.metrics.RemoteOpsTotal.WithLabelValues(label).Inc()
		s.metrics.RemoteOpDuration.Observe(s.now().Sub(start).Seconds())
		if err != nil && !errors.IsNotFound(err) {
			s.metrics.RemoteOpFailures.WithLabelValues(label).Inc()
		}
		return err
	}
	if s.opTimeout > 0 {
		return WithTimeout(ctx, s.opTimeout, "record "+label, attempt)
	}
	return attempt(ctx)
}

func (s *SyncService) fetchRecord(ctx context.Context, typ remote.RecordType, id string) (*remote.Record, error) {
	var rec *remote.Record
	err := RetryWithBackoff(ctx, s.retry, s.logger, "record fetch", func(ctx context.Context) error {
		return s.remoteOp(ctx, "fetch", func(opCtx context.Context) error {
			var opErr error
			rec, opErr = s.store.Fetch(opCtx, typ, id)
			return opErr
		})
	})
	return rec, err
}

func (s *SyncService) saveRecord(ctx context.Context, rec *remote.Record) error {
	return RetryWithBackoff(ctx, s.retry, s.logger, "record save", func(ctx context.Context) error {
		return s.remoteOp(ctx, "save", func(opCtx context.Context) error {
			return s.store.Save(opCtx, rec)
		})
	})
}

func (s *SyncService) deleteRecord(ctx context.Context, typ remote.RecordType, id string) error {
	return RetryWithBackoff(ctx, s.retry, s.logger, "record delete", func(ctx context.Context) error {
		return s.remoteOp(ctx, "delete", func(opCtx context.Context) error {
			return s.store.Delete(opCtx, typ, id)
		})
	})
}

func (s *SyncService) queryRecords(ctx context.Context, typ remote.RecordType, field string, value interface{}) ([]*remote.Record, error) {
	var recs []*remote.Record
	err := RetryWithBackoff(ctx, s.retry, s.logger, "record query", func(ctx context.Context) error {
		return s.remoteOp(ctx, "query", func(opCtx context.Context) error {
			var opErr error
			recs, opErr = s.store.Query(opCtx, typ, field, value)
			return opErr
		})
	})
	return recs, err
}

func (s *SyncService) enqueueSuiteOp(opType model.OperationType, suite *model.SuiteInfo) error {
	op, err := model.NewOfflineOperation(opType, suite, s.now())
	if err != nil {
		return err
	}
	return s.queue.Enqueue(op)
}

func (s *SyncService) setSuite(suite *model.SuiteInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentSuite = suite.Clone()
	s.role = suite.RoleOf(s.userID)
	s.noticeRaised = false
}

func (s *SyncService) clearSuite() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentSuite = nil
	s.role = model.RoleViewer
}

func (s *SyncService) setOffline(offline bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offline = offline
}

func (s *SyncService) publishChange(ctx context.Context, suiteID string) {
	if s.publisher == nil {
		return
	}
	sig := notify.Signal{SuiteID: suiteID, Origin: s.userID, At: s.now()}
	if err := s.publisher.Publish(ctx, sig); err != nil {
		s.logger.Debug("Change signal publish failed", zap.Error(err))
	}
}
