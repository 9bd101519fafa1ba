package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/frontrow/suitesync/internal/errors"
	"github.com/frontrow/suitesync/internal/metrics"
	"github.com/frontrow/suitesync/internal/model"
	"github.com/frontrow/suitesync/internal/remote"
)

// TokenPolicy bounds the local anti-replay windows.
type TokenPolicy struct {
	// ReuseWindow rejects a token consumed by this client within the window.
	ReuseWindow time.Duration
	// RejoinWindow rejects a user re-entering a suite they recently left.
	RejoinWindow time.Duration
	// PruneWindow bounds how long local anti-replay entries are kept.
	PruneWindow time.Duration
}

// DefaultTokenPolicy matches the documented anti-replay behavior.
var DefaultTokenPolicy = TokenPolicy{
	ReuseWindow:  5 * time.Minute,
	RejoinWindow: 10 * time.Minute,
	PruneWindow:  24 * time.Hour,
}

// TokenService issues and validates single-use, time-limited invitation
// tokens. The remote store is passive, so replay defense is layered: the
// remote used flag, a local used-token cache covering the gap while a slow
// remote write is not yet visible, and per-token / per-suite recency
// windows.
type TokenService struct {
	store   remote.Store
	policy  TokenPolicy
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu sync.Mutex
	// usedLocally holds tokens this client successfully consumed.
	usedLocally map[string]time.Time
	// attempts holds the last consumption attempt per token.
	attempts map[string]time.Time
	// suiteAccess holds the last time a user touched a suite, keyed by
	// userID + suiteID.
	suiteAccess map[string]time.Time

	stopCh   chan struct{}
	stopOnce sync.Once

	now func() time.Time
}

// NewTokenService creates a new token service.
func NewTokenService(store remote.Store, policy TokenPolicy, logger *zap.Logger, m *metrics.Metrics) *TokenService {
	if policy.ReuseWindow == 0 {
		policy.ReuseWindow = DefaultTokenPolicy.ReuseWindow
	}
	if policy.RejoinWindow == 0 {
		policy.RejoinWindow = DefaultTokenPolicy.RejoinWindow
	}
	if policy.PruneWindow == 0 {
		policy.PruneWindow = DefaultTokenPolicy.PruneWindow
	}
	return &TokenService{
		store:       store,
		policy:      policy,
		logger:      logger,
		metrics:     m,
		usedLocally: make(map[string]time.Time),
		attempts:    make(map[string]time.Time),
		suiteAccess: make(map[string]time.Time),
		stopCh:      make(chan struct{}),
		now:         time.Now,
	}
}

// Issue creates and persists a new invitation token for the suite.
// Only roles that manage members may issue tokens.
func (s *TokenService) Issue(ctx context.Context, suiteID string, issuerID string, issuerRole model.Role, grantedRole model.Role, validForDays int) (string, error) {
	if !issuerRole.CanManageMembers() {
		return "", errors.PermissionDenied(
			fmt.Sprintf("role %s cannot issue invitations", issuerRole))
	}
	if !grantedRole.Valid() {
		grantedRole = model.RoleViewer
	}
	if validForDays < 1 {
		validForDays = 1
	}

	now := s.now()
	token := &model.InvitationToken{
		ID:             uuid.New().String(),
		SuiteID:        suiteID,
		InvitedBy:      issuerID,
		Role:           grantedRole,
		CreatedDate:    now,
		ExpirationDate: now.AddDate(0, 0, validForDays),
	}

	if err := s.store.Save(ctx, remote.EncodeToken(token)); err != nil {
		return "", err
	}

	s.metrics.TokensIssuedTotal.Inc()
	s.logger.Info("Invitation token issued",
		zap.String("token_id", token.ID),
		zap.String("suite_id", suiteID),
		zap.String("granted_role", string(grantedRole)),
		zap.Int("valid_days", validForDays))
	return token.ID, nil
}

// ValidateAndConsume checks every anti-replay layer in order and, if all
// pass, consumes the token and returns the suite it grants access to.
// The failure mode identifies which layer rejected the token.
func (s *TokenService) ValidateAndConsume(ctx context.Context, tokenID, requestingUserID string) (*model.SuiteInfo, error) {
	now := s.now()

	// Layer 1: the token must exist remotely.
	tokenRec, err := s.store.Fetch(ctx, remote.TypeToken, tokenID)
	if err != nil {
		s.reject("not_found")
		return nil, err
	}
	token, err := remote.DecodeToken(tokenRec)
	if err != nil {
		s.reject("corrupt")
		return nil, err
	}

	// Layer 2: used or expired tokens are dead.
	if !token.IsValid(now) {
		s.reject("invalid")
		return nil, errors.PermissionDenied(
			fmt.Sprintf("invitation token %s is used or expired", tokenID))
	}

	// Layer 3: the target suite must still exist.
	suiteRec, err := s.store.Fetch(ctx, remote.TypeSuite, token.SuiteID)
	if err != nil {
		s.reject("suite_gone")
		return nil, err
	}
	suite, err := remote.DecodeSuite(suiteRec)
	if err != nil {
		s.reject("corrupt")
		return nil, err
	}

	// Layer 4: existing members cannot redeem a token for the same suite
	// through a different path.
	if suite.IsMember(requestingUserID) {
		s.reject("already_member")
		return nil, errors.PermissionDenied(
			fmt.Sprintf("user %s is already a member of suite %s", requestingUserID, suite.SuiteID))
	}

	// Layers 5-6: local anti-replay caches.
	if err := s.checkLocalReplay(tokenID, requestingUserID, token.SuiteID, now); err != nil {
		return nil, err
	}

	// Consume: local mark first so a crash after this point still blocks
	// reuse from this device, then the remote flag.
	s.markUsedLocally(tokenID, now)

	token.MarkUsed(requestingUserID, now)
	if err := s.store.Save(ctx, remote.EncodeToken(token)); err != nil {
		// The specific used-flag write failed. Fall back to invalidating
		// every token for the suite: false negatives beat token reuse.
		s.logger.Warn("Remote used-flag write failed, invalidating all suite tokens",
			zap.String("token_id", tokenID),
			zap.String("suite_id", token.SuiteID),
			zap.Error(err))
		if invErr := s.InvalidateTokensForSuite(ctx, token.SuiteID); invErr != nil {
			s.logger.Error("Suite token invalidation fallback failed",
				zap.String("suite_id", token.SuiteID),
				zap.Error(invErr))
		}
	}

	// Best-effort append to the shared used-token ledger so other devices
	// see the consumption even if the per-token flag write lost.
	if err := s.appendUsedLedger(ctx, token.SuiteID, tokenID, now); err != nil {
		s.logger.Warn("Used-token ledger update failed",
			zap.String("token_id", tokenID),
			zap.Error(err))
	}

	s.metrics.TokenRedemptionsTotal.Inc()
	s.logger.Info("Invitation token consumed",
		zap.String("token_id", tokenID),
		zap.String("suite_id", token.SuiteID),
		zap.String("user_id", requestingUserID))
	return suite, nil
}

// checkLocalReplay enforces the local-cache layers: the used set, the
// per-token attempt window, and the per-suite recency window.
func (s *TokenService) checkLocalReplay(tokenID, userID, suiteID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneLocked(now)

	// Layer 5: this client already consumed the token, even if the remote
	// write is not visible yet.
	if _, used := s.usedLocally[tokenID]; used {
		s.reject("already_used")
		return errors.TokenAlreadyUsed(tokenID)
	}

	// Layer 6a: the same token was attempted too recently.
	if last, ok := s.attempts[tokenID]; ok && now.Sub(last) < s.policy.ReuseWindow {
		s.reject("too_soon")
		return errors.TokenTooSoon(tokenID)
	}

	// Layer 6b: the user touched this suite too recently (token shopping
	// right after leaving).
	if last, ok := s.suiteAccess[accessKey(userID, suiteID)]; ok && now.Sub(last) < s.policy.RejoinWindow {
		s.reject("recently_left")
		return errors.RecentlyLeft(userID, suiteID)
	}

	s.attempts[tokenID] = now
	return nil
}

func (s *TokenService) markUsedLocally(tokenID string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usedLocally[tokenID] = now
}

// RecordSuiteAccess notes that a user touched a suite. The sync engine
// calls this on leave so an immediate re-redemption is rejected.
func (s *TokenService) RecordSuiteAccess(userID, suiteID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.suiteAccess[accessKey(userID, suiteID)] = s.now()
}

// InvalidateTokensForSuite marks every token of the suite used. This is
// the safety-net path when a per-token used-flag write fails.
func (s *TokenService) InvalidateTokensForSuite(ctx context.Context, suiteID string) error {
	recs, err := s.store.Query(ctx, remote.TypeToken, "suiteId", suiteID)
	if err != nil {
		return err
	}

	now := s.now()
	var failed int
	for _, rec := range recs {
		token, err := remote.DecodeToken(rec)
		if err != nil || token.Used {
			continue
		}
		token.MarkUsed("", now)
		if err := s.store.Save(ctx, remote.EncodeToken(token)); err != nil {
			failed++
			continue
		}
		s.markUsedLocally(token.ID, now)
	}

	if failed > 0 {
		return errors.ServerError(
			fmt.Sprintf("failed to invalidate %d of %d suite tokens", failed, len(recs)), nil)
	}

	s.logger.Info("All suite tokens invalidated",
		zap.String("suite_id", suiteID),
		zap.Int("tokens", len(recs)))
	return nil
}

// InvalidateTokensRedeemedBy ensures every token the user redeemed for the
// suite stays unusable and is present in the shared ledger. Called on
// leave so the departing user cannot rejoin with an old token.
func (s *TokenService) InvalidateTokensRedeemedBy(ctx context.Context, suiteID, userID string) error {
	recs, err := s.store.Query(ctx, remote.TypeToken, "suiteId", suiteID)
	if err != nil {
		return err
	}

	now := s.now()
	for _, rec := range recs {
		token, err := remote.DecodeToken(rec)
		if err != nil {
			continue
		}
		if token.UsedBy != userID {
			continue
		}
		s.markUsedLocally(token.ID, now)
		if err := s.appendUsedLedger(ctx, suiteID, token.ID, now); err != nil {
			s.logger.Warn("Used-token ledger update failed during leave",
				zap.String("token_id", token.ID),
				zap.Error(err))
		}
	}
	return nil
}

// DeleteTokensForSuite removes all token records and the used-token ledger
// for a suite. Called by the owner's suite-deletion cascade.
func (s *TokenService) DeleteTokensForSuite(ctx context.Context, suiteID string) error {
	recs, err := s.store.Query(ctx, remote.TypeToken, "suiteId", suiteID)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		if err := s.store.Delete(ctx, remote.TypeToken, rec.ID); err != nil && !errors.IsNotFound(err) {
			return err
		}
	}
	if err := s.store.Delete(ctx, remote.TypeUsedTokens, remote.UsedTokensRecordID(suiteID)); err != nil && !errors.IsNotFound(err) {
		return err
	}

	s.logger.Info("Suite tokens deleted",
		zap.String("suite_id", suiteID),
		zap.Int("tokens", len(recs)))
	return nil
}

// appendUsedLedger adds a token id to the suite's shared used-token
// aggregate record.
func (s *TokenService) appendUsedLedger(ctx context.Context, suiteID, tokenID string, now time.Time) error {
	ledger := &remote.UsedTokenLedger{SuiteID: suiteID}

	rec, err := s.store.Fetch(ctx, remote.TypeUsedTokens, remote.UsedTokensRecordID(suiteID))
	if err == nil {
		if ledger, err = remote.DecodeUsedTokens(rec); err != nil {
			return err
		}
	} else if !errors.IsNotFound(err) {
		return err
	}

	for _, id := range ledger.TokenIDs {
		if id == tokenID {
			return nil
		}
	}
	ledger.TokenIDs = append(ledger.TokenIDs, tokenID)
	ledger.LastModified = now

	return s.store.Save(ctx, remote.EncodeUsedTokens(ledger))
}

// Start begins the rolling-window cache pruning ticker.
func (s *TokenService) Start() {
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.mu.Lock()
				s.pruneLocked(s.now())
				s.mu.Unlock()
			case <-s.stopCh:
				return
			}
		}
	}()
}

// Stop halts the pruning ticker.
func (s *TokenService) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// pruneLocked drops anti-replay entries older than the prune window so the
// caches stay bounded. Caller holds the mutex.
func (s *TokenService) pruneLocked(now time.Time) {
	cutoff := now.Add(-s.policy.PruneWindow)
	for id, t := range s.usedLocally {
		if t.Before(cutoff) {
			delete(s.usedLocally, id)
		}
	}
	for id, t := range s.attempts {
		if t.Before(cutoff) {
			delete(s.attempts, id)
		}
	}
	for key, t := range s.suiteAccess {
		if t.Before(cutoff) {
			delete(s.suiteAccess, key)
		}
	}
}

func (s *TokenService) reject(reason string) {
	s.metrics.TokenRejectionsTotal.WithLabelValues(reason).Inc()
}

func accessKey(userID, suiteID string) string {
	return userID + ":" + suiteID
}
