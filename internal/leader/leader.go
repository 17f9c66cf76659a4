// Package leader elects exactly one execution context of a terminal to drain
// the outbox at a time. Three tiers are probed at construction, strongest
// first: a native non-blocking try-lock (Redis SETNX), a lease row in the
// shared local store, and an in-process flag as last resort. Callers see one
// uniform result contract regardless of which tier ran.
package leader

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/opentillhq/tillsync/pkg/db"
	"github.com/opentillhq/tillsync/pkg/db/models"
	"github.com/opentillhq/tillsync/pkg/logger"
	redispkg "github.com/opentillhq/tillsync/pkg/redis"
)

// Mechanism names the tier that arbitrated a RunIfLeader call.
type Mechanism string

const (
	MechanismNativeLock   Mechanism = "native-lock"
	MechanismStorageLease Mechanism = "storage-lease"
	MechanismProcessFlag  Mechanism = "process-flag"
)

const (
	defaultLeaseTTL = 15 * time.Second
	confirmDelay    = 25 * time.Millisecond
)

// Operation is the critical section guarded by the election.
type Operation func(ctx context.Context) (any, error)

// Result reports whether the operation ran, which tier arbitrated, and the
// operation's return value when it did run.
type Result struct {
	Acquired  bool
	Mechanism Mechanism
	Value     any
}

// Params configure an Elector. Redis and DB are optional; the strongest
// available tier wins.
type Params struct {
	Name     string
	OwnerID  string
	LeaseTTL time.Duration
	Redis    *redispkg.Client
	DB       *dbpkg.Client
	Logger   *logger.Logger
}

type Elector struct {
	name     string
	ownerID  string
	leaseTTL time.Duration
	redis    *redispkg.Client
	db       *dbpkg.Client
	logg     *logger.Logger
	flag     atomic.Bool
}

// New probes the available coordination backends once and fixes the tier
// order for the lifetime of the elector.
func New(ctx context.Context, params Params) (*Elector, error) {
	if params.Name == "" {
		return nil, errors.New("election name is required")
	}
	if params.OwnerID == "" {
		return nil, errors.New("owner id is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	leaseTTL := params.LeaseTTL
	if leaseTTL <= 0 {
		leaseTTL = defaultLeaseTTL
	}

	e := &Elector{
		name:     params.Name,
		ownerID:  params.OwnerID,
		leaseTTL: leaseTTL,
		logg:     params.Logger,
	}
	if params.Redis != nil {
		if err := params.Redis.Ping(ctx); err == nil {
			e.redis = params.Redis
		} else {
			params.Logger.Warn(ctx, "redis unreachable, leader election falls back to storage lease")
		}
	}
	if params.DB != nil {
		if err := params.DB.Ping(ctx); err == nil {
			e.db = params.DB
		} else {
			params.Logger.Warn(ctx, "shared store unreachable, leader election falls back to process flag")
		}
	}
	return e, nil
}

// RunIfLeader runs op under the strongest available exclusivity tier. When
// the lock is held elsewhere it returns Acquired=false without waiting.
func (e *Elector) RunIfLeader(ctx context.Context, op Operation) (Result, error) {
	if e.redis != nil {
		return e.runWithNativeLock(ctx, op)
	}
	if e.db != nil {
		return e.runWithStorageLease(ctx, op)
	}
	return e.runWithProcessFlag(ctx, op)
}

// runWithNativeLock uses Redis SETNX as a non-blocking try-lock. The key
// carries a TTL bounding the blast radius of a crashed leader, and release
// only deletes the key while the owner token still matches.
func (e *Elector) runWithNativeLock(ctx context.Context, op Operation) (Result, error) {
	key := e.redis.LeaderKey(e.name)
	token := uuid.NewString()

	ok, err := e.redis.SetNX(ctx, key, token, e.leaseTTL)
	if err != nil {
		return Result{Mechanism: MechanismNativeLock}, fmt.Errorf("setnx: %w", err)
	}
	if !ok {
		return Result{Acquired: false, Mechanism: MechanismNativeLock}, nil
	}

	defer func() {
		value, err := e.redis.Get(ctx, key)
		if err != nil {
			if !redispkg.IsNil(err) {
				e.logg.Error(ctx, "failed to read leader lock owner", err)
			}
			return
		}
		if value != token {
			return
		}
		if err := e.redis.Del(ctx, key); err != nil {
			e.logg.Error(ctx, "failed to release leader lock", err)
		}
	}()

	value, opErr := op(ctx)
	return Result{Acquired: true, Mechanism: MechanismNativeLock, Value: value}, opErr
}

// runWithStorageLease writes a candidate lease into the shared store, then
// re-reads it to detect a near-simultaneous writer before running the
// operation. A background timer renews the lease at a third of its duration
// and release only happens while the stored lease still matches.
func (e *Elector) runWithStorageLease(ctx context.Context, op Operation) (Result, error) {
	token := uuid.NewString()

	acquired, err := e.writeCandidateLease(ctx, token)
	if err != nil {
		return Result{Mechanism: MechanismStorageLease}, err
	}
	if !acquired {
		return Result{Acquired: false, Mechanism: MechanismStorageLease}, nil
	}

	// Detect a writer that clobbered our candidate in the same window.
	time.Sleep(confirmDelay)
	current, err := e.readLease(ctx)
	if err != nil {
		return Result{Mechanism: MechanismStorageLease}, err
	}
	if current == nil || current.Token != token || current.OwnerID != e.ownerID {
		return Result{Acquired: false, Mechanism: MechanismStorageLease}, nil
	}

	stopRenewal := e.startLeaseRenewal(ctx, token)
	defer func() {
		stopRenewal()
		e.releaseLease(ctx, token)
	}()

	value, opErr := op(ctx)
	return Result{Acquired: true, Mechanism: MechanismStorageLease, Value: value}, opErr
}

func (e *Elector) runWithProcessFlag(ctx context.Context, op Operation) (Result, error) {
	if !e.flag.CompareAndSwap(false, true) {
		return Result{Acquired: false, Mechanism: MechanismProcessFlag}, nil
	}
	defer e.flag.Store(false)

	value, opErr := op(ctx)
	return Result{Acquired: true, Mechanism: MechanismProcessFlag, Value: value}, opErr
}

func (e *Elector) writeCandidateLease(ctx context.Context, token string) (bool, error) {
	acquired := false
	err := e.db.WithTx(ctx, func(tx *gorm.DB) error {
		now := time.Now()
		var lease models.LeaderLease
		err := tx.Where("name = ?", e.name).First(&lease).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			fresh := models.LeaderLease{
				Name:      e.name,
				OwnerID:   e.ownerID,
				Token:     token,
				ExpiresAt: now.Add(e.leaseTTL),
				Version:   1,
			}
			if createErr := tx.Create(&fresh).Error; createErr != nil {
				if dbpkg.IsUniqueViolation(createErr, "") {
					return nil
				}
				return createErr
			}
			acquired = true
			return nil
		case err != nil:
			return err
		}

		if !lease.Expired(now) && lease.OwnerID != e.ownerID {
			return nil
		}

		res := tx.Model(&models.LeaderLease{}).
			Where("name = ? AND version = ?", e.name, lease.Version).
			Updates(map[string]any{
				"owner_id":   e.ownerID,
				"token":      token,
				"expires_at": now.Add(e.leaseTTL),
				"version":    lease.Version + 1,
			})
		if res.Error != nil {
			return res.Error
		}
		acquired = res.RowsAffected > 0
		return nil
	})
	return acquired, err
}

func (e *Elector) readLease(ctx context.Context) (*models.LeaderLease, error) {
	var lease models.LeaderLease
	err := e.db.DB().WithContext(ctx).Where("name = ?", e.name).First(&lease).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &lease, nil
}

func (e *Elector) startLeaseRenewal(ctx context.Context, token string) func() {
	interval := e.leaseTTL / 3
	if interval <= 0 {
		interval = time.Second
	}
	stop := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				res := e.db.DB().WithContext(ctx).Model(&models.LeaderLease{}).
					Where("name = ? AND token = ? AND owner_id = ?", e.name, token, e.ownerID).
					Update("expires_at", time.Now().Add(e.leaseTTL))
				if res.Error != nil {
					e.logg.Error(ctx, "leader lease renewal failed", res.Error)
					continue
				}
				if res.RowsAffected == 0 {
					// Lease moved to another owner; stop renewing.
					return
				}
			}
		}
	}()

	var stopped bool
	return func() {
		if stopped {
			return
		}
		stopped = true
		close(stop)
		<-done
	}
}

func (e *Elector) releaseLease(ctx context.Context, token string) {
	err := e.db.DB().WithContext(ctx).
		Where("name = ? AND token = ? AND owner_id = ?", e.name, token, e.ownerID).
		Delete(&models.LeaderLease{}).Error
	if err != nil {
		e.logg.Error(ctx, "failed to release leader lease", err)
	}
}
