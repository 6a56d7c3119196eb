// Package reconcile matches free-text equipment owner names, as humans
// typed them into a spreadsheet, against the roster of real Slack
// identities. Confident matches are cached; everything else goes to a
// human operator.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nduati/equipbot/internal/directory"
)

// confidentScore is the token-sort ratio at which a candidate is accepted
// without operator review. Only an exact normalized match qualifies.
const confidentScore = 100

// Identity is one entry of the verified roster (a Slack user).
type Identity struct {
	ID          string
	DisplayName string
	Email       string
}

// Handle returns the identity's derived handle: the local part of its
// email address. Identities without an email (bots, deactivated accounts)
// have no handle and are skipped as comparison candidates.
func (i Identity) Handle() string {
	email := strings.TrimSpace(i.Email)
	if email == "" {
		return ""
	}
	if at := strings.Index(email, "@"); at >= 0 {
		return email[:at]
	}
	return email
}

// Resolution is the operator's answer for one unmatched name: a Slack id,
// or an explicit rejection.
type Resolution struct {
	SlackID string
	Reject  bool
}

// Resolver supplies manual resolutions for names the scorer could not
// match. Implementations may block indefinitely waiting for an operator.
type Resolver interface {
	Resolve(ctx context.Context, ownerName string, record directory.EquipmentRecord) (Resolution, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(ctx context.Context, ownerName string, record directory.EquipmentRecord) (Resolution, error)

func (f ResolverFunc) Resolve(ctx context.Context, ownerName string, record directory.EquipmentRecord) (Resolution, error) {
	return f(ctx, ownerName, record)
}

// Result reports one reconciliation pass over a record list.
type Result struct {
	Records   []directory.EquipmentRecord
	Unmatched []string
	CacheHits int
	Matched   int
	Dropped   int
}

// Engine reconciles owner names against the identity roster. Roster order
// is significant: the first identity reaching a confident score wins, so
// callers must supply a stable, deterministic ordering.
type Engine struct {
	Identities []Identity
	Cache      *Cache
	Resolver   Resolver
	Logger     *slog.Logger
}

// Reconcile resolves the owner of every record in the list. Records with
// an empty owner name pass through untouched and are not reported as
// unmatched. Names the scorer cannot match confidently go to the
// Resolver; an explicit rejection drops the record from the output
// entirely.
func (e *Engine) Reconcile(ctx context.Context, records []directory.EquipmentRecord) (Result, error) {
	if e == nil || e.Cache == nil {
		return Result{}, fmt.Errorf("reconcile engine is not initialized")
	}
	if ctx == nil {
		return Result{}, fmt.Errorf("context is required")
	}
	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}

	res := Result{Records: make([]directory.EquipmentRecord, 0, len(records))}
	type pending struct {
		record directory.EquipmentRecord
		name   string
	}
	var unresolved []pending

	for _, record := range records {
		name := strings.TrimSpace(record.OwnerName)
		if name == "" {
			res.Records = append(res.Records, record)
			continue
		}
		record.OwnerName = name

		if entry, ok := e.Cache.Get(name); ok {
			record.OwnerSlackID = entry.SlackID
			record.OwnerEmail = entry.Email
			res.CacheHits++
			res.Records = append(res.Records, record)
			logger.Info("reconcile_cache_hit", "equipment_id", record.EquipmentID, "owner_name", name)
			continue
		}

		identity, ok := e.matchIdentity(name)
		if !ok {
			unresolved = append(unresolved, pending{record: record, name: name})
			continue
		}
		record.OwnerSlackID = identity.ID
		record.OwnerEmail = identity.Email
		res.Matched++
		res.Records = append(res.Records, record)
		if _, err := e.Cache.Put(name, CacheEntry{SlackID: identity.ID, Email: identity.Email}); err != nil {
			return res, fmt.Errorf("persist match for %q: %w", name, err)
		}
		logger.Info("reconcile_matched", "equipment_id", record.EquipmentID, "owner_name", name, "slack_id", identity.ID)
	}

	for _, p := range unresolved {
		res.Unmatched = append(res.Unmatched, p.name)
	}
	if e.Resolver == nil {
		// No operator available: unmatched records pass through without
		// owner details instead of being dropped.
		for _, p := range unresolved {
			res.Records = append(res.Records, p.record)
		}
		return res, nil
	}

	for _, p := range unresolved {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		resolution, err := e.Resolver.Resolve(ctx, p.name, p.record)
		if err != nil {
			return res, fmt.Errorf("resolve %q: %w", p.name, err)
		}
		if resolution.Reject {
			// Explicitly rejected records are dropped, not kept
			// ownerless.
			res.Dropped++
			logger.Info("reconcile_rejected", "equipment_id", p.record.EquipmentID, "owner_name", p.name)
			continue
		}
		identity, ok := e.identityByID(resolution.SlackID)
		if !ok {
			return res, fmt.Errorf("resolve %q: slack id %q is not in the identity roster", p.name, resolution.SlackID)
		}
		record := p.record
		record.OwnerSlackID = identity.ID
		record.OwnerEmail = identity.Email
		res.Matched++
		res.Records = append(res.Records, record)
		if _, err := e.Cache.Put(p.name, CacheEntry{SlackID: identity.ID, Email: identity.Email}); err != nil {
			return res, fmt.Errorf("persist manual match for %q: %w", p.name, err)
		}
		logger.Info("reconcile_manual_match", "equipment_id", record.EquipmentID, "owner_name", p.name, "slack_id", identity.ID)
	}
	return res, nil
}

// matchIdentity scans the roster in order and returns the first identity
// whose display name or email handle scores a confident token-sort match
// against the owner name. It does not look for the best score overall.
func (e *Engine) matchIdentity(ownerName string) (Identity, bool) {
	name := stripApostrophes(ownerName)
	for _, identity := range e.Identities {
		if strings.TrimSpace(identity.Email) == "" {
			continue
		}
		if TokenSortRatio(stripApostrophes(identity.DisplayName), name) >= confidentScore {
			return identity, true
		}
		if TokenSortRatio(stripApostrophes(identity.Handle()), name) >= confidentScore {
			return identity, true
		}
	}
	return Identity{}, false
}

func (e *Engine) identityByID(id string) (Identity, bool) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Identity{}, false
	}
	for _, identity := range e.Identities {
		if identity.ID == id {
			return identity, true
		}
	}
	return Identity{}, false
}
