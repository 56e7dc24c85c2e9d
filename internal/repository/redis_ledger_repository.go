package repository

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/yugalbansal1/eticket1/internal/domain"
	pkgredis "github.com/yugalbansal1/eticket1/pkg/redis"
)

//go:embed scripts/expire_holds.lua
var expireHoldsPrelude string

//go:embed scripts/reserve.lua
var reserveScriptBody string

//go:embed scripts/confirm.lua
var confirmScriptBody string

//go:embed scripts/release.lua
var releaseScriptBody string

//go:embed scripts/tier.lua
var tierScriptBody string

// Script names for caching
const (
	scriptReserve = "ledger_reserve"
	scriptConfirm = "ledger_confirm"
	scriptRelease = "ledger_release"
	scriptTier    = "ledger_tier"
)

var (
	reserveScript = expireHoldsPrelude + "\n" + reserveScriptBody
	confirmScript = expireHoldsPrelude + "\n" + confirmScriptBody
	releaseScript = expireHoldsPrelude + "\n" + releaseScriptBody
	tierScript    = expireHoldsPrelude + "\n" + tierScriptBody
)

const ledgerTiersKey = "ledger:tiers"

// Per-tier keys share the {tierID} hash tag so one script can touch all of them
func ledgerTierKey(tierID string) string  { return fmt.Sprintf("ledger:{%s}:tier", tierID) }
func ledgerHoldsKey(tierID string) string { return fmt.Sprintf("ledger:{%s}:holds", tierID) }
func ledgerResPrefix(tierID string) string {
	return fmt.Sprintf("ledger:{%s}:res:", tierID)
}
func ledgerIndexKey(reservationID string) string { return "ledger:resindex:" + reservationID }

// RedisLedgerRepository implements LedgerRepository with Lua scripts.
// Redis runs each script atomically, which serializes operations per tier.
type RedisLedgerRepository struct {
	client *pkgredis.Client
	now    Clock
}

// NewRedisLedgerRepository creates a new RedisLedgerRepository
func NewRedisLedgerRepository(client *pkgredis.Client) *RedisLedgerRepository {
	return &RedisLedgerRepository{client: client, now: time.Now}
}

// LoadScripts loads all Lua scripts into Redis
func (r *RedisLedgerRepository) LoadScripts(ctx context.Context) error {
	scripts := map[string]string{
		scriptReserve: reserveScript,
		scriptConfirm: confirmScript,
		scriptRelease: releaseScript,
		scriptTier:    tierScript,
	}

	for name, script := range scripts {
		if _, err := r.client.LoadScript(ctx, name, script); err != nil {
			return fmt.Errorf("failed to load script %s: %w", name, err)
		}
	}
	return nil
}

func (r *RedisLedgerRepository) eval(ctx context.Context, name, script, tierID string, extraKey string, args ...interface{}) (string, []interface{}, error) {
	keys := []string{ledgerTierKey(tierID), ledgerHoldsKey(tierID)}
	if extraKey != "" {
		keys = append(keys, extraKey)
	}
	argv := append([]interface{}{ledgerResPrefix(tierID), r.now().UnixMilli()}, args...)

	values, err := r.client.EvalWithFallback(ctx, name, script, keys, argv...).Slice()
	if err != nil {
		return "", nil, fmt.Errorf("failed to execute %s script: %w", name, err)
	}
	if len(values) == 0 {
		return "", nil, fmt.Errorf("empty result from %s script", name)
	}
	code, _ := values[0].(string)
	return code, values[1:], nil
}

// UpsertTier creates a tier or updates its capacity and price
func (r *RedisLedgerRepository) UpsertTier(ctx context.Context, spec TierSpec) error {
	if err := validateSpec(spec); err != nil {
		return err
	}

	code, _, err := r.eval(ctx, scriptTier, tierScript, spec.TierID, "",
		"upsert", spec.TierID, spec.EventID, spec.Capacity, spec.UnitPrice.String())
	if err != nil {
		return err
	}
	if err := codeError(code); err != nil {
		return err
	}
	return r.client.Client().SAdd(ctx, ledgerTiersKey, spec.TierID).Err()
}

// RemoveTier deletes a tier with no holds and no sales
func (r *RedisLedgerRepository) RemoveTier(ctx context.Context, tierID string) error {
	code, _, err := r.eval(ctx, scriptTier, tierScript, tierID, "", "remove")
	if err != nil {
		return err
	}
	if err := codeError(code); err != nil {
		return err
	}
	return r.client.Client().SRem(ctx, ledgerTiersKey, tierID).Err()
}

// Reserve holds quantity units of a tier
func (r *RedisLedgerRepository) Reserve(ctx context.Context, params ReserveParams) (*domain.Reservation, error) {
	if err := validateReserve(&params); err != nil {
		return nil, err
	}

	id := uuid.New().String()
	// index first so the hold is reachable by id as soon as it exists
	if err := r.client.Client().Set(ctx, ledgerIndexKey(id), params.TierID, 0).Err(); err != nil {
		return nil, fmt.Errorf("failed to index reservation: %w", err)
	}

	expiresAt := r.now().Add(params.TTL).UnixMilli()
	code, fields, err := r.eval(ctx, scriptReserve, reserveScript, params.TierID, ledgerResPrefix(params.TierID)+id,
		params.Quantity, id, params.BuyerID, expiresAt, params.EventID)
	if err == nil {
		err = codeError(code)
	}
	if err != nil {
		r.client.Client().Del(context.WithoutCancel(ctx), ledgerIndexKey(id))
		return nil, err
	}
	return parseReservation(fields)
}

func (r *RedisLedgerRepository) tierOf(ctx context.Context, reservationID string) (string, error) {
	tierID, err := r.client.Client().Get(ctx, ledgerIndexKey(reservationID)).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return "", domain.ErrReservationNotFound
		}
		return "", fmt.Errorf("failed to look up reservation: %w", err)
	}
	return tierID, nil
}

// Confirm moves a HELD reservation to CONFIRMED
func (r *RedisLedgerRepository) Confirm(ctx context.Context, reservationID string) (*domain.Reservation, error) {
	tierID, err := r.tierOf(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	code, fields, err := r.eval(ctx, scriptConfirm, confirmScript, tierID, ledgerResPrefix(tierID)+reservationID)
	if err != nil {
		return nil, err
	}
	if err := codeError(code); err != nil {
		return nil, err
	}
	return parseReservation(fields)
}

// Release moves a HELD reservation to RELEASED
func (r *RedisLedgerRepository) Release(ctx context.Context, reservationID string, reason domain.ReleaseReason) (*domain.Reservation, error) {
	tierID, err := r.tierOf(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	code, fields, err := r.eval(ctx, scriptRelease, releaseScript, tierID, ledgerResPrefix(tierID)+reservationID, string(reason))
	if err != nil {
		return nil, err
	}
	if err := codeError(code); err != nil {
		return nil, err
	}
	return parseReservation(fields)
}

// ReleaseExpired walks every tier and releases up to limit expired holds
func (r *RedisLedgerRepository) ReleaseExpired(ctx context.Context, now time.Time, limit int) ([]*domain.Reservation, error) {
	tierIDs, err := r.client.Client().SMembers(ctx, ledgerTiersKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list tiers: %w", err)
	}

	var released []*domain.Reservation
	for _, tierID := range tierIDs {
		remaining := 0
		if limit > 0 {
			remaining = limit - len(released)
			if remaining <= 0 {
				break
			}
		}

		code, ids, err := r.eval(ctx, scriptTier, tierScript, tierID, "", "expire", remaining)
		if err != nil {
			return released, err
		}
		if code != "OK" {
			continue
		}
		for _, v := range ids {
			id, _ := v.(string)
			res, err := r.Get(ctx, id)
			if err != nil {
				return released, err
			}
			released = append(released, res)
		}
	}
	return released, nil
}

// Get returns a reservation by id
func (r *RedisLedgerRepository) Get(ctx context.Context, reservationID string) (*domain.Reservation, error) {
	tierID, err := r.tierOf(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	data, err := r.client.Client().HGetAll(ctx, ledgerResPrefix(tierID)+reservationID).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get reservation: %w", err)
	}
	if len(data) == 0 {
		return nil, domain.ErrReservationNotFound
	}
	return reservationFromMap(data)
}

// Inventory returns the current counts for a tier
func (r *RedisLedgerRepository) Inventory(ctx context.Context, tierID string) (*domain.TierInventory, error) {
	code, fields, err := r.eval(ctx, scriptTier, tierScript, tierID, "", "inventory")
	if err != nil {
		return nil, err
	}
	if err := codeError(code); err != nil {
		return nil, err
	}

	data := pairs(fields)
	inv := &domain.TierInventory{
		EventID:  data["event_id"],
		TierID:   tierID,
		Capacity: atoi(data["capacity"]),
		Sold:     atoi(data["sold"]),
		Held:     atoi(data["held"]),
	}
	if inv.UnitPrice, err = decimal.NewFromString(data["unit_price"]); err != nil {
		return nil, fmt.Errorf("failed to parse tier price: %w", err)
	}
	return inv, nil
}

// codeError maps a script status code to a domain error
func codeError(code string) error {
	switch code {
	case "OK", "NOOP":
		return nil
	case "TIER_NOT_FOUND":
		return domain.ErrTierNotFound
	case "NOT_FOUND":
		return domain.ErrReservationNotFound
	case "INSUFFICIENT_CAPACITY":
		return domain.ErrInsufficientCapacity
	case "ALREADY_TERMINAL":
		return domain.ErrAlreadyTerminal
	case "EXPIRED":
		return domain.ErrReservationExpired
	case "CAPACITY_BELOW_COMMITTED":
		return domain.ErrCapacityBelowCommitted
	case "TIER_IN_USE":
		return domain.ErrTierInUse
	default:
		return fmt.Errorf("unexpected script result %q", code)
	}
}

func pairs(values []interface{}) map[string]string {
	out := make(map[string]string, len(values)/2)
	for i := 0; i+1 < len(values); i += 2 {
		k, _ := values[i].(string)
		v, _ := values[i+1].(string)
		out[k] = v
	}
	return out
}

func parseReservation(values []interface{}) (*domain.Reservation, error) {
	return reservationFromMap(pairs(values))
}

func reservationFromMap(data map[string]string) (*domain.Reservation, error) {
	price, err := decimal.NewFromString(data["unit_price"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse reservation price: %w", err)
	}
	res := &domain.Reservation{
		ID:            data["id"],
		EventID:       data["event_id"],
		TierID:        data["tier_id"],
		BuyerID:       data["buyer_id"],
		Quantity:      atoi(data["quantity"]),
		UnitPrice:     price,
		State:         domain.ReservationState(data["state"]),
		ReleaseReason: domain.ReleaseReason(data["release_reason"]),
		CreatedAt:     millis(data["created_at"]),
		ExpiresAt:     millis(data["expires_at"]),
	}
	if v, ok := data["confirmed_at"]; ok && v != "" {
		t := millis(v)
		res.ConfirmedAt = &t
	}
	if v, ok := data["released_at"]; ok && v != "" {
		t := millis(v)
		res.ReleasedAt = &t
	}
	return res, nil
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func millis(s string) time.Time {
	ms, _ := strconv.ParseInt(s, 10, 64)
	return time.UnixMilli(ms).UTC()
}
