package distributed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrPoolExhausted      = errors.New("no free resource in pool")
	ErrReservationNotHeld = errors.New("reservation not held")
)

// ReservationPool hands out exclusive, TTL-bounded reservations of named
// resources (session servers, voice lobbies) registered in Redis.
type ReservationPool struct {
	client *redis.Client
	name   string
	ttl    time.Duration
}

// Reservation is a single resource held by one match.
type Reservation struct {
	client     *redis.Client
	key        string
	holder     string
	ResourceID string
}

func NewReservationPool(client *redis.Client, name string, ttl time.Duration) *ReservationPool {
	return &ReservationPool{
		client: client,
		name:   name,
		ttl:    ttl,
	}
}

func (p *ReservationPool) membersKey() string {
	return fmt.Sprintf("pool:%s:members", p.name)
}

func (p *ReservationPool) reservationKey(resourceID string) string {
	return fmt.Sprintf("pool:%s:reserved:%s", p.name, resourceID)
}

// Register adds resources to the pool. Registering an existing resource is a
// no-op.
func (p *ReservationPool) Register(ctx context.Context, resourceIDs ...string) error {
	if len(resourceIDs) == 0 {
		return nil
	}

	members := make([]interface{}, len(resourceIDs))
	for i, id := range resourceIDs {
		members[i] = id
	}

	if err := p.client.SAdd(ctx, p.membersKey(), members...).Err(); err != nil {
		return fmt.Errorf("failed to register resources: %w", err)
	}
	return nil
}

// Reserve claims the first free resource for the given holder. SET NX makes
// the claim atomic; concurrent callers never share a resource.
func (p *ReservationPool) Reserve(ctx context.Context, holder string) (*Reservation, error) {
	ids, err := p.client.SMembers(ctx, p.membersKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list pool members: %w", err)
	}

	for _, id := range ids {
		key := p.reservationKey(id)
		ok, err := p.client.SetNX(ctx, key, holder, p.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to reserve resource: %w", err)
		}
		if ok {
			return &Reservation{
				client:     p.client,
				key:        key,
				holder:     holder,
				ResourceID: id,
			}, nil
		}
	}

	return nil, ErrPoolExhausted
}

// Release frees the resource. A Lua compare-and-delete ensures only the
// holder can release; a reservation expired and re-claimed by another match
// is left alone.
func (r *Reservation) Release(ctx context.Context) error {
	script := redis.NewScript(`
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		else
			return 0
		end
	`)

	result, err := script.Run(ctx, r.client, []string{r.key}, r.holder).Int()
	if err != nil {
		return err
	}

	if result == 0 {
		return ErrReservationNotHeld
	}

	return nil
}

// Extend pushes out the reservation TTL while the match session is live.
func (r *Reservation) Extend(ctx context.Context, extension time.Duration) error {
	script := redis.NewScript(`
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("PEXPIRE", KEYS[1], ARGV[2])
		else
			return 0
		end
	`)

	result, err := script.Run(ctx, r.client, []string{r.key}, r.holder, extension.Milliseconds()).Int()
	if err != nil {
		return err
	}

	if result == 0 {
		return ErrReservationNotHeld
	}

	return nil
}

// IsHeld reports whether the reservation is still owned by its holder.
func (r *Reservation) IsHeld(ctx context.Context) (bool, error) {
	value, err := r.client.Get(ctx, r.key).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	return value == r.holder, nil
}
