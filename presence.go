package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// PresenceJoinResult reports whether a join newly added the user_id to the
// channel (so the caller knows whether to broadcast member_added) plus the
// roster snapshot to hand back to the joining client.
type PresenceJoinResult struct {
	Added    bool
	Snapshot []PresenceMember
}

// PresenceMember is a single roster entry: {user_id, user_info}.
type PresenceMember struct {
	UserID   string          `json:"user_id"`
	UserInfo json.RawMessage `json:"user_info,omitempty"`
}

// PresenceStore is C2: atomic add/remove/list of members in a presence
// channel, backed by Redis. Join and leave are each a single Lua script
// invocation so the per-(channel,user_id) reference count and the roster
// hash update atomically — otherwise invariant 2 (roster membership tracks
// live sockets exactly) can be violated by interleaved joins from two nodes.
type PresenceStore struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger zerolog.Logger

	joinScript  *redis.Script
	leaveScript *redis.Script
}

func NewPresenceStore(redisURL string, ttl time.Duration, logger zerolog.Logger) (*PresenceStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)

	return &PresenceStore{
		rdb:         rdb,
		ttl:         ttl,
		logger:      logger.With().Str("component", "presence").Logger(),
		joinScript:  redis.NewScript(presenceJoinLua),
		leaveScript: redis.NewScript(presenceLeaveLua),
	}, nil
}

// presenceJoinLua increments the per-(channel,user_id) socket hold count and
// writes user_info into the roster hash the first time a user_id appears.
// KEYS[1] = counts hash (user_id -> hold count)
// KEYS[2] = roster hash (user_id -> user_info JSON)
// ARGV[1] = user_id, ARGV[2] = user_info JSON, ARGV[3] = ttl seconds
// Returns 1 if this was the first socket for user_id, else 0.
const presenceJoinLua = `
local count = redis.call('HINCRBY', KEYS[1], ARGV[1], 1)
local added = 0
if count == 1 then
  redis.call('HSET', KEYS[2], ARGV[1], ARGV[2])
  added = 1
end
redis.call('EXPIRE', KEYS[1], ARGV[3])
redis.call('EXPIRE', KEYS[2], ARGV[3])
return added
`

// presenceLeaveLua decrements the hold count and removes the roster entry
// once it reaches zero.
// KEYS[1] = counts hash, KEYS[2] = roster hash, ARGV[1] = user_id, ARGV[2] = ttl seconds
// Returns 1 if this was the last socket for user_id (Removed), else 0.
const presenceLeaveLua = `
local count = redis.call('HINCRBY', KEYS[1], ARGV[1], -1)
local removed = 0
if count <= 0 then
  redis.call('HDEL', KEYS[1], ARGV[1])
  redis.call('HDEL', KEYS[2], ARGV[1])
  removed = 1
end
redis.call('EXPIRE', KEYS[1], ARGV[2])
redis.call('EXPIRE', KEYS[2], ARGV[2])
return removed
`

func (p *PresenceStore) countsKey(channel string) string { return "presence:counts:" + channel }
func (p *PresenceStore) rosterKey(channel string) string { return "presence:roster:" + channel }

// Join atomically records channel membership for a socket holding user_id,
// returning whether the user_id was newly present and the current roster.
func (p *PresenceStore) Join(ctx context.Context, channel, userID string, userInfo json.RawMessage) (PresenceJoinResult, error) {
	if userInfo == nil {
		userInfo = json.RawMessage("null")
	}

	added, err := p.joinScript.Run(ctx, p.rdb,
		[]string{p.countsKey(channel), p.rosterKey(channel)},
		userID, string(userInfo), int(p.ttl.Seconds()),
	).Int()
	if err != nil {
		return PresenceJoinResult{}, fmt.Errorf("presence join: %w", err)
	}

	snapshot, err := p.Roster(ctx, channel)
	if err != nil {
		return PresenceJoinResult{}, err
	}

	return PresenceJoinResult{Added: added == 1, Snapshot: snapshot}, nil
}

// Leave atomically removes this socket's hold on user_id, returning true only
// when the last socket for that user_id in the channel has left.
func (p *PresenceStore) Leave(ctx context.Context, channel, userID string) (removed bool, err error) {
	result, err := p.leaveScript.Run(ctx, p.rdb,
		[]string{p.countsKey(channel), p.rosterKey(channel)},
		userID, int(p.ttl.Seconds()),
	).Int()
	if err != nil {
		return false, fmt.Errorf("presence leave: %w", err)
	}
	return result == 1, nil
}

// Roster lists every current member of a presence channel.
func (p *PresenceStore) Roster(ctx context.Context, channel string) ([]PresenceMember, error) {
	entries, err := p.rdb.HGetAll(ctx, p.rosterKey(channel)).Result()
	if err != nil {
		return nil, fmt.Errorf("presence roster: %w", err)
	}

	members := make([]PresenceMember, 0, len(entries))
	for userID, userInfo := range entries {
		members = append(members, PresenceMember{UserID: userID, UserInfo: json.RawMessage(userInfo)})
	}
	return members, nil
}

func (p *PresenceStore) Close() error {
	return p.rdb.Close()
}
