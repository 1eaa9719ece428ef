package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/oddsledger/internal/domain"
)

// setIfNewerLua writes the observation only when its snapshot time is newer
// than the cached one, so out-of-order writers cannot regress the cache.
// KEYS[1] hash, ARGV[1] field, ARGV[2] snapshot micros, ARGV[3] payload,
// ARGV[4] ttl seconds.
const setIfNewerLua = `
local tsField = ARGV[1] .. ':ts'
local cur = redis.call('HGET', KEYS[1], tsField)
if cur and tonumber(cur) >= tonumber(ARGV[2]) then
    return 0
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[3], tsField, ARGV[2])
redis.call('EXPIRE', KEYS[1], ARGV[4])
return 1
`

// fillLua writes a store snapshot of one market field by field with the
// same newer-wins rule, then sets the market's complete marker.
// KEYS[1] hash, ARGV[1] marker field, ARGV[2] ttl seconds, then
// (field, snapshot micros, payload) triples.
const fillLua = `
for i = 3, #ARGV, 3 do
    local tsField = ARGV[i] .. ':ts'
    local cur = redis.call('HGET', KEYS[1], tsField)
    if not cur or tonumber(cur) < tonumber(ARGV[i + 1]) then
        redis.call('HSET', KEYS[1], ARGV[i], ARGV[i + 2], tsField, ARGV[i + 1])
    end
end
redis.call('HSET', KEYS[1], ARGV[1], '1')
redis.call('EXPIRE', KEYS[1], ARGV[2])
return 1
`

// OddsCache implements domain.OddsCache with one hash per game at
// "oddsledger:odds:{gameID}". Each field is "{market}:{bookmakerID}" holding
// the JSON observation, with a companion ":ts" field. "{market}:complete"
// marks a market filled from the store. Expiry and eviction drop the whole
// hash, marker included.
type OddsCache struct {
	rdb  *redis.Client
	set  *redis.Script
	fill *redis.Script
	ttl  time.Duration
}

// NewOddsCache creates an OddsCache whose entries expire after ttl of no
// writes to the game.
func NewOddsCache(c *Client, ttl time.Duration) *OddsCache {
	if ttl <= 0 {
		ttl = 48 * time.Hour
	}
	return &OddsCache{
		rdb:  c.Underlying(),
		set:  redis.NewScript(setIfNewerLua),
		fill: redis.NewScript(fillLua),
		ttl:  ttl,
	}
}

func oddsKey(gameID string) string {
	return "oddsledger:odds:" + gameID
}

func oddsField(m domain.Market, bookmakerID int64) string {
	return string(m) + ":" + strconv.FormatInt(bookmakerID, 10)
}

func completeField(m domain.Market) string {
	return string(m) + ":complete"
}

// SetCurrent caches obs as the current row of its (game, market, bookmaker).
func (oc *OddsCache) SetCurrent(ctx context.Context, obs domain.Observation) error {
	payload, err := json.Marshal(obs)
	if err != nil {
		return fmt.Errorf("redis: marshal observation: %w", err)
	}
	err = oc.set.Run(ctx, oc.rdb,
		[]string{oddsKey(obs.GameID)},
		oddsField(obs.Market, obs.BookmakerID),
		obs.SnapshotTime.UnixMicro(),
		payload,
		int64(oc.ttl.Seconds()),
	).Err()
	if err != nil {
		return fmt.Errorf("redis: set odds %s: %w", obs.GameID, err)
	}
	return nil
}

// FillCurrent caches the store's current rows of market for gameID and
// marks the market complete.
func (oc *OddsCache) FillCurrent(ctx context.Context, gameID string, market domain.Market, obs []domain.Observation) error {
	args := make([]any, 0, 2+3*len(obs))
	args = append(args, completeField(market), int64(oc.ttl.Seconds()))
	for _, o := range obs {
		payload, err := json.Marshal(o)
		if err != nil {
			return fmt.Errorf("redis: marshal observation: %w", err)
		}
		args = append(args, oddsField(market, o.BookmakerID), o.SnapshotTime.UnixMicro(), payload)
	}
	if err := oc.fill.Run(ctx, oc.rdb, []string{oddsKey(gameID)}, args...).Err(); err != nil {
		return fmt.Errorf("redis: fill odds %s %s: %w", gameID, market, err)
	}
	return nil
}

// GetCurrent returns the cached rows of market for gameID. complete is false
// unless the market was filled from the store since the hash was created;
// callers then read the store.
func (oc *OddsCache) GetCurrent(ctx context.Context, gameID string, market domain.Market) ([]domain.Observation, bool, error) {
	vals, err := oc.rdb.HGetAll(ctx, oddsKey(gameID)).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redis: get odds %s: %w", gameID, err)
	}
	marker := completeField(market)
	if _, ok := vals[marker]; !ok {
		return nil, false, nil
	}

	prefix := string(market) + ":"
	var out []domain.Observation
	for field, v := range vals {
		if !strings.HasPrefix(field, prefix) || field == marker || strings.HasSuffix(field, ":ts") {
			continue
		}
		var obs domain.Observation
		if err := json.Unmarshal([]byte(v), &obs); err != nil {
			return nil, false, fmt.Errorf("redis: decode odds %s %s: %w", gameID, field, err)
		}
		out = append(out, obs)
	}
	sortByBookmaker(out)
	return out, true, nil
}

func sortByBookmaker(obs []domain.Observation) {
	sort.Slice(obs, func(i, j int) bool { return obs[i].BookmakerID < obs[j].BookmakerID })
}

var _ domain.OddsCache = (*OddsCache)(nil)
