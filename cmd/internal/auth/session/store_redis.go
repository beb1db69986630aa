package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
)

// Lua keeps every mutation a single server-side step, which is what
// gives this store the conditional-update guarantees the contract
// demands. Key names derived from values (tok:<prev>, id:<sid>) are
// built inside the scripts; that rules out Redis Cluster, which is fine
// for the single-node deployments this backend targets.

var redisInsertScript = redis.NewScript(`
local tok_key = KEYS[1]
local id_key = KEYS[2]
local own_key = KEYS[3]

if redis.call("EXISTS", tok_key) == 1 then
  return 0
end

redis.call("SET", tok_key, ARGV[1])
redis.call("HSET", id_key,
  "owner", ARGV[2],
  "cred", ARGV[3],
  "issued_at", ARGV[4],
  "expires_at", ARGV[5],
  "created_from", ARGV[6])
redis.call("SADD", own_key, ARGV[1])
redis.call("PEXPIREAT", tok_key, ARGV[7])
redis.call("PEXPIREAT", id_key, ARGV[7])
return 1
`)

var redisRotateScript = redis.NewScript(`
local old_tok_key = KEYS[1]
local id_key = KEYS[2]
local new_tok_key = KEYS[3]
local tok_prefix = ARGV[7]

local sid = redis.call("GET", old_tok_key)
if not sid or sid ~= ARGV[1] then
  return 0
end
if redis.call("HGET", id_key, "cred") ~= ARGV[2] then
  return 0
end
if redis.call("HGET", id_key, "revoked_at") then
  return 0
end

local prev = redis.call("HGET", id_key, "prev")
if prev then
  redis.call("DEL", tok_prefix .. prev)
end

redis.call("HSET", id_key,
  "prev", ARGV[2],
  "cred", ARGV[3],
  "last_used_at", ARGV[4],
  "expires_at", ARGV[5])
redis.call("HDEL", id_key, "revoked_at", "reason", "revoked_from")
redis.call("SET", new_tok_key, sid)

-- The old token key stays alive: it now serves previous-hash lookups
-- so a replayed pre-rotation token still reaches the record.
redis.call("PEXPIREAT", old_tok_key, ARGV[6])
redis.call("PEXPIREAT", new_tok_key, ARGV[6])
redis.call("PEXPIREAT", id_key, ARGV[6])
return 1
`)

var redisRevokeByHashScript = redis.NewScript(`
local tok_key = KEYS[1]
local id_prefix = ARGV[5]

local sid = redis.call("GET", tok_key)
if not sid then
  return 0
end
local id_key = id_prefix .. sid
if redis.call("HGET", id_key, "cred") ~= ARGV[1] then
  return 0
end
if redis.call("HGET", id_key, "revoked_at") then
  return 0
end

redis.call("HSET", id_key,
  "revoked_at", ARGV[2],
  "reason", ARGV[3],
  "revoked_from", ARGV[4])
return 1
`)

var redisRevokeAllScript = redis.NewScript(`
local own_key = KEYS[1]
local id_prefix = ARGV[4]

local n = 0
for _, sid in ipairs(redis.call("SMEMBERS", own_key)) do
  local id_key = id_prefix .. sid
  if redis.call("EXISTS", id_key) == 0 then
    redis.call("SREM", own_key, sid)
  elseif not redis.call("HGET", id_key, "revoked_at") then
    redis.call("HSET", id_key,
      "revoked_at", ARGV[1],
      "reason", ARGV[2],
      "revoked_from", ARGV[3])
    n = n + 1
  end
end
return n
`)

var redisUpdateScript = redis.NewScript(`
local id_key = KEYS[1]
local tok_prefix = ARGV[12]

if redis.call("EXISTS", id_key) == 0 then
  return 0
end

local old_cred = redis.call("HGET", id_key, "cred")
if old_cred and old_cred ~= ARGV[2] then
  redis.call("DEL", tok_prefix .. old_cred)
end
local old_prev = redis.call("HGET", id_key, "prev")
if old_prev and old_prev ~= ARGV[3] then
  redis.call("DEL", tok_prefix .. old_prev)
end

redis.call("DEL", id_key)
redis.call("HSET", id_key,
  "owner", ARGV[1],
  "cred", ARGV[2],
  "issued_at", ARGV[4],
  "expires_at", ARGV[6],
  "created_from", ARGV[10])
if ARGV[3] ~= "" then redis.call("HSET", id_key, "prev", ARGV[3]) end
if ARGV[5] ~= "" then redis.call("HSET", id_key, "last_used_at", ARGV[5]) end
if ARGV[7] ~= "" then redis.call("HSET", id_key, "revoked_at", ARGV[7]) end
if ARGV[8] ~= "" then redis.call("HSET", id_key, "reason", ARGV[8]) end
if ARGV[9] ~= "" then redis.call("HSET", id_key, "revoked_from", ARGV[9]) end

local sid = string.sub(id_key, string.len(ARGV[13]) + 1)
redis.call("SET", tok_prefix .. ARGV[2], sid)
redis.call("PEXPIREAT", tok_prefix .. ARGV[2], ARGV[11])
if ARGV[3] ~= "" then
  redis.call("SET", tok_prefix .. ARGV[3], sid)
  redis.call("PEXPIREAT", tok_prefix .. ARGV[3], ARGV[11])
end
redis.call("PEXPIREAT", id_key, ARGV[11])
return 1
`)

// RedisStore implements Store on Redis.
//
// Layout (under the configured prefix, default "sess"):
//
//	sess:tok:<hash>  -> session id, for current and previous hashes
//	sess:id:<sid>    -> record fields as a Redis hash
//	sess:own:<owner> -> set of session ids
//
// Expiry is storage-native: record and token keys carry PEXPIREAT at
// the record's expiry, so expired records stop being queryable without
// a reaper. DeleteExpiredBefore is therefore a no-op.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore creates a Redis-backed session store. The client is
// owned by the caller.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "sess"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) tokKey(hash string) string  { return s.prefix + ":tok:" + hash }
func (s *RedisStore) idKey(sid string) string    { return s.prefix + ":id:" + sid }
func (s *RedisStore) ownKey(owner string) string { return s.prefix + ":own:" + owner }

// FindByHash loads a record by its current or previous credential hash.
func (s *RedisStore) FindByHash(ctx context.Context, credentialHash string) (Record, error) {
	sid, err := s.client.Get(ctx, s.tokKey(credentialHash)).Result()
	if errors.Is(err, redis.Nil) {
		return Record{}, ErrSessionNotFound
	}
	if err != nil {
		return Record{}, err
	}

	rec, err := s.loadRecord(ctx, sid)
	if err != nil {
		return Record{}, err
	}
	// Guard against a stale token mapping left by a full-record Update.
	if rec.CredentialHash != credentialHash &&
		(rec.PrevCredentialHash == nil || *rec.PrevCredentialHash != credentialHash) {
		return Record{}, ErrSessionNotFound
	}
	return rec, nil
}

// FindAllByOwner returns all live records for ownerID, oldest first.
func (s *RedisStore) FindAllByOwner(ctx context.Context, ownerID string) ([]Record, error) {
	sids, err := s.client.SMembers(ctx, s.ownKey(ownerID)).Result()
	if err != nil {
		return nil, err
	}

	out := make([]Record, 0, len(sids))
	for _, sid := range sids {
		rec, err := s.loadRecord(ctx, sid)
		if errors.Is(err, ErrSessionNotFound) {
			continue // expired out from under the owner set
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	sortRecordsByID(out)
	return out, nil
}

// Insert persists a new record under a fresh ULID.
func (s *RedisStore) Insert(ctx context.Context, rec Record) (Record, error) {
	rec.SessionID = ulid.Make().String()

	ok, err := redisInsertScript.Run(ctx, s.client,
		[]string{s.tokKey(rec.CredentialHash), s.idKey(rec.SessionID), s.ownKey(rec.OwnerID)},
		rec.SessionID,
		rec.OwnerID,
		rec.CredentialHash,
		formatTime(rec.IssuedAt),
		formatTime(rec.ExpiresAt),
		rec.CreatedFromAddr,
		rec.ExpiresAt.UnixMilli(),
	).Int64()
	if err != nil {
		return Record{}, err
	}
	if ok == 0 {
		return Record{}, ErrDuplicateHash
	}
	return rec, nil
}

// Update fully replaces the record identified by rec.SessionID.
func (s *RedisStore) Update(ctx context.Context, rec Record) error {
	prev := ""
	if rec.PrevCredentialHash != nil {
		prev = *rec.PrevCredentialHash
	}

	ok, err := redisUpdateScript.Run(ctx, s.client,
		[]string{s.idKey(rec.SessionID)},
		rec.OwnerID,
		rec.CredentialHash,
		prev,
		formatTime(rec.IssuedAt),
		formatTimePtr(rec.LastUsedAt),
		formatTime(rec.ExpiresAt),
		formatTimePtr(rec.RevokedAt),
		strPtrOrEmpty(rec.RevocationReason),
		strPtrOrEmpty(rec.RevokedFromAddr),
		rec.CreatedFromAddr,
		rec.ExpiresAt.UnixMilli(),
		s.prefix+":tok:",
		s.prefix+":id:",
	).Int64()
	if err != nil {
		return err
	}
	if ok == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// Rotate swaps the credential in place, keyed by the old hash.
func (s *RedisStore) Rotate(ctx context.Context, now time.Time, sessionID, oldHash, newHash string, expiresAt time.Time) (bool, error) {
	ok, err := redisRotateScript.Run(ctx, s.client,
		[]string{s.tokKey(oldHash), s.idKey(sessionID), s.tokKey(newHash)},
		sessionID,
		oldHash,
		newHash,
		formatTime(now),
		formatTime(expiresAt),
		expiresAt.UnixMilli(),
		s.prefix+":tok:",
	).Int64()
	if err != nil {
		return false, err
	}
	return ok == 1, nil
}

// RevokeByHash revokes the non-revoked record currently keyed by credentialHash.
func (s *RedisStore) RevokeByHash(ctx context.Context, now time.Time, credentialHash, reason, fromAddr string) (bool, error) {
	ok, err := redisRevokeByHashScript.Run(ctx, s.client,
		[]string{s.tokKey(credentialHash)},
		credentialHash,
		formatTime(now),
		reason,
		fromAddr,
		s.prefix+":id:",
	).Int64()
	if err != nil {
		return false, err
	}
	return ok == 1, nil
}

// RevokeAllForOwner revokes every still-active record of ownerID.
func (s *RedisStore) RevokeAllForOwner(ctx context.Context, now time.Time, ownerID, reason, fromAddr string) (int64, error) {
	return redisRevokeAllScript.Run(ctx, s.client,
		[]string{s.ownKey(ownerID)},
		formatTime(now),
		reason,
		fromAddr,
		s.prefix+":id:",
	).Int64()
}

// DeleteExpiredBefore is a no-op: key TTLs already remove expired records.
func (s *RedisStore) DeleteExpiredBefore(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

func (s *RedisStore) loadRecord(ctx context.Context, sid string) (Record, error) {
	fields, err := s.client.HGetAll(ctx, s.idKey(sid)).Result()
	if err != nil {
		return Record{}, err
	}
	if len(fields) == 0 {
		return Record{}, ErrSessionNotFound
	}

	rec := Record{
		SessionID:       sid,
		OwnerID:         fields["owner"],
		CredentialHash:  fields["cred"],
		CreatedFromAddr: fields["created_from"],
	}
	if v := fields["prev"]; v != "" {
		rec.PrevCredentialHash = &v
	}
	if v := fields["reason"]; v != "" {
		rec.RevocationReason = &v
	}
	if v := fields["revoked_from"]; v != "" {
		rec.RevokedFromAddr = &v
	}
	if rec.IssuedAt, err = parseTime(fields["issued_at"]); err != nil {
		return Record{}, fmt.Errorf("session %s: %w", sid, err)
	}
	if rec.ExpiresAt, err = parseTime(fields["expires_at"]); err != nil {
		return Record{}, fmt.Errorf("session %s: %w", sid, err)
	}
	if rec.LastUsedAt, err = parseTimePtr(fields["last_used_at"]); err != nil {
		return Record{}, fmt.Errorf("session %s: %w", sid, err)
	}
	if rec.RevokedAt, err = parseTimePtr(fields["revoked_at"]); err != nil {
		return Record{}, fmt.Errorf("session %s: %w", sid, err)
	}
	return rec, nil
}

// ULIDs sort by creation time, so ordering by id is oldest-first.
func sortRecordsByID(recs []Record) {
	sort.Slice(recs, func(i, j int) bool { return recs[i].SessionID < recs[j].SessionID })
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad stored timestamp %q: %w", s, err)
	}
	return t, nil
}

func parseTimePtr(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := parseTime(s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func strPtrOrEmpty(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
