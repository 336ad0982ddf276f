package redis

const (
	// appendEventScript appends a value to a timestamp-scored sorted set.
	// Members are prefixed with a zero-padded sequence so equal timestamps
	// keep their append order.
	appendEventScript = `
local events_key = KEYS[1]     -- restwell:{stream}:events
local seq_key = KEYS[2]        -- restwell:{stream}:seq

local ts = ARGV[1]
local payload = ARGV[2]

local seq = tostring(redis.call('INCR', seq_key))
local member = string.rep('0', 20 - string.len(seq)) .. seq .. '|' .. payload
redis.call('ZADD', events_key, ts, member)

return 1
`

	// appendScreenScript is appendEventScript with de-duplication of
	// (timestamp, type) pairs.
	appendScreenScript = `
local events_key = KEYS[1]     -- restwell:screen:events
local seq_key = KEYS[2]        -- restwell:screen:seq
local seen_key = KEYS[3]       -- restwell:screen:seen

local ts = ARGV[1]
local screen_type = ARGV[2]
local payload = ARGV[3]

if redis.call('HSETNX', seen_key, ts .. ':' .. screen_type, 1) == 0 then
  return 0
end

local seq = tostring(redis.call('INCR', seq_key))
local member = string.rep('0', 20 - string.len(seq)) .. seq .. '|' .. payload
redis.call('ZADD', events_key, ts, member)

return 1
`

	// deleteScreenBeforeScript prunes screen events and their de-duplication
	// entries older than the cutoff.
	deleteScreenBeforeScript = `
local events_key = KEYS[1]     -- restwell:screen:events
local seen_key = KEYS[2]       -- restwell:screen:seen

local cutoff = tonumber(ARGV[1])

local removed = redis.call('ZREMRANGEBYSCORE', events_key, '-inf', '(' .. ARGV[1])

local fields = redis.call('HKEYS', seen_key)
for _, field in ipairs(fields) do
  local ts = tonumber(string.match(field, '^(%-?%d+):'))
  if ts and ts < cutoff then
    redis.call('HDEL', seen_key, field)
  end
end

return removed
`

	// openSessionScript closes any open session for the package at the new
	// start and records the new session as open.
	openSessionScript = `
local open_key = KEYS[1]       -- restwell:app:open
local sessions_key = KEYS[2]   -- restwell:app:sessions
local session_key = KEYS[3]    -- restwell:app:session:{id}

local id = ARGV[1]
local package_name = ARGV[2]
local start = ARGV[3]
local session_prefix = ARGV[4]

local prev = redis.call('HGET', open_key, package_name)
if prev then
  local prev_key = session_prefix .. prev
  local prev_start = redis.call('HGET', prev_key, 'start')
  if prev_start then
    local ended = start
    if tonumber(prev_start) > tonumber(start) then
      ended = prev_start
    end
    redis.call('HSET', prev_key, 'end', ended)
  end
end

redis.call('HSET', session_key,
  'id', id,
  'package_name', package_name,
  'start', start
)
redis.call('ZADD', sessions_key, start, id)
redis.call('HSET', open_key, package_name, id)

return 'OK'
`

	// closeSessionScript ends the open session for a package, never before
	// its start. It returns the session id, or nil when none is open.
	closeSessionScript = `
local open_key = KEYS[1]       -- restwell:app:open

local package_name = ARGV[1]
local ended = ARGV[2]
local session_prefix = ARGV[3]

local id = redis.call('HGET', open_key, package_name)
if not id then
  return false
end

local session_key = session_prefix .. id
local start = redis.call('HGET', session_key, 'start')
if start and tonumber(start) > tonumber(ended) then
  ended = start
end
redis.call('HSET', session_key, 'end', ended)
redis.call('HDEL', open_key, package_name)

return id
`
)
