// Package ratelimit implements fixed-window rate limiting with ban
// escalation.
//
// A window is tracked per subject (an IP, a user, an API key). The first
// request after a window elapses opens a new one. Requests beyond the limit
// are denied until the window closes; once the number of denials in a
// window reaches BanThreshold the subject is banned for BanDuration, and
// requests during a ban are denied without touching the window count.
//
// MemoryLimiter keeps windows in process; RedisLimiter evaluates the same
// state machine in a single Lua script so that replicas share counters.
// Layered combines several independent checks that must all pass.
package ratelimit
