// Package state provides the per-user conversation session store for Telegram bots.
// Sessions expire after a fixed inactivity window; an expired session is
// indistinguishable from one that never existed.
package state
