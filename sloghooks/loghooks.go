package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/memcoord"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	SelfHealEvery    uint64
	QueueDepthEvery  uint64
	// Optional key redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	selfHealCtr atomic.Uint64
	queuedCtr   atomic.Uint64
}

var _ memcoord.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) DialFailed(addr string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("memcoord.dial_failed",
		"addr", addr,
		"err", err)
}

func (h *Hooks) ConnLost(addr string) {
	if h.l == nil {
		return
	}
	h.l.Warn("memcoord.conn_lost",
		"addr", addr)
}

func (h *Hooks) RequestQueued(addr string, depth int) {
	if h.l == nil || !sample(h.opts.QueueDepthEvery, &h.queuedCtr) {
		return
	}
	h.l.Info("memcoord.request_queued",
		"addr", addr,
		"depth", depth)
}

func (h *Hooks) SelfHeal(storageKey, reason string) {
	if h.l == nil || !sample(h.opts.SelfHealEvery, &h.selfHealCtr) {
		return
	}
	h.l.Debug("memcoord.self_heal",
		"key", h.redact(storageKey),
		"reason", reason)
}

func (h *Hooks) CacheWriteDropped(ns string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("memcoord.cache_write_dropped",
		"ns", ns,
		"err", err)
}

func (h *Hooks) LockTimeout(name string, ticket uint64) {
	if h.l == nil {
		return
	}
	h.l.Info("memcoord.lock_timeout",
		"name", name,
		"ticket", ticket)
}
