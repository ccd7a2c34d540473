// Package adapt implements the quality adaptation engine for streamsync.
//
// The engine keeps one adaptation context per stream, combining network
// conditions, device capabilities, user preferences, and buffer and sync
// signals, and produces adaptation decisions over the codec registry's
// quality ladder.
//
// Design Philosophy:
// - Use simple, proven rules instead of complex ML approaches; the
//   scoring strategy is pluggable but the rule-based scorer is the
//   default, mandatory implementation
// - React immediately to underrun and desync signals through an
//   emergency path that skips hysteresis
// - Recover deliberately: normal upgrades are gated by rung-distance
//   hysteresis and a dwell-time cooldown to prevent flapping
// - Decisions are immutable values consumed immediately by the caller;
//   decisions for a stream are totally ordered
package adapt
