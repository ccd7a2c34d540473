// Package codec implements the codec registry for streamsync.
//
// The registry catalogs codec profiles with their capability envelopes
// (encode/decode support, hardware acceleration, resolution, bitrate, and
// framerate caps), scores and selects codecs against constraints, and
// builds the adaptive-bitrate ladders the quality adaptation engine
// switches across.
//
// The registry is read-mostly: profiles are loaded at startup and shared
// read-only across all streams; re-registration is rare and serialized.
// Selection and ladder building are pure computations with no I/O, so
// they are safe on any scheduler path.
package codec
