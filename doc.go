// Package streamsync implements the stream buffering, synchronization,
// and quality-adaptation core for real-time multimedia sessions.
//
// The package provides an in-process engine that integrates four
// subsystems: per-stream jitter buffers with watermark-based flow control
// (buffer), cross-stream clock synchronization with bounded drift
// correction (clock), a codec registry with adaptive-bitrate ladder
// construction (codec), and a network- and device-aware quality
// adaptation engine (adapt).
//
// Transport delivery, origin fetch, consensus messaging, and session
// management are external collaborators: the engine consumes chunks and
// condition reports through its inbound surface and publishes decisions
// and buffer/sync events through per-consumer channels.
//
// # Getting Started
//
// Create an engine, start a stream, and drive it with chunks:
//
//	engine, err := streamsync.New(nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer engine.Close()
//
//	err = engine.StartStream("cam-1", media.KindVideo,
//	    media.DefaultUserPreferences(), media.QualityConstraints{MaxBitrate: 4_000_000})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	go func() {
//	    for decision := range engine.Decisions() {
//	        applyToTransport(decision)
//	    }
//	}()
//
// The engine's periodic work (sync reconciliation and adaptation
// evaluation) is driven either by Run with a context or by calling
// Iterate from an external event loop at IterationInterval.
package streamsync
