// Package testutil provides shared test helpers for the assetmesh packages.
//
// # Overview
//
// The package centers on EventRecorder, a thread-safe sink for the three
// event edges a wiring under test can emit on:
//
//   - PublishNorthbound (protocol.Publisher) - device-origin events a
//     protocol pushes back into the pipeline
//   - SendAttributeEvent (rules EventSender) - southbound writes emitted
//     by matched rules
//   - PublishCompletion (dispatcher CompletionPublisher) - completions
//     announced after the consumer chain finishes
//
// One recorder can be handed to a link registry, a rules consumer and a
// dispatcher at the same time, then interrogated after the action:
//
//	rec := testutil.NewEventRecorder()
//	registry, _ := protocol.NewLinkRegistry(rec, logger)
//	// ... exercise the registry ...
//	events := rec.WaitForNorthbound(t, 1, time.Second)
//	assert.Equal(t, "macro", events[0].Protocol)
//
// # Design Principles
//
// Real Dependencies Preferred:
//
// Packages keep small single-purpose fakes next to the tests that use them;
// testutil only holds what several packages share. Integration tests use
// real NATS via testcontainers (see natsclient), not an in-memory stand-in.
//
// Thread Safety:
//
// EventRecorder is safe for concurrent use. Accessors return copies, so a
// slice taken from the recorder cannot change underneath an assertion while
// background goroutines keep publishing.
//
// Wait Helpers:
//
// The WaitFor* helpers poll at 10ms, which bounds how fast an async test
// can finish. For synchronous code paths assert on the accessors directly.
package testutil
