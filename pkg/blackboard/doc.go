// Package blackboard provides the shared state document for the patchbay
// workbench.
//
// # Overview
//
// Every actor (the operator's browser, the audio engine, automation
// clients) coordinates through one document. There is no push channel:
// actors poll Read and write with Update, which merges only the fields
// present in a Partial.
//
// # Commands
//
// One-shot commands (transport, trigger, note) are written into the
// document with a nonce. They are never queued or deleted; a receiver runs
// a command when its nonce is greater than the last one it applied for
// that class. See internal/receiver for the receiving side.
//
// # Session boundaries
//
// Switching the active session, or clearing it, drops parameter values,
// the UI descriptor, pending commands and telemetry from the previous
// session. View, polyphony and the audio unlock flag survive.
//
// # Usage Example
//
//	client, err := blackboard.NewClient(&redis.Options{Addr: "localhost:6379"}, "default")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Close()
//
//	doc, err := client.Update(ctx, &blackboard.Partial{
//		View:   blackboard.ViewRun,
//		Params: map[string]float64{"/synth/freq": 440},
//	})
//
// # Redis Schema
//
// The document is a single hash: patchbay:{instance_name}:state
//
// Structured fields (session, params, commands, telemetry) are JSON-encoded
// into single hash fields. Writes use WATCH/MULTI so concurrent writers in
// different processes never interleave a read-merge-write cycle.
package blackboard
