// Package events defines the typed wire contract for the answer stream.
//
// Every frame on the wire is `{type, timestamp, data}`. Event types, grouped
// by producer-facing concern:
//
// turn setup
//
//   - Metadata (metadata): turn/session identifiers, sentence count estimate.
//   - CachedIntro (cached_intro): pre-synthesized greeting clip played before
//     the main response at the reserved sentence index -1.
//   - BrainSelected (brain_selected): teaching mode chosen for the turn.
//
// tool execution
//
//   - ToolStart (mcp_tool_start): a named capability started executing.
//   - ToolComplete (mcp_tool_complete): capability finished; carries success,
//     duration and the error text when it failed.
//
// narration
//
//   - TextChunk (text_chunk): one segmented sentence with its index. Indices
//     are strictly increasing within a turn.
//   - AudioChunk (audio_chunk): synthesized speech for one sentence. Played in
//     non-decreasing index order, reserved index -1 first when present.
//
// visuals
//
//   - CanvasObject (canvas_object): a renderable artifact plus its placement.
//   - Reference (reference): a narration mention of an emitted artifact.
//
// terminal
//
//   - Complete (complete), Error (error), Interrupted (interrupted): exactly
//     one of these ends the stream; the producer closes the channel after it
//     and no further events are valid.
package events
