// Package events defines the typed event model shared by the relay, the wire
// codec and the client.
//
// Two closed families exist:
//
//   - Update: what the upstream model service emits (upstream.*).
//   - ServerMessage: what the relay sends to its client (client.*).
//
// Semantics used across the package:
//
//   - Delta: append-only fragment, applied in arrival order per id.
//   - Finished/Done: lifecycle boundary, nothing further is expected.
//
// upstream events
//
//   - SessionStarted (upstream.session_started): session ready.
//   - SpeechStarted (upstream.speech_started): user speech detected.
//   - SpeechFinished (upstream.speech_finished): user speech ended.
//   - StreamingDelta (upstream.streaming_delta): text and/or audio fragment of
//     an assistant item.
//   - TranscriptionFinished (upstream.transcription_finished): final transcript
//     of a user item.
//   - StreamFinished (upstream.stream_finished): response complete.
//   - UpstreamError (upstream.error): service-reported or transport error.
//
// client events
//
//   - Control (client.control): connected, speech_started, text_done, error.
//   - TextDelta (client.text_delta): assistant text fragment.
//   - Transcription (client.transcription): final user transcript.
//   - UserMessage (client.user_message): typed user text, client to relay.
package events
