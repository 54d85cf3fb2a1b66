/*
Command storyd serves Discover Cards story sessions over HTTP.

Each session wraps a story coordinator that walks a fixed number of segments,
filling each one over the configured segment duration. All coordinators share
one serialized event loop, so timer ticks and client commands never race.

Flow:

	client ──HTTP──▶ api ──▶ carousel.Manager ──Call──▶ loop ──▶ story.Coordinator
	                                                                  │
	                                                           progress.Hub
	                                              ┌──────────┬────────┼─────────┬──────────┐
	                                            store   prometheus archive  publisher    log

Routes under /v1/stories mutate sessions (create, command, seek, gestures,
lifecycle, dismiss). Routes under /api/stories read the persisted view of
finished and in-flight stories, plus the archived JSONL timeline of events.
/healthz, /readyz and /metrics are unauthenticated.

Configuration comes from STORY_* environment variables or the file passed
with -config. See internal/config for keys and defaults.
*/
package main
