// Package ingest runs a producer's sticker submission through validation,
// policy, persistence and broadcast.
//
// Every submission ends in a Result that records how far it got. Rejections
// never mutate the catalog except for optional audit rows.
package ingest
