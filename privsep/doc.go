// Package privsep carries filesystem requests between a network-facing
// process and a peer that holds filesystem access.
//
// The protocol is strictly one request, one response. A request names a
// path and, for Open, the open flags. The response carries a tagged result
// (a byte offset on success, an errno on failure) and, for a successful
// Open, the opened descriptor passed as SCM_RIGHTS ancillary data.
//
// Messages travel over a SOCK_SEQPACKET socket pair so each one arrives
// whole or not at all. Every message starts with a 12-byte big-endian
// header:
//
//	kind    uint32
//	id      uint32
//	length  uint32   payload length in bytes
//
// followed by the payload.
package privsep
