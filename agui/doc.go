// Package agui defines the normalized event vocabulary every vendor adapter
// produces and every consumer understands. It is a closed tagged union: each
// event kind is its own struct implementing the unexported marker method, so
// consumers can switch exhaustively and the compiler keeps them honest when
// the vocabulary grows.
//
// The wire form follows the AG-UI convention: camelCase payload fields plus an
// UPPER_SNAKE "type" discriminator, e.g.
//
//	{"type":"TEXT_MESSAGE_CONTENT","messageId":"m1","delta":"Hi","timestamp":1700000000000}
//
// Text and tool-argument payloads are incremental deltas. An adapter never
// re-sends previously delivered bytes; consumers reconstruct the full value by
// concatenation.
package agui
