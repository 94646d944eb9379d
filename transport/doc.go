// Package transport contains the delivery side of the messaging runtime:
// the in-memory Mailbox, the in-process Local transport, the Router that
// falls back to a remote transport, and the Correlator used for
// request-reply. HTTP delivery lives in transport/httptransport.
package transport
