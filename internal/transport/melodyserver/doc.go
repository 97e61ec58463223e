// Package melodyserver is the olahol/melody server transport for the
// exchange engine. Channel publishes go through BroadcastMultiple and reach
// the originating session too, which the engine learns from Capabilities.
package melodyserver
