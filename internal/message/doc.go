// Package message defines the messages exchanged between the transport
// layer and its workers, and the queues that carry them.
//
// Every queue has a process-unique id. Producers address a queue by id and
// resolve it through the registry at delivery time, so a queue that went
// away is simply skipped rather than dereferenced.
package message
