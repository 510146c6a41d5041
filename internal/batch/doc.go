// Package batch writes records to an OData entity store through multipart
// $batch requests.
//
// Records are rendered into embedded HTTP sub-requests by an Encoder, grouped
// into chunks of at most odata.MaxBatchSize and sent one chunk at a time by a
// Writer. The writer returns the raw response of every completed chunk; it
// does not inspect the per-part statuses inside them. ParseResponse splits a
// response body for callers that need them.
package batch
