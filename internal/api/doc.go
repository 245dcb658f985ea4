// Package api exposes the JSON HTTP boundary: chat and message CRUD,
// knowledge document management and upload, similarity search, and the
// SSE answer stream.
package api
