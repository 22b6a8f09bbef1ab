// Package httpapi exposes the task engine over HTTP.
//
// Routes:
//
//	POST   /upload             multipart upload, one task per file part
//	GET    /tasks/{id}         task status view
//	DELETE /tasks/{id}         forget a task
//	POST   /tasks/{id}/cancel  cancel a task
//	GET    /stats              engine, bus and goroutine counters
//	GET    /audit              recent audit entries (storage enabled only)
//	GET    /health             liveness
package httpapi
