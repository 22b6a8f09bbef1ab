// Package imaging holds the image side of imagetasks: decoding uploads,
// per-task transforms, JPEG persistence and artifact naming.
package imaging
