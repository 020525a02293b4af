// Package uripath extracts identifiers from catalog and contract service URIs.
package uripath

import "strings"

// LastSegment returns the final path segment of a URI, which the contract and
// catalog services use as the document identifier. This is a structural
// assumption about their URI scheme (trailing-segment-is-id); if either
// service changes its URL layout this breaks, so all extraction goes through
// this one function.
func LastSegment(uri string) string {
	trimmed := strings.TrimRight(uri, "/")
	if idx := strings.LastIndexByte(trimmed, '/'); idx >= 0 {
		return trimmed[idx+1:]
	}
	return trimmed
}
