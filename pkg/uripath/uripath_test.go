package uripath

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLastSegment(t *testing.T) {
	cases := map[string]string{
		"https://catalog.example/catalog/participants/66d18724ee71f9f096baec07": "66d18724ee71f9f096baec07",
		"https://contract.example/contracts/abc123/":                            "abc123",
		"abc123":        "abc123",
		"/participants": "participants",
	}
	for uri, want := range cases {
		assert.Equal(t, want, LastSegment(uri), "uri %q", uri)
	}
}
