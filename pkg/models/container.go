// Package models contains the data records shared by the client, the
// cache and the filesystem.
package models

import (
	"strings"
	"time"
)

// ShortIDLength is the length of the abbreviated container id Docker
// prints in its CLI.
const ShortIDLength = 12

// ContainerSummary is a container as reported by the daemon's list
// endpoint, before it is admitted into the cache.
type ContainerSummary struct {
	ID      string    `json:"id"`
	Names   []string  `json:"names"`
	Image   string    `json:"image,omitempty"`
	State   string    `json:"state,omitempty"`
	Status  string    `json:"status,omitempty"`
	Created time.Time `json:"created"`
}

// Container is a container admitted into the cache. Ino is derived from
// ID once at admission and never recomputed.
type Container struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	Names   []string  `json:"names,omitempty"`
	Image   string    `json:"image,omitempty"`
	State   string    `json:"state,omitempty"`
	Status  string    `json:"status,omitempty"`
	Created time.Time `json:"created"`
	Ino     uint64    `json:"ino"`
}

// ShortID returns the abbreviated form of the container id.
func (c Container) ShortID() string {
	return ShortID(c.ID)
}

// ShortID truncates id to ShortIDLength.
func ShortID(id string) string {
	if len(id) > ShortIDLength {
		return id[:ShortIDLength]
	}
	return id
}

// TrimNames strips the leading path separator Docker prepends to
// container names.
func TrimNames(names []string) []string {
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, strings.TrimLeft(name, "/"))
	}
	return out
}

// DisplayName picks the name a container is listed under: the first
// daemon name that is a single path component, or the short id when the
// daemon reports none. Legacy link aliases such as "web/db" are skipped.
func DisplayName(id string, names []string) string {
	for _, name := range names {
		if name != "" && !strings.Contains(name, "/") {
			return name
		}
	}
	return ShortID(id)
}
