// Package geoip resolves IP addresses to coarse locations using a local
// MaxMind GeoLite2 database. The resolver is optional: a nil *Resolver is
// valid and resolves nothing.
package geoip

import (
	"fmt"
	"net"
	"sync"

	"github.com/oschwald/maxminddb-golang"
)

type record struct {
	City struct {
		Names map[string]string `maxminddb:"names"`
	} `maxminddb:"city"`
	Country struct {
		Names map[string]string `maxminddb:"names"`
	} `maxminddb:"country"`
}

// Resolver wraps a memory-mapped GeoLite2 City database. Safe for
// concurrent use.
type Resolver struct {
	mu sync.RWMutex
	db *maxminddb.Reader
}

// Open memory-maps the database at path. The file must stay accessible
// for the lifetime of the resolver.
func Open(path string) (*Resolver, error) {
	db, err := maxminddb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open geoip database: %w", err)
	}
	return &Resolver{db: db}, nil
}

// Close releases the database mapping. Safe to call more than once and on
// a nil resolver.
func (r *Resolver) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.db == nil {
		return nil
	}
	err := r.db.Close()
	r.db = nil
	return err
}

// Lookup returns the English country and city names for an IP address.
// Unknown addresses, private ranges and a nil or closed resolver all
// return empty strings.
func (r *Resolver) Lookup(ipStr string) (country, city string) {
	if r == nil {
		return "", ""
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.db == nil {
		return "", ""
	}
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return "", ""
	}
	var rec record
	if err := r.db.Lookup(ip, &rec); err != nil {
		return "", ""
	}
	return rec.Country.Names["en"], rec.City.Names["en"]
}
