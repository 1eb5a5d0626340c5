// Package geoip provides optional egress-region lookup for proxy hosts
// from a local MaxMind-format database. When no database is configured the
// service answers with empty regions and never errors.
package geoip

import (
	"fmt"
	"log"
	"net"
	"sync"

	"github.com/oschwald/maxminddb-golang"
)

// countryRecord is the subset of the mmdb country schema we read.
type countryRecord struct {
	Country struct {
		ISOCode string `maxminddb:"iso_code"`
	} `maxminddb:"country"`
}

// Service answers region lookups from an optional mmdb file.
type Service struct {
	mu     sync.RWMutex
	reader *maxminddb.Reader
}

// Open creates a Service over the database at path. An empty path yields a
// disabled service; a missing or corrupt file is an error.
func Open(path string) (*Service, error) {
	s := &Service{}
	if path == "" {
		return s, nil
	}
	reader, err := maxminddb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("geoip: open %s: %w", path, err)
	}
	s.reader = reader
	log.Printf("[geoip] loaded %s (%s)", path, reader.Metadata.DatabaseType)
	return s, nil
}

// Close releases the database.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reader == nil {
		return nil
	}
	err := s.reader.Close()
	s.reader = nil
	return err
}

// Lookup returns the ISO country code for a host, or "" when the service
// is disabled, the host does not resolve to an IP literal, or the database
// has no record for it.
func (s *Service) Lookup(host string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.reader == nil {
		return ""
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return ""
	}
	var rec countryRecord
	if err := s.reader.Lookup(ip, &rec); err != nil {
		return ""
	}
	return rec.Country.ISOCode
}
