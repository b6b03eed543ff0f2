// Package eeprom persists the device's network configuration across
// reboots: whether DHCP is enabled, and the static IP/subnet/gateway/DNS/
// time-server addresses to fall back to when it isn't (§6).
package eeprom

import (
	"encoding/gob"
	"fmt"
	"net"
	"os"
)

// Record is the full set of persisted fields, one gob-encoded value per
// store, matching the six addressable EEPROM slots of the original
// firmware (DHCP-enabled flag, IP, subnet, gateway, DNS, time server).
type Record struct {
	DHCPEnabled bool
	IP          net.IP
	Subnet      net.IP
	Gateway     net.IP
	DNS         net.IP
	TimeServer  net.IP
}

// Store is a single-file gob-encoded persistence layer for Record. It is
// not safe for concurrent use; callers serialize access the same way they
// serialize everything else reaching across the Engine's lock.
type Store struct {
	path string
}

// New returns a Store backed by the file at path. The file need not exist
// yet; until the first Save, Load returns a Record with DHCPEnabled=true and
// every address field nil.
func New(path string) *Store {
	return &Store{path: path}
}

// Load reads and decodes the persisted Record. A missing file is not an
// error: it reports DHCPEnabled=true with every address field nil, matching
// a freshly flashed device whose slots all read the erased value
// 0xFFFFFFFF (§6 — slot 1 erased means DHCP enabled).
func (s *Store) Load() (Record, error) {
	f, err := os.Open(s.path)
	if os.IsNotExist(err) {
		return Record{DHCPEnabled: true}, nil
	}
	if err != nil {
		return Record{}, fmt.Errorf("eeprom: open %s: %w", s.path, err)
	}
	defer f.Close()

	var rec Record
	if err := gob.NewDecoder(f).Decode(&rec); err != nil {
		return Record{}, fmt.Errorf("eeprom: decode %s: %w", s.path, err)
	}
	return rec, nil
}

// Save encodes rec and writes it to a temporary file before renaming it
// into place, so a crash mid-write can never leave a half-written slot
// behind.
func (s *Store) Save(rec Record) error {
	tmp := s.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("eeprom: create %s: %w", tmp, err)
	}
	if err := gob.NewEncoder(f).Encode(rec); err != nil {
		f.Close()
		return fmt.Errorf("eeprom: encode %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("eeprom: close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("eeprom: rename %s -> %s: %w", tmp, s.path, err)
	}
	return nil
}
