/*
 * Copyright (c) 2024 Johan Stenstam, johan.stenstam@internetstiftelsen.se
 */

// Package rpc implements the DNSSEC lifecycle controller: the
// per-zone flag store, the DNS probe, the backend adapter contract,
// the ten primitive lifecycle commands plus their four compound
// drivers, and the command dispatcher.
package rpc

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// FlagName enumerates the ten persisted flags from the data model.
type FlagName string

const (
	FlagSigning   FlagName = "signing"
	FlagSigned    FlagName = "signed"
	FlagChaining  FlagName = "chaining"
	FlagChained   FlagName = "chained"
	FlagUnchained FlagName = "unchained"
	FlagUnsigning FlagName = "unsigning"
	FlagDSTtl     FlagName = "dsttl"
	FlagDNSKeyTtl FlagName = "dnskeyttl"
	FlagWaiveDS   FlagName = "waiveds"
	FlagInvalid   FlagName = "invalid"
)

// FlagValue is the tagged variant the Python source returns as
// `false | true | string`. See Design Notes "Flag-Store duck typing".
type FlagValue struct {
	present bool
	payload string // only meaningful when present
}

// Absent reports a flag that was never set (falsy).
func Absent() FlagValue { return FlagValue{} }

// Present reports a flag set with no payload (truthy, empty).
func Present() FlagValue { return FlagValue{present: true} }

// Payload reports a flag set with a string payload.
func Payload(s string) FlagValue { return FlagValue{present: true, payload: s} }

// AsBool is the semantic `false`/`true` reading: absent is false,
// anything present (empty or with payload) is true.
func (v FlagValue) AsBool() bool { return v.present }

// IsEmpty reports whether the flag is present with no payload.
func (v FlagValue) IsEmpty() bool { return v.present && v.payload == "" }

// String returns the raw payload, or "" if absent or empty.
func (v FlagValue) String() string { return v.payload }

// AsEpoch parses the payload as an epoch-seconds "assert-from"
// timestamp. ok is false when absent or unparsable.
func (v FlagValue) AsEpoch() (t time.Time, ok bool) {
	if !v.present || v.payload == "" {
		return time.Time{}, false
	}
	sec, err := strconv.ParseInt(v.payload, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(sec, 0), true
}

// AsTTL parses the payload as a TTL in seconds.
func (v FlagValue) AsTTL() (d time.Duration, ok bool) {
	if !v.present || v.payload == "" {
		return 0, false
	}
	sec, err := strconv.ParseInt(v.payload, 10, 64)
	if err != nil {
		return 0, false
	}
	return time.Duration(sec) * time.Second, true
}

// FlagStore is the contract for C1: a durable, per-zone, per-flag
// key/value map with presence-as-boolean and optional payload.
//
// Implementations must guarantee atomic writes (no partial write is
// ever observable by a concurrent reader) and read-after-write
// consistency within one process.
type FlagStore interface {
	Get(zone string, flag FlagName) FlagValue
	// Set writes false (delete), true (empty marker) or a string
	// payload. It returns an error when reading the flag back did not
	// reproduce the written value; the invalid flag has then already
	// been recorded for the zone. If even the invalid flag cannot be
	// recorded, the process exits instead of returning.
	Set(zone string, flag FlagName, value any) error
	// Mtime returns the last-modified time of the flag file, used by
	// the cluster consumer's last-writer-wins ordering. Zero time if
	// absent.
	Mtime(zone string, flag FlagName) time.Time
}

// DirFlagStore implements FlagStore as one file per (zone, flag) in a
// directory, per spec §6's on-disk layout, grounded on the Python
// `flagged()` in original_source/src/genericapi.py.
type DirFlagStore struct {
	Dir string
	// OnInvalid is invoked after a read-back mismatch in Set has
	// (successfully) recorded the invalid flag, so callers can
	// broadcast/log. A direct Set of the invalid flag does not call it.
	// May be nil.
	OnInvalid func(zone, reason string)
	// Broadcast is called after every successful mutation so the
	// caller can fan it out to cluster siblings (§4.3). Best-effort:
	// errors are logged, never propagated. May be nil.
	Broadcast func(zone string, flag FlagName, value any)
}

// NewDirFlagStore opens dir as a flag store. dir must already exist;
// a missing control directory at startup is a fatal condition (§7).
func NewDirFlagStore(dir string) (*DirFlagStore, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("missing control directory %q: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("control path %q is not a directory", dir)
	}
	return &DirFlagStore{Dir: dir}, nil
}

func (s *DirFlagStore) path(zone string, flag FlagName) string {
	return filepath.Join(s.Dir, fmt.Sprintf("%s.%s", zone, flag))
}

func (s *DirFlagStore) Get(zone string, flag FlagName) FlagValue {
	data, err := os.ReadFile(s.path(zone, flag))
	if err != nil {
		return Absent()
	}
	str := strings.TrimSuffix(string(data), "\n")
	if str == "" {
		return Present()
	}
	return Payload(str)
}

func (s *DirFlagStore) Mtime(zone string, flag FlagName) time.Time {
	info, err := os.Stat(s.path(zone, flag))
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}

// Set implements the FlagStore contract. A false value deletes the
// file; true writes an empty marker; any other value is formatted
// with fmt.Sprint and stored with a trailing newline.
func (s *DirFlagStore) Set(zone string, flag FlagName, value any) error {
	target := s.path(zone, flag)
	var wantRead FlagValue

	switch v := value.(type) {
	case bool:
		if !v {
			if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
				log.Printf("DirFlagStore.Set(%s,%s): remove failed: %v", zone, flag, err)
			}
			wantRead = Absent()
		} else {
			if err := s.atomicWrite(target, ""); err != nil {
				log.Printf("DirFlagStore.Set(%s,%s): write failed: %v", zone, flag, err)
			}
			wantRead = Present()
		}
	default:
		payload := fmt.Sprint(v)
		if err := s.atomicWrite(target, payload+"\n"); err != nil {
			log.Printf("DirFlagStore.Set(%s,%s): write failed: %v", zone, flag, err)
		}
		wantRead = Payload(payload)
	}

	got := s.Get(zone, flag)
	if got != wantRead {
		return s.fail(zone, flag, wantRead, got)
	}

	if s.Broadcast != nil {
		s.Broadcast(zone, flag, value)
	}
	return nil
}

// fail handles the "disk did not reproduce the flag value as written"
// case: it records the invalid flag and, if even that fails, this is
// fatal (§4.1, §7).
func (s *DirFlagStore) fail(zone string, flag FlagName, want, got FlagValue) error {
	reason := fmt.Sprintf("failed to set %s flag to %v for zone %s (read back %v)", flag, want, zone, got)
	log.Printf("DirFlagStore: %s", reason)

	if flag == FlagInvalid {
		log.Fatalf("DirFlagStore: failed to set invalid flag itself for zone %s: %s", zone, reason)
	}

	target := s.path(zone, FlagInvalid)
	if err := s.atomicWrite(target, reason+"\n"); err != nil {
		log.Fatalf("DirFlagStore: fatal, could not record invalid flag for zone %s: %v", zone, err)
	}
	if s.Get(zone, FlagInvalid) == Absent() {
		log.Fatalf("DirFlagStore: fatal, invalid flag for zone %s did not take", zone)
	}
	if s.OnInvalid != nil {
		s.OnInvalid(zone, reason)
	}
	return fmt.Errorf("%s", reason)
}

// atomicWrite implements the write-to-temp-then-rename guarantee
// required by §4.1.
func (s *DirFlagStore) atomicWrite(target, content string) error {
	tmp, err := os.CreateTemp(s.Dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once renamed

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, target)
}
