package model

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
)

// ReservationKey deterministically identifies a reservation.  It is the
// SHA-256 digest of the (labID, start) pair, so at most one non-cancelled
// reservation can ever exist for a given lab and start time.  Keys are
// comparable and therefore usable directly as map keys.
type ReservationKey [32]byte

// KeyFor derives the reservation key for a lab and a slot start time.
func KeyFor(labID uint64, start uint32) ReservationKey {
	var buf [12]byte
	binary.BigEndian.PutUint64(buf[0:8], labID)
	binary.BigEndian.PutUint32(buf[8:12], start)
	return sha256.Sum256(buf[:])
}

// String renders the key as lowercase hex for transport and logging.
func (k ReservationKey) String() string { return hex.EncodeToString(k[:]) }

// ParseReservationKey decodes a 64-character hex string produced by
// ReservationKey.String.  The boolean is false on malformed input.
func ParseReservationKey(s string) (ReservationKey, bool) {
	var k ReservationKey
	if len(s) != 64 {
		return k, false
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return k, false
	}
	copy(k[:], b)
	return k, true
}

// TrackingKey is the identity under which per-requester indices (active
// reservation heaps, history buffers, cap counters) are maintained.  For a
// direct wallet reservation it is the payer account itself; for a delegated
// reservation it is a digest of (payer, subIdentifier) so that every end
// user behind an institution gets an index of their own.  Tracking keys are
// only ever produced by ResolveTrackingKey.
type TrackingKey string

// ResolveTrackingKey derives the tracking key for a payer and an optional
// sub identifier.  An empty subID means a direct reservation and the payer
// account doubles as the tracking key.
func ResolveTrackingKey(payer, subID string) TrackingKey {
	if subID == "" {
		return TrackingKey(payer)
	}
	h := sha256.New()
	h.Write([]byte(payer))
	h.Write([]byte{0})
	h.Write([]byte(subID))
	return TrackingKey(hex.EncodeToString(h.Sum(nil)))
}
