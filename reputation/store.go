// SPDX-FileCopyrightText: Copyright (C) 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package reputation

import (
	"bytes"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	bolt "go.etcd.io/bbolt"
)

const (
	ledgerBucket  = "ledger"
	recordsBucket = "records"
	versionKey    = "version"
	ledgerVersion = 0
)

// Store persists ledger records in a bolt database.
type Store struct {
	db *bolt.DB
}

// OpenStore opens or creates the ledger database at f.
func OpenStore(f string) (*Store, error) {
	db, err := bolt.Open(f, 0600, nil)
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		bkt, err := tx.CreateBucketIfNotExists([]byte(ledgerBucket))
		if err != nil {
			return err
		}
		if b := bkt.Get([]byte(versionKey)); b != nil {
			if len(b) != 1 || b[0] != ledgerVersion {
				return fmt.Errorf("reputation: incompatible ledger version: %v", b)
			}
		} else if err := bkt.Put([]byte(versionKey), []byte{ledgerVersion}); err != nil {
			return err
		}
		_, err = bkt.CreateBucketIfNotExists([]byte(recordsBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Save writes every record of l, replacing what was stored before.
func (s *Store) Save(l *Ledger) error {
	recs := l.Records()
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(ledgerBucket))
		if err := bkt.DeleteBucket([]byte(recordsBucket)); err != nil {
			return err
		}
		recsBkt, err := bkt.CreateBucket([]byte(recordsBucket))
		if err != nil {
			return err
		}
		for i := range recs {
			b, err := cbor.Marshal(&recs[i])
			if err != nil {
				return err
			}
			if err := recsBkt.Put(recs[i].ID[:], b); err != nil {
				return err
			}
		}
		return nil
	})
}

// Load restores the stored records into l, and returns how many were
// loaded.  Scores are clamped into [0, 1].
func (s *Store) Load(l *Ledger) (int, error) {
	var recs []Record
	err := s.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(ledgerBucket)).Bucket([]byte(recordsBucket))
		return bkt.ForEach(func(k, v []byte) error {
			var r Record
			if err := cbor.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("reputation: corrupted record %x: %v", k, err)
			}
			if !bytes.Equal(k, r.ID[:]) {
				return fmt.Errorf("reputation: record key %x does not match its ID", k)
			}
			recs = append(recs, r)
			return nil
		})
	})
	if err != nil {
		return 0, err
	}

	l.Lock()
	defer l.Unlock()
	for _, r := range recs {
		r.Score = clamp(r.Score)
		l.cells[r.ID] = &cell{rec: r}
	}
	return len(recs), nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
