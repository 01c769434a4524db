// PowerSNMPv3 - SNMP library for Go
// Автор: Волков Олег, ООО "Пауэр Си"
// Author: Volkov Oleg, PowerC LLC
// License: MIT (commercial version with support available)
// Лицензия: MIT (доступна коммерческая версия с поддержкой)
package PowerSNMPEngine

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	badger "github.com/dgraph-io/badger/v4"
)

// BootStore persists snmpEngineBoots per engine ID.
type BootStore interface {
	// Load returns ErrBootRecordNotFound when nothing was saved yet.
	Load(engineID []byte) (int32, error)
	Save(engineID []byte, boots int32) error
}

// DefaultBootStoreDir is where engines without a configured BootStore
// keep their boot counters.
func DefaultBootStoreDir() string {
	return filepath.Join(os.TempDir(), "powersnmpengine")
}

// FileBootStore keeps <Dir>/<hex engine id>/boots as decimal text. Saves
// write a temporary file in the same directory and rename it over the
// record.
type FileBootStore struct {
	Dir string
}

func (s FileBootStore) path(engineID []byte) string {
	return filepath.Join(s.Dir, hex.EncodeToString(engineID), "boots")
}

func (s FileBootStore) Load(engineID []byte) (int32, error) {
	data, err := os.ReadFile(s.path(engineID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, ErrBootRecordNotFound
		}
		return 0, err
	}
	boots, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 32)
	if err != nil || boots < 0 {
		return 0, fmt.Errorf("boot record %s: bad value %q", s.path(engineID), data)
	}
	return int32(boots), nil
}

func (s FileBootStore) Save(engineID []byte, boots int32) error {
	p := s.path(engineID)
	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, "boots-*.tmp")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if _, err := f.WriteString(strconv.FormatInt(int64(boots), 10)); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, p); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// MemoryBootStore keeps boot counters in memory; used in tests and by
// short-lived tools.
type MemoryBootStore struct {
	boots map[string]int32
}

func NewMemoryBootStore() *MemoryBootStore {
	return &MemoryBootStore{boots: make(map[string]int32)}
}

func (s *MemoryBootStore) Load(engineID []byte) (int32, error) {
	b, ok := s.boots[string(engineID)]
	if !ok {
		return 0, ErrBootRecordNotFound
	}
	return b, nil
}

func (s *MemoryBootStore) Save(engineID []byte, boots int32) error {
	s.boots[string(engineID)] = boots
	return nil
}

// BadgerBootStore keeps boot counters in a badger database under
// "boots:<hex engine id>".
type BadgerBootStore struct {
	db *badger.DB
}

func NewBadgerBootStore(path string) (*BadgerBootStore, error) {
	opts := badger.DefaultOptions(filepath.Clean(path))
	opts.Logger = nil
	opts = opts.WithValueLogFileSize(1 << 20)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger %s: %w", path, err)
	}
	return &BadgerBootStore{db: db}, nil
}

func bootsKey(engineID []byte) []byte {
	return []byte("boots:" + hex.EncodeToString(engineID))
}

func (s *BadgerBootStore) Load(engineID []byte) (int32, error) {
	var boots int32
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(bootsKey(engineID))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrBootRecordNotFound
			}
			return err
		}
		return item.Value(func(v []byte) error {
			n, err := strconv.ParseInt(string(v), 10, 32)
			if err != nil {
				return fmt.Errorf("boot record: bad value %q", v)
			}
			boots = int32(n)
			return nil
		})
	})
	return boots, err
}

func (s *BadgerBootStore) Save(engineID []byte, boots int32) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(bootsKey(engineID), []byte(strconv.FormatInt(int64(boots), 10)))
	})
}

func (s *BadgerBootStore) Close() error {
	return s.db.Close()
}
