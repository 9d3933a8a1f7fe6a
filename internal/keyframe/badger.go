package keyframe

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/dgraph-io/badger/v4"

	"github.com/oscmap/oscmap/internal/host"
)

// BadgerSink persists keyframes in a badger database.
//
// Key layout: "kf/" + data path + 0x00 + order-preserving frame bits.
// Value: IEEE-754 bits of the value, big endian.
type BadgerSink struct {
	db *badger.DB
}

var keyPrefix = []byte("kf/")

// OpenBadger opens or creates a keyframe database in dir.
func OpenBadger(dir string) (*BadgerSink, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open keyframe db: %w", err)
	}
	return &BadgerSink{db: db}, nil
}

// Close closes the database.
func (s *BadgerSink) Close() error {
	return s.db.Close()
}

// Record implements Sink.
func (s *BadgerSink) Record(target host.Locator, value, frame float64) error {
	key := keyFor(target.String(), frame)
	val := make([]byte, 8)
	binary.BigEndian.PutUint64(val, math.Float64bits(value))

	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, val)
	})
	if err != nil {
		return &Error{Target: target, Frame: frame, Err: err}
	}
	return nil
}

// Keyframes returns the keys of target ordered by frame.
func (s *BadgerSink) Keyframes(target host.Locator) ([]Keyframe, error) {
	prefix := targetPrefix(target.String())
	var out []Keyframe
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			k := item.Key()
			if len(k) != len(prefix)+8 {
				continue
			}
			frame := decodeFrame(binary.BigEndian.Uint64(k[len(prefix):]))
			err := item.Value(func(v []byte) error {
				if len(v) != 8 {
					return fmt.Errorf("corrupt keyframe value for %s", target)
				}
				out = append(out, Keyframe{Frame: frame, Value: math.Float64frombits(binary.BigEndian.Uint64(v))})
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return out, err
}

// Targets returns the data paths that have at least one key, sorted.
func (s *BadgerSink) Targets() ([]string, error) {
	var out []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = keyPrefix
		it := txn.NewIterator(opts)
		defer it.Close()
		var last string
		for it.Seek(keyPrefix); it.ValidForPrefix(keyPrefix); it.Next() {
			k := it.Item().Key()[len(keyPrefix):]
			end := bytes.IndexByte(k, 0)
			if end < 0 {
				continue
			}
			if path := string(k[:end]); path != last {
				out = append(out, path)
				last = path
			}
		}
		return nil
	})
	return out, err
}

func targetPrefix(path string) []byte {
	p := make([]byte, 0, len(keyPrefix)+len(path)+1)
	p = append(p, keyPrefix...)
	p = append(p, path...)
	return append(p, 0)
}

func keyFor(path string, frame float64) []byte {
	k := targetPrefix(path)
	return binary.BigEndian.AppendUint64(k, encodeFrame(frame))
}

// encodeFrame maps a float to bits whose unsigned order matches numeric order.
func encodeFrame(f float64) uint64 {
	b := math.Float64bits(f)
	if b>>63 == 1 {
		return ^b
	}
	return b | 1<<63
}

func decodeFrame(b uint64) float64 {
	if b>>63 == 1 {
		return math.Float64frombits(b &^ (1 << 63))
	}
	return math.Float64frombits(^b)
}
