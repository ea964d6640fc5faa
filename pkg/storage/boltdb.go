package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/reproserver/reproserver/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketExperiments = []byte("experiments")
	bucketUploads     = []byte("uploads")
	bucketRuns        = []byte("runs")
	bucketLogs        = []byte("logs")
	bucketOutputs     = []byte("outputs")
)

// BoltStore implements Store using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "reproserver.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketExperiments,
			bucketUploads,
			bucketRuns,
			bucketLogs,
			bucketOutputs,
		}
		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// itob encodes an id as a sortable 8-byte key
func itob(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}

// Experiment operations

func (s *BoltStore) CreateExperiment(exp *types.Experiment) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketExperiments)
		data, err := json.Marshal(exp)
		if err != nil {
			return err
		}
		return b.Put([]byte(exp.Hash), data)
	})
}

func (s *BoltStore) GetExperiment(hash string) (*types.Experiment, error) {
	var exp types.Experiment
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketExperiments).Get([]byte(hash))
		if data == nil {
			return fmt.Errorf("experiment %s: %w", hash, ErrNotFound)
		}
		return json.Unmarshal(data, &exp)
	})
	if err != nil {
		return nil, err
	}
	return &exp, nil
}

// Upload operations

func (s *BoltStore) CreateUpload(upload *types.Upload) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketUploads)
		id, err := b.NextSequence()
		if err != nil {
			return err
		}
		upload.ID = int64(id)
		data, err := json.Marshal(upload)
		if err != nil {
			return err
		}
		return b.Put(itob(upload.ID), data)
	})
}

// Run operations

func (s *BoltStore) CreateRun(run *types.Run) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRuns)
		id, err := b.NextSequence()
		if err != nil {
			return err
		}
		run.ID = int64(id)
		if run.Submitted.IsZero() {
			run.Submitted = time.Now().UTC()
		}
		data, err := json.Marshal(run)
		if err != nil {
			return err
		}
		return b.Put(itob(run.ID), data)
	})
}

func (s *BoltStore) GetRun(id int64) (*types.Run, error) {
	var run types.Run
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketRuns).Get(itob(id))
		if data == nil {
			return fmt.Errorf("run %d: %w", id, ErrNotFound)
		}
		if err := json.Unmarshal(data, &run); err != nil {
			return err
		}
		run.OutputFiles = readOutputFiles(tx, id)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (s *BoltStore) UpdateRun(run *types.Run) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putRun(tx, run)
	})
}

func putRun(tx *bolt.Tx, run *types.Run) error {
	// Output files live in their own bucket
	stripped := *run
	stripped.OutputFiles = nil
	data, err := json.Marshal(&stripped)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketRuns).Put(itob(run.ID), data)
}

func getRun(tx *bolt.Tx, id int64) (*types.Run, error) {
	data := tx.Bucket(bucketRuns).Get(itob(id))
	if data == nil {
		return nil, fmt.Errorf("run %d: %w", id, ErrNotFound)
	}
	var run types.Run
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

func (s *BoltStore) SetStarted(id int64, t time.Time) (bool, error) {
	already := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		run, err := getRun(tx, id)
		if err != nil {
			return err
		}
		if run.Started != nil {
			already = true
			return nil
		}
		t := t.UTC()
		run.Started = &t
		return putRun(tx, run)
	})
	return already, err
}

func (s *BoltStore) SetDone(id int64, t time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		run, err := getRun(tx, id)
		if err != nil {
			return err
		}
		t := t.UTC()
		run.Done = &t
		return putRun(tx, run)
	})
}

func (s *BoltStore) SetProgress(id int64, percent int, text string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		run, err := getRun(tx, id)
		if err != nil {
			return err
		}
		run.ProgressPercent = percent
		run.ProgressText = text
		return putRun(tx, run)
	})
}

func (s *BoltStore) ClearRunResults(id int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if _, err := getRun(tx, id); err != nil {
			return err
		}
		logs := tx.Bucket(bucketLogs)
		if logs.Bucket(itob(id)) != nil {
			if err := logs.DeleteBucket(itob(id)); err != nil {
				return err
			}
		}
		outputs := tx.Bucket(bucketOutputs)
		if outputs.Bucket(itob(id)) != nil {
			if err := outputs.DeleteBucket(itob(id)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Log operations

func (s *BoltStore) AppendLogLines(id int64, lines []types.LogLine) error {
	if len(lines) == 0 {
		return nil
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.Bucket(bucketLogs).CreateBucketIfNotExists(itob(id))
		if err != nil {
			return err
		}
		for i := range lines {
			seq, err := b.NextSequence()
			if err != nil {
				return err
			}
			lines[i].ID = int64(seq)
			lines[i].RunID = id
			if lines[i].Timestamp.IsZero() {
				lines[i].Timestamp = time.Now().UTC()
			}
			data, err := json.Marshal(&lines[i])
			if err != nil {
				return err
			}
			if err := b.Put(itob(lines[i].ID), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) ListLogLines(id int64) ([]types.LogLine, error) {
	var lines []types.LogLine
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLogs).Bucket(itob(id))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var line types.LogLine
			if err := json.Unmarshal(v, &line); err != nil {
				return err
			}
			lines = append(lines, line)
			return nil
		})
	})
	return lines, err
}

// Output file operations

func (s *BoltStore) AddOutputFile(file *types.OutputFile) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.Bucket(bucketOutputs).CreateBucketIfNotExists(itob(file.RunID))
		if err != nil {
			return err
		}
		data, err := json.Marshal(file)
		if err != nil {
			return err
		}
		return b.Put([]byte(file.Name), data)
	})
}

func (s *BoltStore) ListOutputFiles(id int64) ([]types.OutputFile, error) {
	var files []types.OutputFile
	err := s.db.View(func(tx *bolt.Tx) error {
		files = readOutputFiles(tx, id)
		return nil
	})
	return files, err
}

func readOutputFiles(tx *bolt.Tx, id int64) []types.OutputFile {
	b := tx.Bucket(bucketOutputs).Bucket(itob(id))
	if b == nil {
		return nil
	}
	var files []types.OutputFile
	b.ForEach(func(k, v []byte) error {
		var file types.OutputFile
		if err := json.Unmarshal(v, &file); err != nil {
			return err
		}
		files = append(files, file)
		return nil
	})
	return files
}
