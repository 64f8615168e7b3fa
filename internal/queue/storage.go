package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketJobs    = []byte("jobs")
	bucketWaiting = []byte("waiting")
	bucketDelayed = []byte("delayed")
)

// BoltStorage stores job state in BoltDB. The waiting and delayed buckets
// are time-ordered indexes over job ids, so claiming always takes the oldest
// claimable job first.
type BoltStorage struct {
	db *bolt.DB
}

// NewBoltStorage creates a new BoltDB storage
func NewBoltStorage(path string) (*BoltStorage, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketJobs, bucketWaiting, bucketDelayed} {
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

	return &BoltStorage{db: db}, nil
}

// Enqueue stores a job and adds it to the waiting or delayed index
func (s *BoltStorage) Enqueue(ctx context.Context, job *Job) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := putJob(tx, job); err != nil {
			return err
		}

		switch job.Status {
		case StatusWaiting:
			key := makeIndexKey(job.CreatedAt, job.ID)
			return tx.Bucket(bucketWaiting).Put(key, []byte(job.ID))
		case StatusDelayed:
			key := makeIndexKey(job.RunAt, job.ID)
			return tx.Bucket(bucketDelayed).Put(key, []byte(job.ID))
		default:
			return fmt.Errorf("cannot enqueue job in status %q", job.Status)
		}
	})
}

// Claim takes the next claimable job and marks it active. Due delayed jobs
// are taken before waiting jobs. Returns nil, nil when nothing is claimable.
func (s *BoltStorage) Claim(ctx context.Context) (*Job, error) {
	var claimed *Job

	err := s.db.Update(func(tx *bolt.Tx) error {
		jobs := tx.Bucket(bucketJobs)
		now := time.Now()

		// Delayed jobs whose run time has arrived come first
		c := tx.Bucket(bucketDelayed).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if parseTimestampFromKey(k).After(now) {
				break // index is time-ordered, the rest are in the future
			}

			data := jobs.Get(v)
			if data == nil {
				c.Delete()
				continue
			}

			var job Job
			if err := json.Unmarshal(data, &job); err != nil {
				continue
			}
			if job.Status != StatusDelayed {
				// cancelled underneath the index entry
				c.Delete()
				continue
			}

			job.Status = StatusActive
			job.UpdatedAt = now
			if err := putJob(tx, &job); err != nil {
				return err
			}
			if err := c.Delete(); err != nil {
				return err
			}
			claimed = &job
			return nil
		}

		c = tx.Bucket(bucketWaiting).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			data := jobs.Get(v)
			if data == nil {
				c.Delete()
				continue
			}

			var job Job
			if err := json.Unmarshal(data, &job); err != nil {
				continue
			}
			if job.Status != StatusWaiting {
				c.Delete()
				continue
			}

			job.Status = StatusActive
			job.UpdatedAt = now
			if err := putJob(tx, &job); err != nil {
				return err
			}
			if err := c.Delete(); err != nil {
				return err
			}
			claimed = &job
			return nil
		}

		return nil
	})

	return claimed, err
}

// Update rewrites a stored job. The cooperative cancelling flag is merged
// from the stored copy: workers hold a stale claimed copy of the job, and a
// cancel request must survive their progress writes.
func (s *BoltStorage) Update(ctx context.Context, job *Job) error {
	job.UpdatedAt = time.Now()
	return s.db.Update(func(tx *bolt.Tx) error {
		if data := tx.Bucket(bucketJobs).Get([]byte(job.ID)); data != nil {
			var stored Job
			if err := json.Unmarshal(data, &stored); err == nil && stored.Cancelling {
				job.Cancelling = true
			}
		}
		return putJob(tx, job)
	})
}

// Get retrieves a job by ID. Returns nil, nil when not found.
func (s *BoltStorage) Get(ctx context.Context, id string) (*Job, error) {
	var job *Job

	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketJobs).Get([]byte(id))
		if data == nil {
			return nil
		}

		var j Job
		if err := json.Unmarshal(data, &j); err != nil {
			return fmt.Errorf("failed to unmarshal job: %w", err)
		}
		job = &j
		return nil
	})

	return job, err
}

// Cancel cancels a waiting or delayed job. For an active job it only raises
// the cooperative cancelling flag; the worker observes it between recipients
// and stops on its own. Terminal jobs return ErrNotCancellable.
func (s *BoltStorage) Cancel(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketJobs).Get([]byte(id))
		if data == nil {
			return ErrJobNotFound
		}

		var job Job
		if err := json.Unmarshal(data, &job); err != nil {
			return fmt.Errorf("failed to unmarshal job: %w", err)
		}

		now := time.Now()
		switch job.Status {
		case StatusWaiting:
			tx.Bucket(bucketWaiting).Delete(makeIndexKey(job.CreatedAt, job.ID))
		case StatusDelayed:
			tx.Bucket(bucketDelayed).Delete(makeIndexKey(job.RunAt, job.ID))
		case StatusActive:
			job.Cancelling = true
			job.UpdatedAt = now
			return putJob(tx, &job)
		default:
			return ErrNotCancellable
		}

		job.Status = StatusCancelled
		job.UpdatedAt = now
		return putJob(tx, &job)
	})
}

// List returns jobs sorted newest first
func (s *BoltStorage) List(ctx context.Context, limit int) ([]*Job, error) {
	jobs := []*Job{}

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketJobs).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var job Job
			if err := json.Unmarshal(v, &job); err != nil {
				continue
			}
			jobs = append(jobs, &job)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sortJobsByCreatedAtDesc(jobs)

	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

// Stats returns queue counts by state
func (s *BoltStorage) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketJobs).ForEach(func(k, v []byte) error {
			var job Job
			if err := json.Unmarshal(v, &job); err != nil {
				return nil
			}
			stats.Total++
			switch job.Status {
			case StatusDelayed:
				stats.Delayed++
			case StatusWaiting:
				stats.Waiting++
			case StatusActive:
				stats.Active++
			case StatusCompleted:
				stats.Completed++
			case StatusFailed:
				stats.Failed++
			case StatusCancelled:
				stats.Cancelled++
			}
			return nil
		})
	})

	return stats, err
}

// Close closes the underlying database
func (s *BoltStorage) Close() error {
	return s.db.Close()
}

func putJob(tx *bolt.Tx, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	return tx.Bucket(bucketJobs).Put([]byte(job.ID), data)
}

func makeIndexKey(t time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%020d_%s", t.UnixNano(), id))
}

func parseTimestampFromKey(k []byte) time.Time {
	parts := strings.SplitN(string(k), "_", 2)
	ns, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

func sortJobsByCreatedAtDesc(jobs []*Job) {
	// insertion sort; job lists shown in the console are small
	for i := 1; i < len(jobs); i++ {
		for j := i; j > 0 && jobs[j].CreatedAt.After(jobs[j-1].CreatedAt); j-- {
			jobs[j], jobs[j-1] = jobs[j-1], jobs[j]
		}
	}
}
