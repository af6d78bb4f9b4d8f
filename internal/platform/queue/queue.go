package queue

import (
	"database/sql"
	"time"
)

// Job statuses. A leased job belongs to exactly one worker; leases left
// behind by a crashed worker are reclaimed by SweepStale.
const (
	JobQueued = "queued"
	JobLeased = "leased"
	JobDone   = "done"
	JobDead   = "dead"
)

type Job struct {
	ID          int64
	Topic       string
	Payload     []byte
	RunAt       int64
	Attempts    int
	MaxAttempts int
	Status      string
	LeasedAt    int64
	CreatedAt   int64
}

type EnqueueOptions struct {
	Delay       time.Duration
	MaxAttempts int
}

// Queue is a durable at-least-once job queue backed by the jobs table.
// Delayed jobs become visible when run_at passes; visibility survives a
// process restart because nothing lives only in memory.
type Queue struct {
	db *sql.DB
}

func New(db *sql.DB) *Queue {
	return &Queue{db: db}
}

func (q *Queue) Enqueue(topic string, payload []byte, opts EnqueueOptions) (int64, error) {
	return enqueue(q.db, topic, payload, opts)
}

// EnqueueTx enqueues inside the caller's transaction so a job and its
// owning row commit or roll back together.
func (q *Queue) EnqueueTx(tx *sql.Tx, topic string, payload []byte, opts EnqueueOptions) (int64, error) {
	return enqueue(tx, topic, payload, opts)
}

type execer interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
}

func enqueue(db execer, topic string, payload []byte, opts EnqueueOptions) (int64, error) {
	now := time.Now()
	runAt := now.Add(opts.Delay).Unix()
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	res, err := db.Exec(`
		INSERT INTO jobs (topic, payload, run_at, attempts, max_attempts, status, created_at)
		VALUES (?, ?, ?, 0, ?, ?, ?)
	`, topic, payload, runAt, maxAttempts, JobQueued, now.Unix())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// Lease claims the oldest runnable job on a topic, or nil when none is
// due. Claim and mark happen in one transaction so two workers cannot
// own the same job.
func (q *Queue) Lease(topic string) (*Job, error) {
	tx, err := q.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	row := tx.QueryRow(`
		SELECT id, topic, payload, run_at, attempts, max_attempts, status, created_at
		FROM jobs WHERE topic = ? AND status = ? AND run_at <= ?
		ORDER BY run_at, id LIMIT 1
	`, topic, JobQueued, now)

	var j Job
	err = row.Scan(&j.ID, &j.Topic, &j.Payload, &j.RunAt, &j.Attempts, &j.MaxAttempts, &j.Status, &j.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	j.Status = JobLeased
	j.LeasedAt = now
	j.Attempts++
	if _, err := tx.Exec(`
		UPDATE jobs SET status = ?, leased_at = ?, attempts = attempts + 1 WHERE id = ?
	`, JobLeased, now, j.ID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &j, nil
}

func (q *Queue) Complete(jobID int64) error {
	_, err := q.db.Exec(`UPDATE jobs SET status = ? WHERE id = ?`, JobDone, jobID)
	return err
}

// Release requeues a leased job to run after the given delay. When the
// job has exhausted its attempts it is parked as dead instead.
func (q *Queue) Release(job *Job, delay time.Duration) error {
	if job.Attempts >= job.MaxAttempts {
		_, err := q.db.Exec(`UPDATE jobs SET status = ? WHERE id = ?`, JobDead, job.ID)
		return err
	}
	_, err := q.db.Exec(`
		UPDATE jobs SET status = ?, run_at = ?, leased_at = NULL WHERE id = ?
	`, JobQueued, time.Now().Add(delay).Unix(), job.ID)
	return err
}

// SweepStale reclaims leases older than the threshold. Returns the
// number of jobs requeued.
func (q *Queue) SweepStale(olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan).Unix()
	res, err := q.db.Exec(`
		UPDATE jobs SET status = ?, leased_at = NULL WHERE status = ? AND leased_at < ?
	`, JobQueued, JobLeased, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (q *Queue) PendingCount(topic string) (int, error) {
	var count int
	err := q.db.QueryRow(`SELECT COUNT(*) FROM jobs WHERE topic = ? AND status = ?`, topic, JobQueued).Scan(&count)
	return count, err
}
