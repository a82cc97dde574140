package historystore

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// HashScriptPath derives the namespace used to key a script's run history in
// Redis: a SHA-1 hash of the script's absolute path, so relative
// invocations from different working directories still land on the same
// history. Unlike the lockfile package, symlinks are not resolved first.
func HashScriptPath(scriptPath string) string {
	abs, err := filepath.Abs(scriptPath)
	if err != nil {
		abs = scriptPath
	}
	sum := sha1.Sum([]byte(abs))
	return hex.EncodeToString(sum[:])
}

// RunRecord summarizes one completed pipeline run for a single task index.
type RunRecord struct {
	RunID     string    `json:"run_id"`
	TaskIndex int       `json:"task_index"`
	TaskName  string    `json:"task_name"`
	StartedAt time.Time `json:"started_at"`
	Duration  time.Duration `json:"duration_ns"`
	Success   bool      `json:"success"`
}

// scriptKey namespaces every key under the watched script's own path so
// two taskwatch instances watching different scripts never collide inside
// the same Redis instance.
func scriptKey(scriptHash, suffix string) string {
	return fmt.Sprintf("taskwatch:%s:%s", scriptHash, suffix)
}

// RecordRun writes rec under a fresh run ID and appends it to that task's
// recent-runs list, both with runTTL. Errors are logged, not returned: a
// history-store write failure must never affect dispatch.
func (c *Client) RecordRun(ctx context.Context, scriptHash string, rec RunRecord) {
	rec.RunID = uuid.NewString()

	payload, err := json.Marshal(rec)
	if err != nil {
		c.log.Error("marshal run record", zap.Error(err))
		return
	}

	runKey := scriptKey(scriptHash, fmt.Sprintf("run:%d:%s", rec.TaskIndex, rec.RunID))
	listKey := scriptKey(scriptHash, fmt.Sprintf("runs:%d", rec.TaskIndex))

	pipe := c.rdb.TxPipeline()
	pipe.Set(ctx, runKey, payload, runTTL)
	pipe.LPush(ctx, listKey, rec.RunID)
	pipe.LTrim(ctx, listKey, 0, 49)
	pipe.Expire(ctx, listKey, runTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		c.log.Warn("record run history", zap.Error(err), zap.Int("task_index", rec.TaskIndex))
	}
}

// RecentRuns returns up to limit of the most recent run records for a task
// index, newest first.
func (c *Client) RecentRuns(ctx context.Context, scriptHash string, taskIndex int, limit int64) ([]RunRecord, error) {
	listKey := scriptKey(scriptHash, fmt.Sprintf("runs:%d", taskIndex))

	ids, err := c.rdb.LRange(ctx, listKey, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("list recent runs: %w", err)
	}

	out := make([]RunRecord, 0, len(ids))
	for _, id := range ids {
		runKey := scriptKey(scriptHash, fmt.Sprintf("run:%d:%s", taskIndex, id))
		raw, err := c.rdb.Get(ctx, runKey).Bytes()
		if err != nil {
			continue // expired or evicted between LRANGE and GET
		}
		var rec RunRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}
