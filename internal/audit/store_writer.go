package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	xerrors "github.com/L7Shift/l7shift-website-sub000/internal/errors"
	"github.com/L7Shift/l7shift-website-sub000/internal/storage"
)

// Table 是审计记录所在的表。
const Table = "agent_logs"

// StoreWriter 将记录插入 agent_logs 表。
type StoreWriter struct {
	store storage.Store
}

// NewStoreWriter 创建 StoreWriter。
func NewStoreWriter(store storage.Store) *StoreWriter {
	return &StoreWriter{store: store}
}

// Write 实现 Writer。
func (w *StoreWriter) Write(ctx context.Context, run RunRecord) error {
	if w == nil || w.store == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置审计存储")
	}
	row, err := toRow(run)
	if err != nil {
		return err
	}
	if _, err := w.store.Insert(ctx, Table, row); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入 agent_logs 失败")
	}
	return nil
}

func toRow(run RunRecord) (storage.Row, error) {
	actions := run.Actions
	if actions == nil {
		actions = []string{}
	}
	encodedActions, err := json.Marshal(actions)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "序列化 actions 失败")
	}
	metadata := map[string]any{
		"stop_reason": run.StopReason,
		"duration_ms": run.Duration.Milliseconds(),
	}
	if run.Error != "" {
		metadata["error"] = run.Error
	}
	encodedMetadata, err := json.Marshal(metadata)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "序列化 metadata 失败")
	}

	runID := run.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	return storage.Row{
		"id":              uuid.NewString(),
		"run_id":          runID,
		"event_kind":      run.EventKind,
		"event_table":     run.EventTable,
		"event_id":        run.EventID,
		"iteration_count": run.IterationCount,
		"status":          string(run.Status),
		"actions":         string(encodedActions),
		"metadata":        string(encodedMetadata),
		"created_at":      run.Timestamp.UTC().Format(time.RFC3339),
	}, nil
}
