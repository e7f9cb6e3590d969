package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ModelRecord is one trained-model row: base columns plus the open set of
// hyperparameter columns.
type ModelRecord struct {
	ID                int64
	Hash              string
	CreatedAt         time.Time
	RunID             string
	ModelPath         string
	TrainHistoryPath  string
	ReplicateInfoPath string
	Hyperparams       map[string]any
}

var modelBaseColumns = map[string]bool{
	"id": true, "hash": true, "created_at": true, "run_id": true,
	"model_path": true, "train_history_path": true, "replicate_info_path": true,
}

// UpsertModel migrates the models table for any unseen hyperparameter
// names, then inserts the record. A record with the same content hash is
// deleted first (replace, not merge). Migration and write are one
// transaction.
func (s *Store) UpsertModel(ctx context.Context, rec *ModelRecord) (*ModelRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("upsert model %s: begin: %w", rec.Hash, err)
	}
	defer tx.Rollback()

	if err := ensureColumns(ctx, tx, modelsTable, rec.Hyperparams); err != nil {
		return nil, fmt.Errorf("upsert model %s: %w", rec.Hash, err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM `+modelsTable+` WHERE hash = ?`, rec.Hash); err != nil {
		return nil, fmt.Errorf("upsert model %s: delete existing: %w", rec.Hash, err)
	}

	cols := []string{"hash", "created_at", "run_id", "model_path", "train_history_path", "replicate_info_path"}
	args := []any{rec.Hash, nowUTC(), rec.RunID, rec.ModelPath, rec.TrainHistoryPath, rec.ReplicateInfoPath}

	names := make([]string, 0, len(rec.Hyperparams))
	for name := range rec.Hyperparams {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		v, err := bindValue(rec.Hyperparams[name])
		if err != nil {
			return nil, fmt.Errorf("upsert model %s: column %s: %w", rec.Hash, name, err)
		}
		cols = append(cols, name)
		args = append(args, v)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	res, err := tx.ExecContext(ctx,
		`INSERT INTO `+modelsTable+` (`+strings.Join(cols, ", ")+`) VALUES (`+placeholders+`)`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("upsert model %s: insert: %w", rec.Hash, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("upsert model %s: %w", rec.Hash, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("upsert model %s: commit: %w", rec.Hash, err)
	}

	out := *rec
	out.ID = id
	return &out, nil
}

// SaveModel saves the model payload (and optional training history and
// replicate info payloads) content-addressed under dir, then upserts the
// catalog row. Mirrors the write path used after training.
func (s *Store) SaveModel(
	ctx context.Context,
	dir string,
	runID string,
	model, trainHistory, replicateInfo []byte,
	hyperparams map[string]any,
) (*ModelRecord, error) {
	hash, modelPath, err := SaveWithHash(dir, ".bin", model)
	if err != nil {
		return nil, err
	}
	rec := &ModelRecord{
		Hash:        hash,
		RunID:       runID,
		ModelPath:   modelPath,
		Hyperparams: hyperparams,
	}
	if trainHistory != nil {
		if _, rec.TrainHistoryPath, err = SaveWithHash(dir, ".bin", trainHistory); err != nil {
			return nil, err
		}
	}
	if replicateInfo != nil {
		if _, rec.ReplicateInfoPath, err = SaveWithHash(dir, ".bin", replicateInfo); err != nil {
			return nil, err
		}
	}
	return s.UpsertModel(ctx, rec)
}

// QueryModels returns records matching the filters: all of them when
// matchAll is true (conjunctive), any of them otherwise. Empty filters
// return every record. Filter names must be existing columns.
func (s *Store) QueryModels(ctx context.Context, filters map[string]any, matchAll bool) ([]*ModelRecord, error) {
	cols, err := tableColumns(ctx, s.db, modelsTable)
	if err != nil {
		return nil, err
	}

	query := `SELECT * FROM ` + modelsTable
	var args []any
	if len(filters) > 0 {
		names := make([]string, 0, len(filters))
		for name := range filters {
			names = append(names, name)
		}
		sort.Strings(names)

		var conds []string
		for _, name := range names {
			if err := validColumnName(name); err != nil {
				return nil, fmt.Errorf("query models: %w", err)
			}
			if _, ok := cols[name]; !ok {
				return nil, fmt.Errorf("query models: unknown column %q", name)
			}
			v, err := bindValue(filters[name])
			if err != nil {
				return nil, fmt.Errorf("query models: filter %s: %w", name, err)
			}
			conds = append(conds, name+" = ?")
			args = append(args, v)
		}
		joiner := " AND "
		if !matchAll {
			joiner = " OR "
		}
		query += " WHERE " + strings.Join(conds, joiner)
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query models: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("query models: %w", err)
	}

	var out []*ModelRecord
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("query models: scan: %w", err)
		}
		rec, err := scanModelRecord(columns, values)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// GetUniqueModel returns the single record matching all filters, nil when
// none match, and ErrAmbiguousRecord when more than one does.
func (s *Store) GetUniqueModel(ctx context.Context, filters map[string]any) (*ModelRecord, error) {
	matches, err := s.QueryModels(ctx, filters, true)
	if err != nil {
		return nil, err
	}
	switch len(matches) {
	case 0:
		return nil, nil
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("filters %v matched %d models: %w", filters, len(matches), ErrAmbiguousRecord)
	}
}

func scanModelRecord(columns []string, values []any) (*ModelRecord, error) {
	rec := &ModelRecord{Hyperparams: make(map[string]any)}
	for i, name := range columns {
		v := normalizeScanned(values[i])
		switch name {
		case "id":
			rec.ID = v.(int64)
		case "hash":
			rec.Hash = v.(string)
		case "created_at":
			t, err := time.Parse(time.RFC3339, v.(string))
			if err != nil {
				return nil, fmt.Errorf("scan model record: created_at: %w", err)
			}
			rec.CreatedAt = t
		case "run_id":
			rec.RunID = v.(string)
		case "model_path":
			rec.ModelPath = asString(v)
		case "train_history_path":
			rec.TrainHistoryPath = asString(v)
		case "replicate_info_path":
			rec.ReplicateInfoPath = asString(v)
		default:
			if v != nil {
				rec.Hyperparams[name] = v
			}
		}
	}
	return rec, nil
}

// normalizeScanned maps driver values onto the small scalar set the rest of
// the system uses.
func normalizeScanned(v any) any {
	switch x := v.(type) {
	case []byte:
		return string(x)
	default:
		return v
	}
}

func asString(v any) string {
	if v == nil {
		return ""
	}
	s, _ := v.(string)
	return s
}
