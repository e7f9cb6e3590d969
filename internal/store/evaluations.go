package store

import (
	"context"
	"crypto/md5"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"time"
)

// EvaluationRecord is one analysis run over a model (or over freshly
// trained models when ModelID is nil).
type EvaluationRecord struct {
	ID        int64
	Hash      string
	CreatedAt time.Time
	RunID     string
	ModelID   *int64
	Params    map[string]any
	OutputDir string
}

// EvalHash deterministically identifies an evaluation by its model
// reference and parameters, so repeated runs with identical inputs resolve
// to the same evaluation.
func EvalHash(modelID *int64, params map[string]any) (string, error) {
	ref := "None"
	if modelID != nil {
		ref = strconv.FormatInt(*modelID, 10)
	}
	blob, err := canonicalJSON(params)
	if err != nil {
		return "", err
	}
	sum := md5.Sum([]byte(ref + "_" + blob))
	return hex.EncodeToString(sum[:]), nil
}

// AddEvaluation records an evaluation, deriving its identity from the
// model reference and parameters. If an evaluation with the same hash
// already exists, the existing record is returned unchanged: identity is
// idempotent, and callers decide whether to skip work.
func (s *Store) AddEvaluation(
	ctx context.Context,
	modelID *int64,
	runID string,
	params map[string]any,
	outputBase string,
) (*EvaluationRecord, error) {
	hash, err := EvalHash(modelID, params)
	if err != nil {
		return nil, fmt.Errorf("add evaluation for run %s: %w", runID, err)
	}

	if existing, err := s.getEvaluationByHash(ctx, hash); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	blob, err := canonicalJSON(params)
	if err != nil {
		return nil, fmt.Errorf("add evaluation for run %s: %w", runID, err)
	}
	outputDir := filepath.Join(outputBase, runID, hash)

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO `+evaluationsTable+` (hash, created_at, run_id, model_id, eval_parameters, output_dir)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		hash, nowUTC(), runID, modelIDValue(modelID), blob, outputDir)
	if err != nil {
		return nil, fmt.Errorf("add evaluation %s: insert: %w", hash, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("add evaluation %s: %w", hash, err)
	}

	return &EvaluationRecord{
		ID:        id,
		Hash:      hash,
		RunID:     runID,
		ModelID:   modelID,
		Params:    params,
		OutputDir: outputDir,
	}, nil
}

func modelIDValue(id *int64) any {
	if id == nil {
		return nil
	}
	return *id
}

func (s *Store) getEvaluationByHash(ctx context.Context, hash string) (*EvaluationRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, hash, created_at, run_id, model_id, eval_parameters, output_dir
		 FROM `+evaluationsTable+` WHERE hash = ?`, hash)

	var (
		rec       EvaluationRecord
		createdAt string
		modelID   sql.NullInt64
		paramsRaw sql.NullString
		outputDir sql.NullString
	)
	err := row.Scan(&rec.ID, &rec.Hash, &createdAt, &rec.RunID, &modelID, &paramsRaw, &outputDir)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get evaluation %s: %w", hash, err)
	}

	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		rec.CreatedAt = t
	}
	if modelID.Valid {
		v := modelID.Int64
		rec.ModelID = &v
	}
	if paramsRaw.Valid && paramsRaw.String != "" {
		if err := json.Unmarshal([]byte(paramsRaw.String), &rec.Params); err != nil {
			return nil, fmt.Errorf("get evaluation %s: parameters: %w", hash, err)
		}
	}
	rec.OutputDir = nullStr(outputDir)
	return &rec, nil
}
