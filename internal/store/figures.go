package store

import (
	"context"
	"crypto/md5"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/vk/policylab/internal/figure"
)

// FigureRecord is one persisted figure, keyed by a hash derived from its
// evaluation and identifier, with its identifying parameters stored as a
// JSON blob for querying.
type FigureRecord struct {
	ID           int64
	Hash         string
	CreatedAt    time.Time
	EvaluationID int64
	Identifier   string
	FilePath     string
	Params       map[string]any
}

// AddFigure renders the figure's canonical payload, saves it under the
// evaluation's output directory, and records it in the catalog. A figure
// with the same hash replaces the existing row.
func (s *Store) AddFigure(
	ctx context.Context,
	eval *EvaluationRecord,
	fig *figure.Figure,
	identifier string,
	params map[string]any,
) (*FigureRecord, error) {
	payload, err := fig.Render("json")
	if err != nil {
		return nil, fmt.Errorf("add figure %s: %w", identifier, err)
	}

	sum := md5.Sum([]byte(eval.Hash + "_" + identifier))
	figHash := hex.EncodeToString(sum[:])

	figDir := filepath.Join(eval.OutputDir, "figures")
	_, path, err := saveAtPath(figDir, figHash+".json", payload)
	if err != nil {
		return nil, fmt.Errorf("add figure %s: %w", identifier, err)
	}

	blob, err := canonicalJSON(params)
	if err != nil {
		return nil, fmt.Errorf("add figure %s: %w", identifier, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("add figure %s: begin: %w", identifier, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM `+figuresTable+` WHERE hash = ?`, figHash); err != nil {
		return nil, fmt.Errorf("add figure %s: delete existing: %w", identifier, err)
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO `+figuresTable+` (hash, created_at, evaluation_id, identifier, file_path, parameters)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		figHash, nowUTC(), eval.ID, identifier, path, blob)
	if err != nil {
		return nil, fmt.Errorf("add figure %s: insert: %w", identifier, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("add figure %s: %w", identifier, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("add figure %s: commit: %w", identifier, err)
	}

	return &FigureRecord{
		ID:           id,
		Hash:         figHash,
		EvaluationID: eval.ID,
		Identifier:   identifier,
		FilePath:     path,
		Params:       params,
	}, nil
}

// QueryFigures returns figure records for an evaluation, newest last.
func (s *Store) QueryFigures(ctx context.Context, evalID int64) ([]*FigureRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, hash, created_at, evaluation_id, identifier, file_path, parameters
		 FROM `+figuresTable+` WHERE evaluation_id = ? ORDER BY id`, evalID)
	if err != nil {
		return nil, fmt.Errorf("query figures for evaluation %d: %w", evalID, err)
	}
	defer rows.Close()

	var out []*FigureRecord
	for rows.Next() {
		rec, err := scanFigureRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanFigureRecord(rows *sql.Rows) (*FigureRecord, error) {
	var (
		rec        FigureRecord
		createdAt  string
		identifier sql.NullString
		filePath   sql.NullString
		paramsRaw  sql.NullString
	)
	if err := rows.Scan(&rec.ID, &rec.Hash, &createdAt, &rec.EvaluationID,
		&identifier, &filePath, &paramsRaw); err != nil {
		return nil, fmt.Errorf("scan figure record: %w", err)
	}
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		rec.CreatedAt = t
	}
	rec.Identifier = nullStr(identifier)
	rec.FilePath = nullStr(filePath)
	if paramsRaw.Valid && paramsRaw.String != "" {
		if err := json.Unmarshal([]byte(paramsRaw.String), &rec.Params); err != nil {
			return nil, fmt.Errorf("scan figure record %s: parameters: %w", rec.Hash, err)
		}
	}
	return &rec, nil
}
