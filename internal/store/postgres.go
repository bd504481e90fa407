package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/lib/pq"

	"github.com/opensupplyhub/dedupe-hub/internal/gazetteer"
	"github.com/opensupplyhub/dedupe-hub/internal/model"
)

// uniqueViolation is the Postgres SQLSTATE for a unique key violation
const uniqueViolation = "23505"

// Postgres is the Store backed by the Django database
type Postgres struct {
	db *sql.DB
}

var _ Store = (*Postgres)(nil)

// Open connects to the database and checks the connection
func Open(ctx context.Context, databaseURL string, maxConns int) (*Postgres, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, Error.New("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, Error.New("failed to ping database: %w", err)
	}

	if maxConns > 0 {
		db.SetMaxOpenConns(maxConns)
		db.SetMaxIdleConns((maxConns + 1) / 2)
	}

	return &Postgres{db: db}, nil
}

// NewPostgres wraps an existing connection pool
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// DB exposes the connection pool
func (p *Postgres) DB() *sql.DB {
	return p.db
}

// Close closes the database connection
func (p *Postgres) Close() error {
	return Error.Wrap(p.db.Close())
}

// Ping checks the database is reachable
func (p *Postgres) Ping(ctx context.Context) error {
	return Error.Wrap(p.db.PingContext(ctx))
}

const selectItems = `
	SELECT i.id, i.source_id, s.contributor_id, i.row_index, i.status,
	       i.name, i.address, i.country_code, i.clean_name, i.clean_address,
	       ST_Y(i.geocoded_point), ST_X(i.geocoded_point),
	       COALESCE(i.facility_id, ''), i.processing_results, i.created_at
	FROM api_facilitylistitem i
	JOIN api_source s ON s.id = i.source_id
`

// ListItems implements Store
func (p *Postgres) ListItems(ctx context.Context, listID int64) ([]model.FacilityListItem, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM api_source WHERE facility_list_id = $1)`, listID).Scan(&exists)
	if err != nil {
		return nil, Error.New("failed to look up facility list: %w", err)
	}
	if !exists {
		return nil, ErrNotFound.New("facility list %d", listID)
	}

	return p.queryItems(ctx, selectItems+`
		WHERE s.facility_list_id = $1
		ORDER BY i.row_index, i.id
	`, listID)
}

// GetItems implements Store
func (p *Postgres) GetItems(ctx context.Context, ids []int64) ([]model.FacilityListItem, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return p.queryItems(ctx, selectItems+`
		WHERE i.id = ANY($1)
		ORDER BY i.id
	`, pq.Array(ids))
}

func (p *Postgres) queryItems(ctx context.Context, query string, args ...interface{}) ([]model.FacilityListItem, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, Error.New("failed to query items: %w", err)
	}
	defer rows.Close()

	var items []model.FacilityListItem
	for rows.Next() {
		var item model.FacilityListItem
		var status string
		var lat, lng sql.NullFloat64
		var results []byte

		err := rows.Scan(
			&item.ID, &item.SourceID, &item.ContributorID, &item.RowIndex, &status,
			&item.Name, &item.Address, &item.CountryCode, &item.CleanName, &item.CleanAddress,
			&lat, &lng, &item.FacilityID, &results, &item.CreatedAt,
		)
		if err != nil {
			return nil, Error.New("failed to scan item: %w", err)
		}

		item.Status = model.ItemStatus(status)
		if lat.Valid && lng.Valid {
			item.Location = &model.Point{Lat: lat.Float64, Lng: lng.Float64}
		}
		if len(results) > 0 {
			if err := json.Unmarshal(results, &item.ProcessingResults); err != nil {
				return nil, Error.New("item %d has malformed processing results: %w", item.ID, err)
			}
		}
		items = append(items, item)
	}

	return items, Error.Wrap(rows.Err())
}

// ExactCandidates implements Store
func (p *Postgres) ExactCandidates(ctx context.Context, countryCode, cleanName, cleanAddress string) ([]ExactCandidate, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT i.id, s.contributor_id, f.id, f.created_at
		FROM api_facilitylistitem i
		JOIN api_source s ON s.id = i.source_id
		JOIN api_facility f ON f.id = i.facility_id
		WHERE i.country_code = $1
		  AND i.clean_name = $2
		  AND i.clean_address = $3
		  AND i.status = ANY($4)
		  AND NOT f.is_closed
		ORDER BY i.id
	`, countryCode, cleanName, cleanAddress, pq.Array(matchedItemStatuses))
	if err != nil {
		return nil, Error.New("failed to query exact candidates: %w", err)
	}
	defer rows.Close()

	var out []ExactCandidate
	for rows.Next() {
		var c ExactCandidate
		if err := rows.Scan(&c.ItemID, &c.ContributorID, &c.FacilityID, &c.FacilityCreatedAt); err != nil {
			return nil, Error.New("failed to scan exact candidate: %w", err)
		}
		out = append(out, c)
	}
	return out, Error.Wrap(rows.Err())
}

// LatestVersions implements gazetteer.Source
func (p *Postgres) LatestVersions(ctx context.Context) (gazetteer.Versions, error) {
	var v gazetteer.Versions
	err := p.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COALESCE(MAX(history_id), 0) FROM api_historicalfacility),
			(SELECT COALESCE(MAX(history_id), 0) FROM api_historicalfacilitymatch)
	`).Scan(&v.Facility, &v.Match)
	if err != nil {
		return v, Error.New("failed to read history versions: %w", err)
	}
	return v, nil
}

// ChangedFacilities implements gazetteer.Source
func (p *Postgres) ChangedFacilities(ctx context.Context, since gazetteer.Versions) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id FROM api_historicalfacility WHERE history_id > $1
		UNION
		SELECT facility_id FROM api_historicalfacilitymatch
		WHERE history_id > $2 AND facility_id IS NOT NULL
		ORDER BY 1
	`, since.Facility, since.Match)
	if err != nil {
		return nil, Error.New("failed to query changed facilities: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, Error.Wrap(err)
		}
		ids = append(ids, id)
	}
	return ids, Error.Wrap(rows.Err())
}

// facilityTextColumns selects the stored clean text of the item that created
// facility f (joined as c), falling back to the facility's own name and address
const facilityTextColumns = `
	CASE WHEN COALESCE(c.clean_name, '') <> '' THEN c.clean_name ELSE f.name END,
	CASE WHEN COALESCE(c.clean_name, '') <> '' THEN c.clean_address ELSE f.address END`

// CanonicalRecords implements gazetteer.Source
func (p *Postgres) CanonicalRecords(ctx context.Context, facilityIDs []string) ([]gazetteer.Record, error) {
	facilityQuery := `
		SELECT f.id, f.country_code, ` + facilityTextColumns + `
		FROM api_facility f
		LEFT JOIN api_facilitylistitem c ON c.id = f.created_from_id
		WHERE NOT f.is_closed
	`
	aliasQuery := `
		SELECT m.id, m.facility_id, i.country_code, i.clean_name, i.clean_address
		FROM api_facilitymatch m
		JOIN api_facilitylistitem i ON i.id = m.facility_list_item_id
		JOIN api_facility f ON f.id = m.facility_id
		WHERE m.is_active
		  AND m.status = ANY($1)
		  AND i.status = ANY($2)
		  AND NOT f.is_closed
	`
	facilityArgs := []interface{}{}
	aliasArgs := []interface{}{pq.Array(aliasMatchStatuses), pq.Array(matchedItemStatuses)}
	if facilityIDs != nil {
		if len(facilityIDs) == 0 {
			return nil, nil
		}
		facilityQuery += ` AND f.id = ANY($1)`
		facilityArgs = append(facilityArgs, pq.Array(facilityIDs))
		aliasQuery += ` AND m.facility_id = ANY($3)`
		aliasArgs = append(aliasArgs, pq.Array(facilityIDs))
	}

	var records []gazetteer.Record

	rows, err := p.db.QueryContext(ctx, facilityQuery, facilityArgs...)
	if err != nil {
		return nil, Error.New("failed to query facilities: %w", err)
	}
	for rows.Next() {
		var id, country, name, address string
		if err := rows.Scan(&id, &country, &name, &address); err != nil {
			_ = rows.Close()
			return nil, Error.Wrap(err)
		}
		records = append(records, facilityRecord(id, country, name, address))
	}
	if err := rows.Close(); err != nil {
		return nil, Error.Wrap(err)
	}
	if err := rows.Err(); err != nil {
		return nil, Error.Wrap(err)
	}

	rows, err = p.db.QueryContext(ctx, aliasQuery, aliasArgs...)
	if err != nil {
		return nil, Error.New("failed to query facility matches: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var matchID int64
		var item model.FacilityListItem
		var facilityID string
		if err := rows.Scan(&matchID, &facilityID, &item.CountryCode, &item.CleanName, &item.CleanAddress); err != nil {
			return nil, Error.Wrap(err)
		}
		records = append(records, matchRecord(matchID, facilityID, item))
	}
	return records, Error.Wrap(rows.Err())
}

// LabeledPairs implements gazetteer.Source
func (p *Postgres) LabeledPairs(ctx context.Context) ([]model.LabeledPair, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT i.clean_name, i.clean_address, ` + facilityTextColumns + `, m.status = $1
		FROM api_facilitymatch m
		JOIN api_facilitylistitem i ON i.id = m.facility_list_item_id
		JOIN api_facility f ON f.id = m.facility_id
		LEFT JOIN api_facilitylistitem c ON c.id = f.created_from_id
		WHERE m.status IN ($1, $2)
		ORDER BY m.id
	`, string(model.MatchConfirmed), string(model.MatchRejected))
	if err != nil {
		return nil, Error.New("failed to query labelled pairs: %w", err)
	}
	defer rows.Close()

	var pairs []model.LabeledPair
	for rows.Next() {
		var itemName, itemAddress, facilityName, facilityAddress string
		var match bool
		if err := rows.Scan(&itemName, &itemAddress, &facilityName, &facilityAddress, &match); err != nil {
			return nil, Error.Wrap(err)
		}
		pairs = append(pairs, labeledPair(itemName, itemAddress, facilityName, facilityAddress, match))
	}
	return pairs, Error.Wrap(rows.Err())
}

// SaveOutcomes implements Store
func (p *Postgres) SaveOutcomes(ctx context.Context, outcomes []Outcome) (saved []model.FacilityMatch, err error) {
	err = p.withTx(ctx, func(tx *sql.Tx) error {
		saved, err = saveOutcomesTx(ctx, tx, outcomes)
		return err
	})
	return saved, err
}

// CreateFacility implements Store
func (p *Postgres) CreateFacility(ctx context.Context, facility model.Facility, outcomes []Outcome) (saved []model.FacilityMatch, err error) {
	err = p.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO api_facility (
				id, name, address, country_code, location, created_from_id,
				is_closed, created_at, updated_at
			) VALUES ($1, $2, $3, $4, ST_SetSRID(ST_MakePoint($5, $6), 4326), $7, false, now(), now())
		`, facility.ID, facility.Name, facility.Address, facility.CountryCode,
			facility.Location.Lng, facility.Location.Lat, facility.CreatedFromID)
		if err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
				return ErrConflict.New("facility %s already exists", facility.ID)
			}
			return Error.New("failed to insert facility: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO api_historicalfacility (
				id, name, address, country_code, is_closed, history_date, history_type
			) VALUES ($1, $2, $3, $4, false, now(), '+')
		`, facility.ID, facility.Name, facility.Address, facility.CountryCode)
		if err != nil {
			return Error.New("failed to record facility history: %w", err)
		}

		saved, err = saveOutcomesTx(ctx, tx, outcomes)
		return err
	})
	return saved, err
}

func saveOutcomesTx(ctx context.Context, tx *sql.Tx, outcomes []Outcome) ([]model.FacilityMatch, error) {
	var saved []model.FacilityMatch
	for _, o := range outcomes {
		for _, match := range o.Matches {
			results, err := json.Marshal(match.Results)
			if err != nil {
				return nil, Error.Wrap(err)
			}

			match.ItemID = o.ItemID
			err = tx.QueryRowContext(ctx, `
				INSERT INTO api_facilitymatch (
					facility_list_item_id, facility_id, confidence, status, results,
					is_active, created_at, updated_at
				) VALUES ($1, $2, $3, $4, $5, $6, now(), now())
				RETURNING id, created_at
			`, match.ItemID, match.FacilityID, match.Confidence, string(match.Status), string(results),
				match.IsActive).Scan(&match.ID, &match.CreatedAt)
			if err != nil {
				return nil, Error.New("failed to insert match for item %d: %w", o.ItemID, err)
			}

			_, err = tx.ExecContext(ctx, `
				INSERT INTO api_historicalfacilitymatch (
					id, facility_list_item_id, facility_id, confidence, status,
					is_active, history_date, history_type
				) VALUES ($1, $2, $3, $4, $5, $6, now(), '+')
			`, match.ID, match.ItemID, match.FacilityID, match.Confidence, string(match.Status), match.IsActive)
			if err != nil {
				return nil, Error.New("failed to record match history: %w", err)
			}

			saved = append(saved, match)
		}

		result, err := json.Marshal([]model.ProcessingResult{o.Result})
		if err != nil {
			return nil, Error.Wrap(err)
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE api_facilitylistitem
			SET status = $2,
			    facility_id = NULLIF($3, ''),
			    processing_results = processing_results || $4::jsonb,
			    updated_at = now()
			WHERE id = $1
		`, o.ItemID, string(o.Status), o.FacilityID, string(result))
		if err != nil {
			return nil, Error.New("failed to update item %d: %w", o.ItemID, err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return nil, ErrNotFound.New("facility list item %d", o.ItemID)
		}
	}
	return saved, nil
}

// MarkDuplicates implements Store
func (p *Postgres) MarkDuplicates(ctx context.Context, itemIDs []int64, result model.ProcessingResult) error {
	if len(itemIDs) == 0 {
		return nil
	}
	entry, err := json.Marshal([]model.ProcessingResult{result})
	if err != nil {
		return Error.Wrap(err)
	}

	return p.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE api_facilitylistitem
			SET status = $2,
			    facility_id = NULL,
			    processing_results = processing_results || $3::jsonb,
			    updated_at = now()
			WHERE id = ANY($1)
		`, pq.Array(itemIDs), string(model.ItemDuplicate), string(entry))
		if err != nil {
			return Error.New("failed to mark duplicates: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			WITH deactivated AS (
				UPDATE api_facilitymatch
				SET is_active = false, updated_at = now()
				WHERE facility_list_item_id = ANY($1) AND is_active
				RETURNING id, facility_list_item_id, facility_id, confidence, status, is_active
			)
			INSERT INTO api_historicalfacilitymatch (
				id, facility_list_item_id, facility_id, confidence, status,
				is_active, history_date, history_type
			)
			SELECT id, facility_list_item_id, facility_id, confidence, status, is_active, now(), '~'
			FROM deactivated
		`, pq.Array(itemIDs))
		if err != nil {
			return Error.New("failed to deactivate duplicate matches: %w", err)
		}
		return nil
	})
}

// SaveRun implements Store
func (p *Postgres) SaveRun(ctx context.Context, run model.MatchRun) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO dedupe_match_run (
			batch_id, list_id, started_at, completed_at, processed, automatic, pending,
			new_facilities, errors, duplicates, skipped, failed, notes
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (batch_id) DO UPDATE SET
			completed_at = EXCLUDED.completed_at,
			processed = EXCLUDED.processed,
			automatic = EXCLUDED.automatic,
			pending = EXCLUDED.pending,
			new_facilities = EXCLUDED.new_facilities,
			errors = EXCLUDED.errors,
			duplicates = EXCLUDED.duplicates,
			skipped = EXCLUDED.skipped,
			failed = EXCLUDED.failed,
			notes = EXCLUDED.notes
	`, run.BatchID, nullInt64(run.ListID), run.StartedAt, nullTime(run.CompletedAt),
		run.Processed, run.Automatic, run.Pending, run.NewFacilities, run.Errors,
		run.Duplicates, run.Skipped, run.Failed, run.Notes)
	if err != nil {
		return Error.New("failed to save match run %s: %w", run.BatchID, err)
	}
	return nil
}

// GetRun implements Store
func (p *Postgres) GetRun(ctx context.Context, batchID string) (model.MatchRun, error) {
	var run model.MatchRun
	var listID sql.NullInt64
	var completedAt sql.NullTime

	err := p.db.QueryRowContext(ctx, `
		SELECT batch_id, list_id, started_at, completed_at, processed, automatic, pending,
		       new_facilities, errors, duplicates, skipped, failed, notes
		FROM dedupe_match_run
		WHERE batch_id = $1
	`, batchID).Scan(&run.BatchID, &listID, &run.StartedAt, &completedAt,
		&run.Processed, &run.Automatic, &run.Pending, &run.NewFacilities, &run.Errors,
		&run.Duplicates, &run.Skipped, &run.Failed, &run.Notes)
	if errors.Is(err, sql.ErrNoRows) {
		return run, ErrNotFound.New("match run %s", batchID)
	}
	if err != nil {
		return run, Error.New("failed to read match run %s: %w", batchID, err)
	}

	if listID.Valid {
		id := listID.Int64
		run.ListID = &id
	}
	if completedAt.Valid {
		t := completedAt.Time
		run.CompletedAt = &t
	}
	return run, nil
}

func (p *Postgres) withTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return Error.New("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = Error.Wrap(tx.Commit())
	}()
	return fn(tx)
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullTime(v *time.Time) sql.NullTime {
	if v == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *v, Valid: true}
}
