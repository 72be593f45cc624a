// Package prefs persists per-device client settings as key-value rows.
// A key that was never written reads as its default.
package prefs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/lifeline-edge/triage/internal/risk"
)

const (
	keyPersona      = "persona"
	keySensors      = "sensors"
	keySpeech       = "speech"
	keyFavorites    = "favorites"
	keyPersonalInfo = "personal_info"
)

type Prefs struct {
	Persona      risk.Persona `json:"persona"`
	Sensors      bool         `json:"sensors"`
	Speech       bool         `json:"speech"`
	Favorites    []string     `json:"favorites"`
	PersonalInfo string       `json:"personalInfo"`
}

// Defaults: sensors opted in, speech opted out.
func Defaults() Prefs {
	return Prefs{
		Persona:   risk.PersonaDefault,
		Sensors:   true,
		Speech:    false,
		Favorites: []string{},
	}
}

// Update changes only the fields that are set.
type Update struct {
	Persona      *risk.Persona `json:"persona,omitempty" validate:"omitempty,oneof=default child senior cognitive"`
	Sensors      *bool         `json:"sensors,omitempty"`
	Speech       *bool         `json:"speech,omitempty"`
	Favorites    *[]string     `json:"favorites,omitempty" validate:"omitempty,max=50,dive,required"`
	PersonalInfo *string       `json:"personalInfo,omitempty" validate:"omitempty,max=2000"`
}

type Store struct {
	db *sql.DB
}

// NewStore expects the prefs table created by the migrations.
func NewStore(ctx context.Context, db *sql.DB) (*Store, error) {
	rows, err := db.QueryContext(ctx, `SELECT 1 FROM prefs LIMIT 1`)
	if err != nil {
		return nil, fmt.Errorf("checking prefs table: %w", err)
	}
	rows.Close()
	return &Store{db: db}, nil
}

// Load returns the settings of device. Rows that fail to decode fall back
// to the default for their key.
func (s *Store) Load(ctx context.Context, device string) (Prefs, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, json(data) FROM prefs WHERE device = ?`, device,
	)
	if err != nil {
		return Prefs{}, fmt.Errorf("loading prefs: %w", err)
	}
	defer rows.Close()

	p := Defaults()
	for rows.Next() {
		var key, data string
		if err := rows.Scan(&key, &data); err != nil {
			return Prefs{}, fmt.Errorf("scanning prefs: %w", err)
		}
		p.apply(key, []byte(data))
	}
	if err := rows.Err(); err != nil {
		return Prefs{}, fmt.Errorf("loading prefs: %w", err)
	}
	return p, nil
}

func (p *Prefs) apply(key string, data []byte) {
	switch key {
	case keyPersona:
		var v risk.Persona
		if json.Unmarshal(data, &v) == nil {
			p.Persona = v
		}
	case keySensors:
		var v bool
		if json.Unmarshal(data, &v) == nil {
			p.Sensors = v
		}
	case keySpeech:
		var v bool
		if json.Unmarshal(data, &v) == nil {
			p.Speech = v
		}
	case keyFavorites:
		var v []string
		if json.Unmarshal(data, &v) == nil && v != nil {
			p.Favorites = v
		}
	case keyPersonalInfo:
		var v string
		if json.Unmarshal(data, &v) == nil {
			p.PersonalInfo = v
		}
	}
}

// Save writes the set fields of u and returns the resulting settings.
func (s *Store) Save(ctx context.Context, device string, u Update) (Prefs, error) {
	values := map[string]any{}
	if u.Persona != nil {
		values[keyPersona] = *u.Persona
	}
	if u.Sensors != nil {
		values[keySensors] = *u.Sensors
	}
	if u.Speech != nil {
		values[keySpeech] = *u.Speech
	}
	if u.Favorites != nil {
		values[keyFavorites] = dedupe(*u.Favorites)
	}
	if u.PersonalInfo != nil {
		values[keyPersonalInfo] = *u.PersonalInfo
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Prefs{}, fmt.Errorf("beginning tx: %w", err)
	}
	defer tx.Rollback()

	for key, v := range values {
		if err := put(ctx, tx, device, key, v); err != nil {
			return Prefs{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return Prefs{}, fmt.Errorf("committing prefs: %w", err)
	}
	return s.Load(ctx, device)
}

// ToggleFavorite adds slug to the favourites of device, or removes it when
// already present. added reports which happened.
func (s *Store) ToggleFavorite(ctx context.Context, device, slug string) (favorites []string, added bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("beginning tx: %w", err)
	}
	defer tx.Rollback()

	var current []string
	var data string
	err = tx.QueryRowContext(ctx,
		`SELECT json(data) FROM prefs WHERE device = ? AND key = ?`, device, keyFavorites,
	).Scan(&data)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, false, fmt.Errorf("loading favorites: %w", err)
	default:
		json.Unmarshal([]byte(data), &current)
	}

	if i := slices.Index(current, slug); i >= 0 {
		current = slices.Delete(current, i, i+1)
	} else {
		current = append(current, slug)
		added = true
	}
	if current == nil {
		current = []string{}
	}
	if err := put(ctx, tx, device, keyFavorites, current); err != nil {
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("committing favorites: %w", err)
	}
	return current, added, nil
}

// Reset deletes every stored setting of device.
func (s *Store) Reset(ctx context.Context, device string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM prefs WHERE device = ?`, device); err != nil {
		return fmt.Errorf("resetting prefs: %w", err)
	}
	return nil
}

func put(ctx context.Context, tx *sql.Tx, device, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO prefs (device, key, data) VALUES (?, ?, jsonb(?))
		 ON CONFLICT (device, key) DO UPDATE SET data = excluded.data`,
		device, key, string(data),
	); err != nil {
		return fmt.Errorf("saving %s: %w", key, err)
	}
	return nil
}

func dedupe(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}
