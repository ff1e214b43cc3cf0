package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/ayusman/parallax/internal/model"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// ModelRecord represents a model definition stored in the database.
type ModelRecord struct {
	ID        string
	Name      string
	Type      model.Type
	ModelPath string
	Backend   model.Backend
	Device    model.Device
	Params    map[string]string
	Enabled   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Config builds the load configuration described by this record.
func (m *ModelRecord) Config() model.Config {
	config := model.DefaultConfig()
	config.ModelPath = m.ModelPath
	config.Backend = m.Backend
	config.Device = m.Device
	config.Params = m.Params
	return config
}

// ModelRepository provides CRUD operations for model definitions.
type ModelRepository struct {
	db *sql.DB
}

// Models returns the model repository for this store.
func (s *Store) Models() *ModelRepository {
	return &ModelRepository{db: s.db}
}

// Create inserts a new model definition into the database.
// A missing ID is assigned automatically.
func (r *ModelRepository) Create(m *ModelRecord) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	now := time.Now()
	m.CreatedAt = now
	m.UpdatedAt = now

	params, err := encodeParams(m.Params)
	if err != nil {
		return err
	}

	_, err = r.db.Exec(
		`INSERT INTO models (id, name, type, model_path, backend, device, params, enabled, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Name, string(m.Type), m.ModelPath, m.Backend.String(), m.Device.String(),
		params, m.Enabled, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return err
	}

	return nil
}

// GetByID retrieves a model definition by its ID.
func (r *ModelRepository) GetByID(id string) (*ModelRecord, error) {
	return r.get(`SELECT id, name, type, model_path, backend, device, params, enabled, created_at, updated_at
		 FROM models WHERE id = ?`, id)
}

// GetByName retrieves a model definition by its name.
func (r *ModelRepository) GetByName(name string) (*ModelRecord, error) {
	return r.get(`SELECT id, name, type, model_path, backend, device, params, enabled, created_at, updated_at
		 FROM models WHERE name = ?`, name)
}

func (r *ModelRepository) get(query string, arg any) (*ModelRecord, error) {
	m := &ModelRecord{}
	var modelType, backend, device, params string

	err := r.db.QueryRow(query, arg).Scan(
		&m.ID, &m.Name, &modelType, &m.ModelPath, &backend, &device,
		&params, &m.Enabled, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	m.Type = model.Type(modelType)
	m.Backend = model.ParseBackend(backend)
	m.Device = model.ParseDevice(device)
	m.Params, err = decodeParams(params)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// List retrieves all model definitions from the database.
func (r *ModelRepository) List() ([]*ModelRecord, error) {
	rows, err := r.db.Query(
		`SELECT id, name, type, model_path, backend, device, params, enabled, created_at, updated_at
		 FROM models ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*ModelRecord
	for rows.Next() {
		m := &ModelRecord{}
		var modelType, backend, device, params string

		err := rows.Scan(
			&m.ID, &m.Name, &modelType, &m.ModelPath, &backend, &device,
			&params, &m.Enabled, &m.CreatedAt, &m.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}

		m.Type = model.Type(modelType)
		m.Backend = model.ParseBackend(backend)
		m.Device = model.ParseDevice(device)
		m.Params, err = decodeParams(params)
		if err != nil {
			return nil, err
		}
		records = append(records, m)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return records, nil
}

// ListEnabled retrieves the model definitions flagged for loading at
// startup.
func (r *ModelRepository) ListEnabled() ([]*ModelRecord, error) {
	records, err := r.List()
	if err != nil {
		return nil, err
	}

	enabled := records[:0]
	for _, m := range records {
		if m.Enabled {
			enabled = append(enabled, m)
		}
	}
	return enabled, nil
}

// Update updates an existing model definition in the database.
func (r *ModelRepository) Update(m *ModelRecord) error {
	m.UpdatedAt = time.Now()

	params, err := encodeParams(m.Params)
	if err != nil {
		return err
	}

	result, err := r.db.Exec(
		`UPDATE models SET name = ?, type = ?, model_path = ?, backend = ?, device = ?, params = ?, enabled = ?, updated_at = ?
		 WHERE id = ?`,
		m.Name, string(m.Type), m.ModelPath, m.Backend.String(), m.Device.String(),
		params, m.Enabled, m.UpdatedAt, m.ID,
	)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// Delete removes a model definition from the database by its ID.
func (r *ModelRepository) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM models WHERE id = ?`, id)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

func encodeParams(params map[string]string) (string, error) {
	if params == nil {
		return "{}", nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeParams(data string) (map[string]string, error) {
	if data == "" || data == "{}" {
		return nil, nil
	}
	var params map[string]string
	if err := json.Unmarshal([]byte(data), &params); err != nil {
		return nil, err
	}
	return params, nil
}
