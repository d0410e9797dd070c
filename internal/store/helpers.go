package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/BTreeMap/NutriNest/internal/models"
)

// prepareProfile returns a copy of p bound to phone with a non-empty baby id.
func prepareProfile(phone string, p *models.BabyProfile) (*models.BabyProfile, error) {
	if p == nil {
		return nil, ErrNilProfile
	}
	c := p.Clone()
	c.Phone = phone
	if c.BabyID == "" {
		c.BabyID = models.DefaultBabyID
	}
	return c, nil
}

func encodeProfile(p *models.BabyProfile) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal profile: %w", err)
	}
	return data, nil
}

func decodeProfile(data []byte) (*models.BabyProfile, error) {
	var p models.BabyProfile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal profile: %w", err)
	}
	return &p, nil
}

// encodeStateData marshals flow state data; nil when empty.
func encodeStateData(data map[models.DataKey]string) (interface{}, error) {
	if len(data) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal state data: %w", err)
	}
	return string(b), nil
}

func decodeStateData(raw sql.NullString) (map[models.DataKey]string, error) {
	data := make(map[models.DataKey]string)
	if !raw.Valid || raw.String == "" {
		return data, nil
	}
	if err := json.Unmarshal([]byte(raw.String), &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state data: %w", err)
	}
	return data, nil
}
