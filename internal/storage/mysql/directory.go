package mysql

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/goccy/go-json"

	"qtech-backend/internal/models"
	"qtech-backend/internal/queue"
)

// AssignedCounters lists the active counters a staff user is assigned to.
func (r *Repository) AssignedCounters(ctx context.Context, userID int64) ([]models.Counter, error) {
	var out []models.Counter
	err := r.exec.do(ctx, "assigned_counters", func(ctx context.Context) error {
		rows, err := r.db.QueryContext(ctx, `
			SELECT c.id, c.service_id, c.counter_number, c.name, c.status, c.current_serving_queue_id,
				c.is_active, c.created_at, c.updated_at
			FROM counters c
			JOIN counter_staff cs ON cs.counter_id = c.id
			WHERE cs.user_id = ? AND c.is_active = 1
			ORDER BY cs.is_primary DESC, c.counter_number ASC`, userID)
		if err != nil {
			return fmt.Errorf("query assigned counters: %w", err)
		}
		defer rows.Close()
		out = out[:0]
		for rows.Next() {
			c, err := scanCounter(rows)
			if err != nil {
				return fmt.Errorf("scan counter: %w", err)
			}
			out = append(out, c)
		}
		return rows.Err()
	})
	return out, err
}

func (r *Repository) IsAssigned(ctx context.Context, userID, counterID int64) (bool, error) {
	var n int
	err := r.exec.do(ctx, "is_assigned", func(ctx context.Context) error {
		return r.db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM counter_staff WHERE user_id = ? AND counter_id = ?",
			userID, counterID).Scan(&n)
	})
	return n > 0, err
}

func (r *Repository) FindUserByEmail(ctx context.Context, email string) (models.User, error) {
	var u models.User
	err := r.exec.do(ctx, "find_user", func(ctx context.Context) error {
		var studentID sql.NullString
		err := r.db.QueryRowContext(ctx, `
			SELECT id, student_id, email, password_hash, first_name, last_name, role, is_active, created_at, updated_at
			FROM users WHERE email = ? LIMIT 1`, email).
			Scan(&u.ID, &studentID, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName,
				&u.Role, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
		if err != nil {
			return notFound(err, "find", "user", 0)
		}
		if studentID.Valid {
			u.StudentID = &studentID.String
		}
		return nil
	})
	return u, err
}

const settingsKey = "system"

func (r *Repository) LoadSettings(ctx context.Context) (models.SystemSettings, error) {
	var raw []byte
	err := r.exec.do(ctx, "load_settings", func(ctx context.Context) error {
		err := r.db.QueryRowContext(ctx,
			"SELECT setting_value FROM system_settings WHERE setting_key = ?", settingsKey).Scan(&raw)
		return notFound(err, "load", "settings", 0)
	})
	if err != nil {
		return models.SystemSettings{}, err
	}

	s := models.DefaultSettings()
	if err := json.Unmarshal(raw, &s); err != nil {
		return models.SystemSettings{}, &queue.Error{Kind: queue.KindStorageUnavailable, Op: "load_settings", Err: err}
	}
	return s, nil
}

func (r *Repository) SaveSettings(ctx context.Context, s models.SystemSettings) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	return r.exec.do(ctx, "save_settings", func(ctx context.Context) error {
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO system_settings (setting_key, setting_value, updated_at) VALUES (?, ?, NOW())
			ON DUPLICATE KEY UPDATE setting_value = VALUES(setting_value), updated_at = NOW()`,
			settingsKey, string(raw))
		return err
	})
}
