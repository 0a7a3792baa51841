package database

import "fmt"

// createTables creates the schema if it does not exist. Statements are
// kept driver-portable; the few divergent spots (auto-increment, upsert
// syntax) are selected by driver.
func (db *DB) createTables() error {
	autoIncrement := "INTEGER PRIMARY KEY AUTOINCREMENT"
	textType := "TEXT"
	if db.driver == "mysql" {
		autoIncrement = "BIGINT PRIMARY KEY AUTO_INCREMENT"
		textType = "LONGTEXT"
	}

	statements := []string{
		`CREATE TABLE IF NOT EXISTS credentials (
			owner_id VARCHAR(255) NOT NULL,
			provider VARCHAR(32) NOT NULL,
			encrypted_blob ` + textType + ` NOT NULL,
			expires_at TIMESTAMP NULL,
			updated_at TIMESTAMP NOT NULL,
			PRIMARY KEY (owner_id, provider)
		)`,
		`CREATE TABLE IF NOT EXISTS intents (
			id VARCHAR(36) PRIMARY KEY,
			owner_id VARCHAR(255) NOT NULL,
			kind VARCHAR(32) NOT NULL,
			payload ` + textType + ` NOT NULL,
			recurrence VARCHAR(128),
			state VARCHAR(32) NOT NULL,
			received_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS outcomes (
			intent_id VARCHAR(36) PRIMARY KEY,
			owner_id VARCHAR(255) NOT NULL,
			kind VARCHAR(32) NOT NULL,
			status VARCHAR(16) NOT NULL,
			results ` + textType + ` NOT NULL,
			summary ` + textType + `,
			payload_hash VARCHAR(64),
			finished_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS conversation_turns (
			seq ` + autoIncrement + `,
			owner_id VARCHAR(255) NOT NULL,
			intent_id VARCHAR(36),
			role VARCHAR(16) NOT NULL,
			content ` + textType + ` NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS leads (
			id VARCHAR(36) PRIMARY KEY,
			owner_id VARCHAR(255) NOT NULL,
			first_name VARCHAR(255) NOT NULL,
			last_name VARCHAR(255),
			email VARCHAR(255),
			phone VARCHAR(64),
			company VARCHAR(255),
			title VARCHAR(255),
			lead_source VARCHAR(32) NOT NULL,
			status VARCHAR(16) NOT NULL,
			notes ` + textType + `,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS activities (
			id VARCHAR(36) PRIMARY KEY,
			lead_id VARCHAR(36) NOT NULL,
			owner_id VARCHAR(255) NOT NULL,
			type VARCHAR(32) NOT NULL,
			detail ` + textType + `,
			created_at TIMESTAMP NOT NULL
		)`,
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_outcomes_owner_kind ON outcomes (owner_id, kind, finished_at)`,
		`CREATE INDEX IF NOT EXISTS idx_turns_owner ON conversation_turns (owner_id, seq)`,
		`CREATE INDEX IF NOT EXISTS idx_leads_owner ON leads (owner_id)`,
		`CREATE INDEX IF NOT EXISTS idx_leads_phone ON leads (owner_id, phone)`,
		`CREATE INDEX IF NOT EXISTS idx_activities_lead ON activities (lead_id, created_at)`,
	}

	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}

	for _, stmt := range indexes {
		if _, err := db.Exec(stmt); err != nil {
			// MySQL before 8.0.29 lacks IF NOT EXISTS on indexes; a
			// duplicate-index error on re-run is harmless there
			if db.driver == "mysql" {
				continue
			}
			return fmt.Errorf("index statement failed: %w", err)
		}
	}

	return nil
}
