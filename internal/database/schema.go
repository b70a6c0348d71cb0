package database

import (
	"context"
	"database/sql"
	"fmt"
	"log"
)

// schema lists the tables in creation order.  reservation_fields keeps
// the position of each field so the client's ordering survives a round
// trip.  audit_log is append-only.
var schema = []struct {
	name string
	ddl  string
}{
	{"reservations", `CREATE TABLE IF NOT EXISTS reservations (
    id          BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
    date        CHAR(10)        NOT NULL,
    start_time  CHAR(5)         NOT NULL,
    end_time    CHAR(5)         NOT NULL,
    group_name  VARCHAR(120)    NOT NULL DEFAULT '',
    created_at  DATETIME(6)     NOT NULL,
    updated_at  DATETIME(6)     NOT NULL,
    PRIMARY KEY (id),
    KEY idx_reservations_date_start (date, start_time)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`},
	{"reservation_fields", `CREATE TABLE IF NOT EXISTS reservation_fields (
    reservation_id BIGINT UNSIGNED NOT NULL,
    position       INT UNSIGNED    NOT NULL,
    field_id       VARCHAR(64)     NOT NULL,
    PRIMARY KEY (reservation_id, position),
    KEY idx_reservation_fields_field (field_id),
    CONSTRAINT fk_reservation_fields_reservation FOREIGN KEY (reservation_id)
        REFERENCES reservations (id) ON DELETE CASCADE
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`},
	{"audit_log", `CREATE TABLE IF NOT EXISTS audit_log (
    id          BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
    created_at  DATETIME(6)     NOT NULL,
    action      ENUM('CREATE','UPDATE','DELETE') NOT NULL,
    detail      JSON            NOT NULL,
    PRIMARY KEY (id)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`},
}

// Migrate creates any missing tables.  Existing tables are left as they are.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, t := range schema {
		if _, err := db.ExecContext(ctx, t.ddl); err != nil {
			return fmt.Errorf("failed to ensure table %s: %w", t.name, err)
		}
		log.Printf("database: ensured table %s", t.name)
	}
	return nil
}
