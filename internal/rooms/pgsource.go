package rooms

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/lib/pq"

	"github.com/FamiliaDusu/Ogaac-test/pkg/logging"
)

// directoryQuery lists active rooms with their device address. Inactive
// rooms are excluded entirely rather than marked disabled.
const directoryQuery = `
SELECT se.codigo AS sede,
       s.codigo AS sala,
       s.dvr_hostname,
       HOST(s.dvr_ip) AS dvr_ip,
       s.obs_websocket_port
FROM salas s
JOIN sedes se ON s.sede_id = se.id
WHERE s.activa = true
ORDER BY se.codigo, s.codigo`

// Directory loads the public room tree from Postgres. Secrets never live
// in the database, so every row is marked needsSecrets.
type Directory struct {
	db     *sql.DB
	logger logging.Logger
	ttl    time.Duration

	mu       sync.Mutex
	cached   map[string]interface{}
	cachedAt time.Time
}

// NewDirectory wraps an open database handle.
func NewDirectory(db *sql.DB, logger logging.Logger) *Directory {
	return &Directory{db: db, logger: logger, ttl: DefaultTTL}
}

// Load returns the room tree, querying at most once per TTL.
func (d *Directory) Load() (map[string]interface{}, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cached != nil && time.Since(d.cachedAt) < d.ttl {
		return d.cached, nil
	}

	rows, err := d.db.Query(directoryQuery)
	if err != nil {
		return nil, fmt.Errorf("query room directory: %w", err)
	}
	defer rows.Close()

	tree := make(map[string]interface{})
	count := 0
	for rows.Next() {
		var sede, sala string
		var hostname, ip sql.NullString
		var port sql.NullInt64
		if err := rows.Scan(&sede, &sala, &hostname, &ip, &port); err != nil {
			return nil, fmt.Errorf("scan room row: %w", err)
		}
		if !ip.Valid || !port.Valid {
			d.logger.WithFields(logging.Fields{
				"sede": sede,
				"sala": sala,
			}).Warn("Room row missing device address, skipping")
			continue
		}

		salas, ok := tree[sede].(map[string]interface{})
		if !ok {
			salas = make(map[string]interface{})
			tree[sede] = salas
		}
		entry := map[string]interface{}{
			"ws":           fmt.Sprintf("ws://%s:%d", ip.String, port.Int64),
			"enabled":      true,
			"needsSecrets": true,
			"dvr_ip":       ip.String,
			"fromDB":       true,
		}
		if hostname.Valid && hostname.String != "" {
			entry["dvr_hostname"] = hostname.String
		}
		salas[sala] = entry
		count++
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate room rows: %w", err)
	}

	d.cached = tree
	d.cachedAt = time.Now()
	d.logger.WithFields(logging.Fields{"rooms": count}).Debug("Loaded room directory from database")
	return tree, nil
}

// Invalidate forces the next Load to hit the database.
func (d *Directory) Invalidate() {
	d.mu.Lock()
	d.cached = nil
	d.cachedAt = time.Time{}
	d.mu.Unlock()
}
