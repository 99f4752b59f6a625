package sqlite

// schema contains the database schema DDL.
const schema = `
CREATE TABLE IF NOT EXISTS readings (
    id TEXT PRIMARY KEY,
    access_point TEXT,
    sensor_name TEXT NOT NULL,
    pdr REAL NOT NULL,
    rss REAL NOT NULL,
    observed_at INTEGER NOT NULL,
    warning INTEGER,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_readings_sensor_time ON readings(access_point, sensor_name, observed_at);
`
