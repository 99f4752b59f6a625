package repository

// PostgresSchema creates the readings table and the trigger that feeds
// SubscribeChanges. It is safe to apply repeatedly.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS readings (
    id           TEXT PRIMARY KEY,
    access_point TEXT,
    sensor_name  TEXT NOT NULL,
    pdr          DOUBLE PRECISION NOT NULL,
    rss          DOUBLE PRECISION NOT NULL,
    observed_at  BIGINT NOT NULL,
    warning      BOOLEAN,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_readings_sensor_time
    ON readings (access_point, sensor_name, observed_at);

CREATE OR REPLACE FUNCTION notify_readings_changed() RETURNS trigger AS $$
BEGIN
    PERFORM pg_notify('readings_changed', '');
    RETURN NULL;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS readings_changed ON readings;
CREATE TRIGGER readings_changed
    AFTER INSERT OR UPDATE OR DELETE ON readings
    FOR EACH STATEMENT EXECUTE FUNCTION notify_readings_changed();
`
