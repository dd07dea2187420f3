package repository

// PostgresSchema creates the tables read and written by the price calculator
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS users (
    id          BIGSERIAL PRIMARY KEY,
    slug        TEXT NOT NULL UNIQUE,
    name        TEXT NOT NULL DEFAULT '',
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS settings (
    id               BIGSERIAL PRIMARY KEY,
    user_id          BIGINT NOT NULL UNIQUE REFERENCES users(id) ON DELETE CASCADE,
    bw_price         DOUBLE PRECISION NOT NULL DEFAULT 0 CHECK (bw_price >= 0),
    color_price      DOUBLE PRECISION NOT NULL DEFAULT 0 CHECK (color_price >= 0),
    photo_price      DOUBLE PRECISION CHECK (photo_price >= 0),
    threshold_color  DOUBLE PRECISION DEFAULT 20 CHECK (threshold_color BETWEEN 0 AND 100),
    threshold_photo  DOUBLE PRECISION DEFAULT 30 CHECK (threshold_photo BETWEEN 0 AND 100),
    version          BIGINT NOT NULL DEFAULT 1,
    created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS page_visits (
    id           BIGSERIAL PRIMARY KEY,
    ip_address   TEXT NOT NULL,
    page         TEXT NOT NULL,
    visit_date   DATE NOT NULL,
    visitor_id   TEXT NOT NULL,
    user_agent   TEXT,
    visit_count  INTEGER NOT NULL DEFAULT 0,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    CONSTRAINT page_visits_ip_page_date_unique UNIQUE (ip_address, page, visit_date)
);

CREATE INDEX IF NOT EXISTS idx_page_visits_visit_date ON page_visits(visit_date);
`

// PostgresDropSchema drops every table created by PostgresSchema
const PostgresDropSchema = `
DROP TABLE IF EXISTS page_visits CASCADE;
DROP TABLE IF EXISTS settings CASCADE;
DROP TABLE IF EXISTS users CASCADE;
`

// SQLiteSchema mirrors PostgresSchema for the embedded store. Timestamps are
// stored as RFC 3339 text.
const SQLiteSchema = `
CREATE TABLE IF NOT EXISTS users (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    slug        TEXT NOT NULL UNIQUE,
    name        TEXT NOT NULL DEFAULT '',
    created_at  TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
);

CREATE TABLE IF NOT EXISTS settings (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id          INTEGER NOT NULL UNIQUE REFERENCES users(id) ON DELETE CASCADE,
    bw_price         REAL NOT NULL DEFAULT 0,
    color_price      REAL NOT NULL DEFAULT 0,
    photo_price      REAL,
    threshold_color  REAL DEFAULT 20,
    threshold_photo  REAL DEFAULT 30,
    version          INTEGER NOT NULL DEFAULT 1,
    updated_at       TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
);

CREATE TABLE IF NOT EXISTS page_visits (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    ip_address   TEXT NOT NULL,
    page         TEXT NOT NULL,
    visit_date   TEXT NOT NULL,
    visitor_id   TEXT NOT NULL,
    user_agent   TEXT,
    visit_count  INTEGER NOT NULL DEFAULT 0,
    created_at   TEXT NOT NULL,
    updated_at   TEXT NOT NULL,
    UNIQUE (ip_address, page, visit_date)
);

CREATE INDEX IF NOT EXISTS idx_page_visits_visit_date ON page_visits(visit_date);
`

// SQLiteDropSchema drops every table created by SQLiteSchema
const SQLiteDropSchema = `
DROP TABLE IF EXISTS page_visits;
DROP TABLE IF EXISTS settings;
DROP TABLE IF EXISTS users;
`
