package timeline

const qEnsureGenerationResults = `--sql 6f1d2c3b-8a4e-4f7a-9c21-5b0e7d9a1f34
CREATE TABLE IF NOT EXISTS generation_results (
    request_id   TEXT PRIMARY KEY,
    route        TEXT NOT NULL,
    backend      TEXT NOT NULL,
    outcome      TEXT NOT NULL,
    prompt       TEXT NOT NULL,
    images       TEXT[] NOT NULL DEFAULT '{}',
    error_code   TEXT,
    metadata     JSONB NOT NULL DEFAULT '{}'::jsonb,
    duration_ms  BIGINT NOT NULL,
    finished_at  TIMESTAMPTZ NOT NULL
);`

const qUpsertGenerationResult = `--sql 2a7c9e14-5d3b-4b8f-8e60-1c4f9a2d7b53
INSERT INTO generation_results (
    request_id, route, backend, outcome, prompt, images, error_code, metadata, duration_ms, finished_at
) VALUES (
    $1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9, $10
) ON CONFLICT (request_id) DO UPDATE SET
    outcome = EXCLUDED.outcome,
    images = EXCLUDED.images,
    error_code = EXCLUDED.error_code,
    duration_ms = EXCLUDED.duration_ms,
    finished_at = EXCLUDED.finished_at;`
