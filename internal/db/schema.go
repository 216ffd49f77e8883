package db

const schemaSQL = `
-- ===========================================================================
-- SWEEP LOG (diagnostics only; never reloaded into the fleet)
-- ===========================================================================

CREATE TABLE IF NOT EXISTS sweep_records (
  record_id TEXT PRIMARY KEY,
  generation INTEGER NOT NULL,
  started_at TEXT NOT NULL,
  finished_at TEXT NOT NULL,
  outcome TEXT NOT NULL CHECK (outcome IN ('completed', 'aborted', 'failed')),
  found_json TEXT NOT NULL DEFAULT '[]',
  added_json TEXT NOT NULL DEFAULT '[]',
  removed_json TEXT NOT NULL DEFAULT '[]',
  device_count INTEGER NOT NULL DEFAULT 0,
  group_count INTEGER NOT NULL DEFAULT 0,
  error TEXT
);

CREATE INDEX IF NOT EXISTS idx_sweep_records_finished_at ON sweep_records(finished_at DESC);
CREATE INDEX IF NOT EXISTS idx_sweep_records_outcome ON sweep_records(outcome);
`
