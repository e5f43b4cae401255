package state

const schemaSQL = `
CREATE TABLE IF NOT EXISTS personas (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  status TEXT NOT NULL,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS journal (
  id TEXT PRIMARY KEY,
  stream TEXT NOT NULL,
  agent_id TEXT,
  context_id TEXT,
  subject TEXT,
  body TEXT NOT NULL,
  metadata TEXT,
  created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_journal_stream_created ON journal(stream, created_at);
CREATE INDEX IF NOT EXISTS idx_journal_agent ON journal(agent_id);
`
