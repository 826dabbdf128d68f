package db

// HistoryDBSchema is applied to every per-owner history database.
//
// seq is the insertion order. tokens holds the command lowered and split so
// that every character is one FTS5 token (see Tokenize); commands_fts is an
// external-content index over it, kept in sync by the triggers below.
const HistoryDBSchema = `
CREATE TABLE IF NOT EXISTS commands (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT NOT NULL UNIQUE,
    command TEXT NOT NULL,
    tokens TEXT NOT NULL,
    username TEXT NOT NULL DEFAULT '',
    host TEXT NOT NULL DEFAULT '',
    timestamp INTEGER NOT NULL,
    meta TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_commands_timestamp ON commands(timestamp, seq);

CREATE VIRTUAL TABLE IF NOT EXISTS commands_fts USING fts5(
    tokens,
    content='commands',
    content_rowid='seq',
    tokenize='unicode61 remove_diacritics 0'
);

CREATE TRIGGER IF NOT EXISTS commands_ai AFTER INSERT ON commands BEGIN
    INSERT INTO commands_fts(rowid, tokens) VALUES (new.seq, new.tokens);
END;

CREATE TRIGGER IF NOT EXISTS commands_ad AFTER DELETE ON commands BEGIN
    INSERT INTO commands_fts(commands_fts, rowid, tokens) VALUES ('delete', old.seq, old.tokens);
END;

CREATE TRIGGER IF NOT EXISTS commands_au AFTER UPDATE OF tokens ON commands BEGIN
    INSERT INTO commands_fts(commands_fts, rowid, tokens) VALUES ('delete', old.seq, old.tokens);
    INSERT INTO commands_fts(rowid, tokens) VALUES (new.seq, new.tokens);
END;
`
