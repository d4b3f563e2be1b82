package storage

const sqliteSchema = `
-- 'flashcards' holds each card's content and its spaced-repetition state.
CREATE TABLE IF NOT EXISTS flashcards (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id TEXT NOT NULL,
    front TEXT NOT NULL,
    back TEXT NOT NULL,
    source TEXT NOT NULL CHECK (source IN ('ai-full', 'ai-edited', 'manual')),
    generation_id INTEGER,
    content_hash TEXT NOT NULL,
    due DATETIME NOT NULL,
    stability REAL NOT NULL DEFAULT 0,
    difficulty REAL NOT NULL DEFAULT 0,
    elapsed_days INTEGER NOT NULL DEFAULT 0,
    scheduled_days INTEGER NOT NULL DEFAULT 0,
    reps INTEGER NOT NULL DEFAULT 0,
    lapses INTEGER NOT NULL DEFAULT 0,
    state INTEGER NOT NULL DEFAULT 0, -- 0: New, 1: Learning, 2: Review, 3: Relearning
    last_review DATETIME,
    version INTEGER NOT NULL DEFAULT 1,
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS flashcards_user_due ON flashcards(user_id, due);
CREATE INDEX IF NOT EXISTS flashcards_user_hash ON flashcards(user_id, content_hash);

-- 'review_logs' is the append-only audit trail of ratings.
CREATE TABLE IF NOT EXISTS review_logs (
    id TEXT PRIMARY KEY,
    flashcard_id INTEGER NOT NULL,
    user_id TEXT NOT NULL,
    rating INTEGER NOT NULL CHECK (rating BETWEEN 1 AND 4),
    state_before INTEGER NOT NULL,
    state_after INTEGER NOT NULL,
    elapsed_days INTEGER NOT NULL,
    scheduled_days INTEGER NOT NULL,
    reviewed_at DATETIME NOT NULL,

    FOREIGN KEY(flashcard_id) REFERENCES flashcards(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS review_logs_flashcard ON review_logs(flashcard_id, reviewed_at);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS flashcards (
    id BIGSERIAL PRIMARY KEY,
    user_id UUID NOT NULL,
    front TEXT NOT NULL,
    back TEXT NOT NULL,
    source TEXT NOT NULL CHECK (source IN ('ai-full', 'ai-edited', 'manual')),
    generation_id BIGINT,
    content_hash TEXT NOT NULL,
    due TIMESTAMPTZ NOT NULL,
    stability DOUBLE PRECISION NOT NULL DEFAULT 0,
    difficulty DOUBLE PRECISION NOT NULL DEFAULT 0,
    elapsed_days INTEGER NOT NULL DEFAULT 0,
    scheduled_days INTEGER NOT NULL DEFAULT 0,
    reps INTEGER NOT NULL DEFAULT 0,
    lapses INTEGER NOT NULL DEFAULT 0,
    state SMALLINT NOT NULL DEFAULT 0,
    last_review TIMESTAMPTZ,
    version BIGINT NOT NULL DEFAULT 1,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS flashcards_user_due ON flashcards(user_id, due);
CREATE INDEX IF NOT EXISTS flashcards_user_hash ON flashcards(user_id, content_hash);

CREATE TABLE IF NOT EXISTS review_logs (
    id UUID PRIMARY KEY,
    flashcard_id BIGINT NOT NULL REFERENCES flashcards(id) ON DELETE CASCADE,
    user_id UUID NOT NULL,
    rating SMALLINT NOT NULL CHECK (rating BETWEEN 1 AND 4),
    state_before SMALLINT NOT NULL,
    state_after SMALLINT NOT NULL,
    elapsed_days INTEGER NOT NULL,
    scheduled_days INTEGER NOT NULL,
    reviewed_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS review_logs_flashcard ON review_logs(flashcard_id, reviewed_at);
`
