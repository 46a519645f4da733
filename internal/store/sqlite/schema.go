package sqlite

const schema = `
-- Documents are never deleted; deprecation is one-way
CREATE TABLE IF NOT EXISTS documents (
    id TEXT PRIMARY KEY,
    source_path TEXT NOT NULL,
    content_hash TEXT NOT NULL UNIQUE CHECK(length(content_hash) = 64),
    format TEXT NOT NULL DEFAULT 'markdown',
    document_type TEXT NOT NULL CHECK(document_type IN ('spec', 'guide', 'handoff', 'prompt', 'report', 'reference', 'decision', 'archive')),
    title TEXT NOT NULL DEFAULT '',
    authority_level INTEGER NOT NULL DEFAULT 5 CHECK(authority_level >= 1 AND authority_level <= 10),
    raw_content TEXT NOT NULL,
    frontmatter TEXT NOT NULL DEFAULT '{}',
    tags TEXT NOT NULL DEFAULT '[]',
    created_at TEXT NOT NULL,
    modified_at TEXT NOT NULL,
    ingested_at TEXT NOT NULL,
    deprecated_at TEXT,
    superseded_by TEXT REFERENCES documents(id),
    CHECK (superseded_by IS NULL OR deprecated_at IS NOT NULL),
    CHECK (superseded_by IS NULL OR superseded_by <> id)
);

CREATE INDEX IF NOT EXISTS idx_documents_ingested ON documents(ingested_at, id);

CREATE TABLE IF NOT EXISTS sections (
    id TEXT PRIMARY KEY,
    document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
    header TEXT NOT NULL DEFAULT '',
    content TEXT NOT NULL DEFAULT '',
    level INTEGER NOT NULL CHECK(level >= 1 AND level <= 6),
    section_order INTEGER NOT NULL CHECK(section_order >= 0),
    start_line INTEGER NOT NULL DEFAULT 0,
    end_line INTEGER NOT NULL DEFAULT 0,
    semantic_type TEXT NOT NULL DEFAULT 'unknown' CHECK(semantic_type IN ('requirements', 'examples', 'decisions', 'unknown')),
    UNIQUE(document_id, section_order)
);

CREATE TABLE IF NOT EXISTS claims (
    id TEXT PRIMARY KEY,
    document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
    section_id TEXT NOT NULL REFERENCES sections(id) ON DELETE CASCADE,
    original_text TEXT NOT NULL DEFAULT '',
    subject TEXT NOT NULL CHECK(length(subject) > 0),
    predicate TEXT NOT NULL CHECK(length(predicate) > 0),
    object TEXT NOT NULL CHECK(length(object) > 0),
    qualifier TEXT,
    confidence REAL NOT NULL CHECK(confidence >= 0.0 AND confidence <= 1.0),
    deprecated INTEGER NOT NULL DEFAULT 0 CHECK(deprecated IN (0, 1)),
    verification_status TEXT NOT NULL DEFAULT 'unverified' CHECK(verification_status IN ('unverified', 'verified', 'contradicted', 'uncertain')),
    last_verified_at TEXT,
    verification_evidence TEXT
);

CREATE INDEX IF NOT EXISTS idx_claims_document ON claims(document_id);
CREATE INDEX IF NOT EXISTS idx_claims_subject ON claims(subject);

-- One row per unordered claim pair, stored with claim_a_id < claim_b_id
CREATE TABLE IF NOT EXISTS conflicts (
    id TEXT PRIMARY KEY,
    claim_a_id TEXT NOT NULL REFERENCES claims(id),
    claim_b_id TEXT NOT NULL REFERENCES claims(id),
    conflict_type TEXT NOT NULL CHECK(conflict_type IN ('direct_negation', 'value_conflict', 'temporal_conflict', 'scope_conflict', 'implication_conflict')),
    strength REAL NOT NULL CHECK(strength >= 0.0 AND strength <= 1.0),
    detected_by TEXT NOT NULL DEFAULT '',
    resolution_hints TEXT NOT NULL DEFAULT '',
    ambiguous INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL DEFAULT 'unresolved' CHECK(status IN ('unresolved', 'investigating', 'resolved', 'ignored', 'escalated')),
    resolved INTEGER NOT NULL DEFAULT 0,
    resolution TEXT CHECK(resolution IS NULL OR resolution IN ('chose_a', 'chose_b', 'merged', 'flagged')),
    resolution_reasoning TEXT NOT NULL DEFAULT '',
    resolved_by TEXT,
    detected_at TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    UNIQUE(claim_a_id, claim_b_id),
    CHECK (claim_a_id < claim_b_id),
    CHECK (resolved = (status = 'resolved')),
    CHECK ((resolution IS NOT NULL) = (status = 'resolved')),
    CHECK (status <> 'resolved' OR resolved_by IS NOT NULL)
);

CREATE INDEX IF NOT EXISTS idx_conflicts_claim_b ON conflicts(claim_b_id);

CREATE TABLE IF NOT EXISTS supersessions (
    old_document_id TEXT PRIMARY KEY REFERENCES documents(id),
    new_document_id TEXT NOT NULL REFERENCES documents(id),
    reason TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS consolidations (
    id TEXT PRIMARY KEY,
    source_document_ids TEXT NOT NULL,
    output_content TEXT NOT NULL,
    output_document_id TEXT NOT NULL REFERENCES documents(id),
    strategy TEXT NOT NULL CHECK(strategy IN ('merge_all', 'prefer_authority', 'prefer_newest')),
    statistics TEXT NOT NULL DEFAULT '{}',
    created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS provenance (
    id TEXT PRIMARY KEY,
    consolidation_id TEXT NOT NULL REFERENCES consolidations(id),
    output_heading TEXT NOT NULL,
    output_order INTEGER NOT NULL CHECK(output_order >= 0),
    source_document_id TEXT NOT NULL REFERENCES documents(id),
    source_section_id TEXT NOT NULL REFERENCES sections(id),
    contribution_type TEXT NOT NULL CHECK(contribution_type IN ('primary', 'supplementary', 'superseded')),
    confidence REAL NOT NULL CHECK(confidence >= 0.0 AND confidence <= 1.0)
);

CREATE INDEX IF NOT EXISTS idx_provenance_consolidation ON provenance(consolidation_id, output_order);

CREATE TRIGGER IF NOT EXISTS documents_no_delete BEFORE DELETE ON documents
BEGIN
    SELECT RAISE(ABORT, 'documents are never deleted');
END;

CREATE TRIGGER IF NOT EXISTS documents_deprecation_terminal BEFORE UPDATE ON documents
WHEN OLD.deprecated_at IS NOT NULL
BEGIN
    SELECT RAISE(ABORT, 'deprecated documents are immutable');
END;

CREATE TRIGGER IF NOT EXISTS conflicts_no_delete BEFORE DELETE ON conflicts
BEGIN
    SELECT RAISE(ABORT, 'conflicts are never deleted');
END;

CREATE TRIGGER IF NOT EXISTS conflicts_terminal BEFORE UPDATE OF status ON conflicts
WHEN OLD.status IN ('resolved', 'ignored', 'escalated') AND NEW.status <> OLD.status
BEGIN
    SELECT RAISE(ABORT, 'conflict is in a terminal state');
END;

CREATE TRIGGER IF NOT EXISTS provenance_immutable BEFORE UPDATE ON provenance
BEGIN
    SELECT RAISE(ABORT, 'provenance is immutable');
END;

CREATE TRIGGER IF NOT EXISTS provenance_no_delete BEFORE DELETE ON provenance
BEGIN
    SELECT RAISE(ABORT, 'provenance is immutable');
END;

CREATE TRIGGER IF NOT EXISTS consolidations_immutable BEFORE UPDATE ON consolidations
BEGIN
    SELECT RAISE(ABORT, 'consolidations are immutable');
END;
`
