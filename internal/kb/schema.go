package kb

// SchemaSQL contains the knowledge-base schema initialization SQL.
const SchemaSQL = `
    -- ==========================================================================
    -- ENTITY TABLE
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS entity SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS name ON entity TYPE string;
    DEFINE FIELD IF NOT EXISTS description ON entity TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS embedding ON entity TYPE array<float>;
    -- Incoming-link count from the source dump, used as a popularity signal
    DEFINE FIELD IF NOT EXISTS link_count ON entity TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS created ON entity TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS entity_name ON entity FIELDS name UNIQUE;
    DEFINE INDEX IF NOT EXISTS entity_embedding ON entity FIELDS embedding HNSW DIMENSION 384 DIST COSINE TYPE F32;
    DEFINE ANALYZER IF NOT EXISTS entity_analyzer TOKENIZERS class FILTERS lowercase, ascii, snowball(english);
    DEFINE INDEX IF NOT EXISTS entity_desc_ft ON entity FIELDS description FULLTEXT ANALYZER entity_analyzer BM25;

    -- ==========================================================================
    -- MENTION TABLE (surface form -> candidate entities with priors)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS mention SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS surface ON mention TYPE string;
    DEFINE FIELD IF NOT EXISTS candidates ON mention TYPE array<object>;
    DEFINE FIELD IF NOT EXISTS candidates.* ON mention TYPE object FLEXIBLE;  -- {entity, prior}
    DEFINE FIELD IF NOT EXISTS total_count ON mention TYPE int DEFAULT 0;

    DEFINE INDEX IF NOT EXISTS mention_surface ON mention FIELDS surface UNIQUE;
`
