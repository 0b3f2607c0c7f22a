package db

const (
	jobTable          = "batch_job"
	neighborhoodTable = "neighborhood"
)

// SchemaSQL defines the batch job queue and the neighborhood dataset.
const SchemaSQL = `
    -- ==========================================================================
    -- BATCH JOBS
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS batch_job SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS type ON batch_job TYPE string
        ASSERT $value IN ["CityIngestion", "MapGeneration", "AllCitiesIngestion"];
    DEFINE FIELD IF NOT EXISTS target ON batch_job TYPE string;
    DEFINE FIELD IF NOT EXISTS status ON batch_job TYPE string
        ASSERT $value IN ["Pending", "Processing", "Completed", "Failed"];
    DEFINE FIELD IF NOT EXISTS progress ON batch_job TYPE int DEFAULT 0
        ASSERT $value >= 0 AND $value <= 100;
    DEFINE FIELD IF NOT EXISTS error ON batch_job TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS result_summary ON batch_job TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS execution_log ON batch_job TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS created_at ON batch_job TYPE datetime;
    DEFINE FIELD IF NOT EXISTS started_at ON batch_job TYPE option<datetime>;
    DEFINE FIELD IF NOT EXISTS completed_at ON batch_job TYPE option<datetime>;
    DEFINE FIELD IF NOT EXISTS heartbeat_at ON batch_job TYPE option<datetime>;
    DEFINE FIELD IF NOT EXISTS lease_id ON batch_job TYPE option<string>;

    -- Claim order and the executor's stale-lease scan.
    DEFINE INDEX IF NOT EXISTS batch_job_status_created ON batch_job FIELDS status, created_at;
    DEFINE INDEX IF NOT EXISTS batch_job_status_heartbeat ON batch_job FIELDS status, heartbeat_at;

    -- ==========================================================================
    -- NEIGHBORHOODS (record id is the CBS code)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS neighborhood SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS code ON neighborhood TYPE string;
    DEFINE FIELD IF NOT EXISTS name ON neighborhood TYPE string;
    DEFINE FIELD IF NOT EXISTS city ON neighborhood TYPE string;
    DEFINE FIELD IF NOT EXISTS type ON neighborhood TYPE string;
    DEFINE FIELD IF NOT EXISTS latitude ON neighborhood TYPE float;
    DEFINE FIELD IF NOT EXISTS longitude ON neighborhood TYPE float;
    DEFINE FIELD IF NOT EXISTS population_density ON neighborhood TYPE option<int>;
    DEFINE FIELD IF NOT EXISTS average_woz_value ON neighborhood TYPE option<float>;
    DEFINE FIELD IF NOT EXISTS crime_rate ON neighborhood TYPE option<float>;
    DEFINE FIELD IF NOT EXISTS livability_score ON neighborhood TYPE option<float>;
    DEFINE FIELD IF NOT EXISTS last_updated ON neighborhood TYPE datetime;

    DEFINE INDEX IF NOT EXISTS neighborhood_city ON neighborhood FIELDS city;
`
