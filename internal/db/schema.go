package db

const ledgerTable = "action_ledger"

// SchemaSQL defines the action ledger. Record IDs are the ledger key string,
// so CREATE fails for an already reserved directive.
const SchemaSQL = `
    DEFINE TABLE IF NOT EXISTS action_ledger SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS conversation_id ON action_ledger TYPE string;
    DEFINE FIELD IF NOT EXISTS action ON action_ledger TYPE string ASSERT $value IN ["create_project", "create_task"];
    DEFINE FIELD IF NOT EXISTS fingerprint ON action_ledger TYPE string;
    DEFINE FIELD IF NOT EXISTS status ON action_ledger TYPE string ASSERT $value IN ["pending", "completed", "failed"];
    DEFINE FIELD IF NOT EXISTS result_entity_id ON action_ledger TYPE string DEFAULT "";
    DEFINE FIELD IF NOT EXISTS result_entity_kind ON action_ledger TYPE string DEFAULT "";
    DEFINE FIELD IF NOT EXISTS error ON action_ledger TYPE string DEFAULT "";
    DEFINE FIELD IF NOT EXISTS created ON action_ledger TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS updated ON action_ledger TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS action_ledger_key ON action_ledger FIELDS conversation_id, action, fingerprint UNIQUE;
    DEFINE INDEX IF NOT EXISTS action_ledger_conversation ON action_ledger FIELDS conversation_id;
`
