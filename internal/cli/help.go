package cli

const rootLong = `crudstore - validated CRUD access to relational and document stores

Models are declared in a YAML file (see --models) and bound to one backend.
Every command takes the model name first, then field=value pairs.

GLOBAL FLAGS
  --config <file>           yaml, toml or json config file
  --backend sqlite|postgres|mongo|memory
  --sqlite-path <file.db>   --sqlite-driver sqlite|sqlite3
  --pg-dsn <dsn>            --pg-schema <name>
  --mongo-uri <uri>         --mongo-db <name>
  --models <file.yaml>      --actor <name>   --log-level <level>

Every flag can also be set through CRUDSTORE_* environment variables,
e.g. CRUDSTORE_SQLITE_PATH or CRUDSTORE_LOG_LEVEL.`
