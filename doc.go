package sqlmdb

/*
sqlmdb is the B-tree layer of an embedded SQL engine implemented on top of LMDB. The SQL engine keeps its tables and
indexes as B-trees addressed by small integer ids; sqlmdb maps each of them to a named LMDB database and translates the
engine's cursor, transaction and savepoint calls into LMDB operations.

The `sqlmdb` module is organized into the following packages:

* `kv/btree`: the adapter. Connections (`Btree`), the shared database registry, nested transactions used as
  savepoints, table management, cursors, the key/value encoding of index records and result code translation.
* `kv/record`: the SQL engine's record format, record comparison and memcomparable order keys.
* `kv/config`: engine and logging configuration, loaded from TOML.
* `kv/util/engine_util`: LMDB environment lifecycle, table naming, the meta blob and a database iterator.
* `kv/util/codec`: memcomparable encodings.
* `kv/sqlmdb-ctl`: a command line tool to inspect stores.
*/
