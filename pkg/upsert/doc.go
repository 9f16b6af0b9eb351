// Package upsert bulk-loads tabular data into a Postgres table with upsert
// semantics.
//
// Rows from a source (a delimited or binary stream, or another table) are
// streamed into a session-scoped staging table with COPY, then reconciled
// against the destination in two set-based statements keyed on a uniqueness
// key: an UPDATE of every matching destination row, followed by an INSERT of
// every staged row with no match (an anti-join). The staging table is dropped
// on every exit path.
//
// Typical usage:
//
//	conn, _ := pgx.Connect(ctx, dsn)
//	w := upsert.NewWriter(upsert.NewConn(conn))
//
//	f, _ := os.Open("users.csv")
//	defer f.Close()
//
//	res, err := w.Write(ctx,
//	    upsert.TableDestination("public.users"),
//	    upsert.ReaderSource(f),
//	    upsert.Options{UniqueKey: []string{"email"}},
//	)
//	if err != nil {
//	    // errors.Is(err, upsert.ErrKeyNotUnique) etc.
//	}
//	fmt.Println(res.Inserted, res.Updated)
//
// Source and destination kinds are chosen explicitly by constructor
// (ReaderSource, TableSource, ModelSource; TableDestination,
// ModelDestination). A Writer pins a single connection because the staging
// table is a TEMP table visible only to that session; table sources must use a
// different connection than the Writer.
package upsert
