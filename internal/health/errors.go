package health

import "github.com/metastorehq/metastore-client/internal/errs"

var errFailedToConnect = errs.New(errs.CodeUnavailable, "failed to connect to backend", nil)
