package leader

import "github.com/metastorehq/metastore-client/internal/errs"

var errGrantFailed = errs.New(errs.CodeUnavailable, "failed to grant a lease for leader election", nil)
