package health

import "errors"

// ErrUnhealthyReply is recorded when a peer answers the health probe with a
// status other than online.
var ErrUnhealthyReply = errors.New("peer reported unhealthy status")
